package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/vovakirdan/colearn-server/internal/client"
	"github.com/vovakirdan/colearn-server/internal/execution"
	"github.com/vovakirdan/colearn-server/internal/proto"
	"github.com/vovakirdan/colearn-server/internal/tutor"
)

const help = `Commands:
  /code <text>      replace the document
  /input <text>     replace stdin
  /lang <name>      change the language
  /cursor <l> <c>   move your cursor
  /run              submit the document for execution
  /ask <question>   ask the tutor about the code
  /state            print the local room state
Ctrl+C to exit.`

func main() {
	if err := run(); err != nil {
		log.Printf("ws_pair: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:5000/ws", "gateway address")
	name := flag.String("name", "cli-user", "display name")
	room := flag.String("room", "", "room id to join (blank creates a room)")
	userID := flag.String("user-id", "", "stable user id (blank lets the server assign one)")
	execURL := flag.String("exec-url", execution.DefaultURL, "execution service submit url")
	tutorKey := flag.String("tutor-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, client.Options{
		URL:         *addr,
		RoomID:      *room,
		UserID:      *userID,
		DisplayName: *name,
		OnMessage:   printMessage,
	}, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Joined room %s as %s\n%s\n", conn.RoomID(), *name, help)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	exec := execution.New(*execURL, 0)
	assistant := tutor.New(tutor.Options{APIKey: *tutorKey})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return conn.Close()
			}
			if err := handleLine(ctx, conn, exec, assistant, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Println(err)
			}
		}
	}
}

func handleLine(ctx context.Context, conn *client.Conn, exec *execution.Client, assistant *tutor.Client, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return nil
	case "/code":
		return conn.Do(ctx, func(s *client.Session) { s.EditDocument(strings.ReplaceAll(arg, `\n`, "\n")) })
	case "/input":
		return conn.Do(ctx, func(s *client.Session) { s.EditStdin(arg) })
	case "/lang":
		return conn.Do(ctx, func(s *client.Session) { s.SetLanguage(arg) })
	case "/cursor":
		fields := strings.Fields(arg)
		if len(fields) != 2 {
			return errors.New("usage: /cursor <line> <column>")
		}
		line, err1 := strconv.Atoi(fields[0])
		col, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return errors.New("usage: /cursor <line> <column>")
		}
		return conn.Do(ctx, func(s *client.Session) { s.MoveCursor(proto.Cursor{LineNumber: line, Column: col}) })
	case "/run":
		return conn.RunCode(ctx, exec)
	case "/ask":
		return conn.AskTutor(ctx, assistant, arg)
	case "/state":
		st, err := conn.State(ctx)
		if err != nil {
			return err
		}
		printState(st)
		return nil
	default:
		fmt.Println(help)
		return nil
	}
}

func printMessage(msg proto.Message, st client.State) {
	switch m := msg.(type) {
	case *proto.Users:
		names := make([]string, 0, len(m.Members))
		for _, member := range m.Members {
			names = append(names, member.Name)
		}
		fmt.Printf("[members] %s\n", strings.Join(names, ", "))
	case *proto.Code:
		fmt.Printf("[code]\n%s\n", m.Code)
	case *proto.Input:
		fmt.Printf("[input] %q\n", m.Input)
	case *proto.Language:
		fmt.Printf("[language] %s\n", m.Language)
	case *proto.SubmitBtnStatus:
		fmt.Printf("[run] %s\n", m.Value)
	case *proto.Output:
		fmt.Printf("[output] %s\n", m.Message)
	case *proto.AllData:
		fmt.Printf("[sync] %s, %d bytes of code\n", st.Language, len(st.Document))
	case *proto.Error:
		fmt.Printf("[error] %s\n", m.Message)
	}
}

func printState(st client.State) {
	fmt.Printf("room %s, you are %s (%s)\n", st.RoomID, st.Name, st.UserID)
	fmt.Printf("language: %s, run: %s\n", st.Language, st.RunStatus.Label)
	fmt.Printf("document:\n%s\n", st.Document)
	fmt.Printf("stdin: %q\n", st.Stdin)
	for _, line := range st.Output {
		fmt.Printf("> %s\n", line)
	}
	for _, m := range st.Transcript {
		who := "you"
		if m.FromTutor {
			who = "tutor"
		}
		fmt.Printf("%s: %s\n", who, m.Text)
	}
}
