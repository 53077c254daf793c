package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/client"
	"github.com/vovakirdan/colearn-server/internal/outputbus"
	"github.com/vovakirdan/colearn-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run creates a room with one participant, joins it with a second and checks
// that an edit from the first reaches the second. With -redis it also publishes
// a run output line on the output bus and waits for it to reach the room.
func run() error {
	addr := flag.String("addr", "ws://localhost:5000/ws", "gateway address")
	text := flag.String("text", "console.log('hello from smoke test')", "document text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	redisAddr := flag.String("redis", "", "redis address of the server's output bus (empty skips the output check)")
	prefix := flag.String("prefix", "colearn:output:", "output channel prefix")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	alice, err := client.Dial(ctx, client.Options{URL: *addr, DisplayName: "smoke-a"}, nil)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Printf("Created room %s\n", alice.RoomID())
	go func() { _ = alice.Run(ctx) }()
	defer alice.Close()

	received := make(chan string, 16)
	outputs := make(chan string, 16)
	bob, err := client.Dial(ctx, client.Options{
		URL:         *addr,
		RoomID:      alice.RoomID(),
		DisplayName: "smoke-b",
		OnMessage: func(msg proto.Message, _ client.State) {
			var ch chan string
			var got string
			switch m := msg.(type) {
			case *proto.Code:
				ch, got = received, m.Code
			case *proto.Output:
				ch, got = outputs, m.Message
			default:
				return
			}
			select {
			case ch <- got:
			default:
			}
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	go func() { _ = bob.Run(ctx) }()
	defer bob.Close()

	if err := alice.Do(ctx, func(s *client.Session) { s.EditDocument(*text) }); err != nil {
		return fmt.Errorf("edit: %w", err)
	}

	for {
		select {
		case got := <-received:
			if got != *text {
				continue
			}
			st, err := bob.State(ctx)
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}
			fmt.Printf("Edit delivered: room=%s members=%d document=%q\n", st.RoomID, len(st.Members), st.Document)
			if *redisAddr == "" {
				return nil
			}
			return checkOutputBus(ctx, *redisAddr, *prefix, alice.RoomID(), outputs)
		case <-ctx.Done():
			return fmt.Errorf("edit not delivered: %w", ctx.Err())
		}
	}
}

// checkOutputBus publishes one output line for roomID the way the execution
// worker does and waits for the server to fold it into the room.
func checkOutputBus(ctx context.Context, addr, prefix, roomID string, outputs <-chan string) error {
	logger := zerolog.Nop()
	bus, err := outputbus.New(ctx, outputbus.Options{Addr: addr, Prefix: prefix}, &logger)
	if err != nil {
		return fmt.Errorf("connect output bus: %w", err)
	}
	defer bus.Close()

	line := fmt.Sprintf("smoke output %d", time.Now().UnixNano())
	if err := bus.Publish(ctx, roomID, line); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}

	for {
		select {
		case got := <-outputs:
			if got != line {
				continue
			}
			fmt.Printf("Output delivered: room=%s line=%q\n", roomID, got)
			return nil
		case <-ctx.Done():
			return fmt.Errorf("output not delivered: %w", ctx.Err())
		}
	}
}
