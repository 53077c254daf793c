// Package client is the participant side of a room: a reconciler holding the
// local copy of the room state and a connection runner that feeds it.
package client

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vovakirdan/colearn-server/internal/execution"
	"github.com/vovakirdan/colearn-server/internal/proto"
	"github.com/vovakirdan/colearn-server/internal/tutor"
)

// Run button labels and the output lines shown for failed submissions.
const (
	LabelRun        = "Run Code"
	LabelSubmitting = "Submitting..."
	LabelCompiling  = "Compiling..."

	OutputRejected    = "Error submitting code. Please try again."
	OutputUnavailable = "Failed to connect to the execution server."

	TutorFailure = "There was an error connecting to the AI assistant. Please try again."
)

// Defaults of an untouched editor.
const (
	DefaultDocument = "// Write your code here..."
	DefaultLanguage = "javascript"
)

// Executor submits code for a run.
type Executor interface {
	Submit(ctx context.Context, sub execution.Submission) error
}

// Tutor answers questions about the current code.
type Tutor interface {
	Ask(ctx context.Context, sc tutor.Context, question string) (string, error)
}

// TutorMessage is one entry of the local tutoring transcript.
type TutorMessage struct {
	FromTutor bool
	Text      string
}

// State is a copy of everything a session holds.
type State struct {
	RoomID     string
	UserID     string
	Name       string
	Document   string
	Language   string
	Stdin      string
	RunStatus  proto.RunStatus
	Members    []proto.MemberInfo
	Output     []string
	Transcript []TutorMessage
	Errors     []string
}

// runPhase tracks a run started by this session.
type runPhase int

const (
	runIdle runPhase = iota
	runSubmitting
	runSubmittedWithOutput
	runAwaitingOutput
)

// Session reconciles one participant's view of a room. Inbound updates are
// applied silently; only local edits go upstream, once per distinct value.
// A Session is not safe for concurrent use; Conn drives it from one goroutine.
type Session struct {
	roomID string
	userID string
	name   string

	document  string
	language  string
	stdin     string
	runStatus proto.RunStatus
	cursor    *proto.Cursor
	members   []proto.MemberInfo

	output     []string
	transcript []TutorMessage
	errors     []string

	run runPhase

	send func(proto.Message)
}

// NewSession creates a session with an untouched editor. send queues a frame
// for the server and must not block.
func NewSession(roomID, userID, name string, send func(proto.Message)) *Session {
	return &Session{
		roomID:    roomID,
		userID:    userID,
		name:      name,
		document:  DefaultDocument,
		language:  DefaultLanguage,
		runStatus: proto.RunStatus{Label: LabelRun},
		send:      send,
	}
}

// Start asks for the roster and a full snapshot so a late joiner converges
// without waiting for the next edit.
func (s *Session) Start() {
	s.send(&proto.RequestToGetUsers{UserID: s.userID})
	s.send(&proto.RequestForAllData{})
}

// Handle applies one inbound frame.
func (s *Session) Handle(msg proto.Message) error {
	switch m := msg.(type) {
	case *proto.RoomID:
		s.roomID = m.RoomID

	case *proto.Users:
		s.members = slices.Clone(m.Members)

	case *proto.Code:
		s.document = m.Code

	case *proto.Input:
		s.stdin = m.Input

	case *proto.Language:
		s.language = m.Language

	case *proto.SubmitBtnStatus:
		s.runStatus = proto.RunStatus{Label: m.Value, Busy: m.IsLoading}

	case *proto.CursorPosition:
		for i := range s.members {
			if s.members[i].ID == m.UserID {
				cur := m.CursorPosition
				s.members[i].Cursor = &cur
			}
		}

	case *proto.Output:
		s.output = append(s.output, m.Message)
		switch s.run {
		case runSubmitting:
			s.run = runSubmittedWithOutput
		case runAwaitingOutput:
			s.run = runIdle
			s.SetRunStatus(LabelRun, false)
		}

	case *proto.RequestForAllData:
		s.send(&proto.AllData{
			Document:   s.document,
			Stdin:      s.stdin,
			LanguageID: s.language,
			RunStatus:  s.runStatus,
			UserID:     m.UserID,
		})

	case *proto.AllData:
		if s.userID == "" {
			s.userID = m.UserID
		}
		s.document = m.Document
		s.stdin = m.Stdin
		s.language = m.LanguageID
		s.runStatus = m.RunStatus

	case *proto.Error:
		s.errors = append(s.errors, m.Message)

	case *proto.RequestToGetUsers:
		return fmt.Errorf("unexpected %s from server", msg.Type())

	default:
		return fmt.Errorf("unhandled message type %s", msg.Type())
	}
	return nil
}

// EditDocument records a local document edit. It reports whether a frame was sent.
func (s *Session) EditDocument(text string) bool {
	if text == s.document {
		return false
	}
	s.document = text
	s.send(&proto.Code{Code: text, RoomID: s.roomID})
	return true
}

// EditStdin records a local stdin edit.
func (s *Session) EditStdin(text string) bool {
	if text == s.stdin {
		return false
	}
	s.stdin = text
	s.send(&proto.Input{Input: text, RoomID: s.roomID})
	return true
}

// SetLanguage records a local language change.
func (s *Session) SetLanguage(language string) bool {
	if language == s.language {
		return false
	}
	s.language = language
	s.send(&proto.Language{Language: language, RoomID: s.roomID})
	return true
}

// MoveCursor reports the local caret position.
func (s *Session) MoveCursor(cur proto.Cursor) bool {
	if s.cursor != nil && *s.cursor == cur {
		return false
	}
	s.cursor = &cur
	s.send(&proto.CursorPosition{UserID: s.userID, CursorPosition: cur})
	return true
}

// SetRunStatus changes the shared run button.
func (s *Session) SetRunStatus(label string, busy bool) bool {
	status := proto.RunStatus{Label: label, Busy: busy}
	if status == s.runStatus {
		return false
	}
	s.runStatus = status
	s.send(&proto.SubmitBtnStatus{Value: label, IsLoading: busy, RoomID: s.roomID})
	return true
}

// ClearOutput empties the local output panel.
func (s *Session) ClearOutput() {
	s.output = nil
}

// BeginRun marks the room busy, clears local output and returns the
// submission to send.
func (s *Session) BeginRun() execution.Submission {
	s.SetRunStatus(LabelSubmitting, true)
	s.ClearOutput()
	s.run = runSubmitting
	return execution.Submission{
		Code:     s.document,
		Language: s.language,
		RoomID:   s.roomID,
		Input:    s.stdin,
	}
}

// FinishRun applies the result of a submission started by BeginRun.
func (s *Session) FinishRun(err error) {
	early := s.run == runSubmittedWithOutput
	s.run = runIdle

	if err != nil && !errors.Is(err, execution.ErrRejected) {
		s.output = append(s.output, OutputUnavailable)
		s.SetRunStatus(LabelRun, false)
		return
	}

	s.SetRunStatus(LabelCompiling, true)
	if err != nil {
		s.output = append(s.output, OutputRejected)
		s.SetRunStatus(LabelRun, false)
		return
	}
	if early {
		// The worker answered before the submission returned.
		s.SetRunStatus(LabelRun, false)
		return
	}
	s.run = runAwaitingOutput
}

// Run submits the document and waits for the submission, not its output.
func (s *Session) Run(ctx context.Context, ex Executor) {
	sub := s.BeginRun()
	s.FinishRun(ex.Submit(ctx, sub))
}

// BeginAsk records the question and returns the context to send with it.
func (s *Session) BeginAsk(question string) tutor.Context {
	s.transcript = append(s.transcript, TutorMessage{Text: question})
	return tutor.Context{
		Language: s.language,
		Code:     s.document,
		Input:    s.stdin,
		Output:   slices.Clone(s.output),
	}
}

// FinishAsk records the tutor's reply. Failures become a visible message.
func (s *Session) FinishAsk(reply string, err error) {
	if err != nil {
		reply = TutorFailure
	}
	s.transcript = append(s.transcript, TutorMessage{FromTutor: true, Text: reply})
}

// AskTutor asks t about the current code. The exchange stays local.
func (s *Session) AskTutor(ctx context.Context, t Tutor, question string) {
	sc := s.BeginAsk(question)
	reply, err := t.Ask(ctx, sc, question)
	s.FinishAsk(reply, err)
}

// State returns a copy of the session.
func (s *Session) State() State {
	return State{
		RoomID:     s.roomID,
		UserID:     s.userID,
		Name:       s.name,
		Document:   s.document,
		Language:   s.language,
		Stdin:      s.stdin,
		RunStatus:  s.runStatus,
		Members:    slices.Clone(s.members),
		Output:     slices.Clone(s.output),
		Transcript: slices.Clone(s.transcript),
		Errors:     slices.Clone(s.errors),
	}
}
