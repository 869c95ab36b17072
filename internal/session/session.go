// Package session runs the per-user conversation protocol:
// Idle → Chat → Evaluate → Idle, with /stop leaving it from anywhere.
package session

import (
	"context"
	"fmt"
	"time"

	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/history"
	"therapy-bot/internal/llm"
	"therapy-bot/internal/storage"
)

type State int

const (
	StateStopped State = iota
	StateIdle
	StateChat
	StateEvaluate
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateChat:
		return "chat"
	case StateEvaluate:
		return "evaluate"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	CmdStart = "start"
	CmdBegin = "begin"
	CmdEnd   = "end"
	CmdStop  = "stop"
)

type InputKind int

const (
	InputCommand InputKind = iota + 1
	InputText
	InputVoice
)

// Input is one user action as delivered by the transport.
type Input struct {
	Kind    InputKind
	Command string
	Text    string
	Audio   []byte
}

func Command(name string) Input { return Input{Kind: InputCommand, Command: name} }

func Text(text string) Input { return Input{Kind: InputText, Text: text} }

func Voice(audio []byte) Input { return Input{Kind: InputVoice, Audio: audio} }

func (in Input) is(cmd string) bool { return in.Kind == InputCommand && in.Command == cmd }

func (in Input) String() string {
	switch in.Kind {
	case InputCommand:
		return "/" + in.Command
	case InputText:
		return "text"
	case InputVoice:
		return "voice"
	default:
		return "unknown"
	}
}

type Keyboard int

const (
	KeyboardNone Keyboard = iota
	// KeyboardRating asks the transport for a one-time keyboard with the rating choices.
	KeyboardRating
	KeyboardRemove
)

// Reply is one outbound message. Voice, when set, is Ogg/Opus audio.
type Reply struct {
	Text     string
	Voice    []byte
	Keyboard Keyboard
}

// Guard rejects users outside the authorization set with an error wrapping
// auth.ErrUnauthorized.
type Guard interface {
	Authorize(userID int64) error
}

// Generator is the capability-gated text and speech backend. Disabled
// operations fail with llm.ErrCapabilityDisabled.
type Generator interface {
	Respond(ctx context.Context, dialogue []llm.Message) (llm.Response, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	Synthesize(ctx context.Context, text string, dialogue []llm.Message) ([]byte, error)
}

type Store interface {
	Append(record storage.Record) error
}

// Snapshot is a copy of one user's session state.
type Snapshot struct {
	State        State
	StartedAt    time.Time
	Conversation []history.Utterance
	Evaluation   evaluation.Record
	Prompt       *evaluation.Aspect
}
