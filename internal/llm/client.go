package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client generates the next assistant turn for a chat context.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// Transcriber turns a recorded voice message into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer reads a response aloud. The dialogue preceding the response is
// passed along for backends that condition prosody on it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, dialogue []Message) ([]byte, error)
}
