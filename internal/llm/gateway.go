package llm

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrCapabilityDisabled means no backend is configured for the requested operation.
	ErrCapabilityDisabled = errors.New("capability disabled")
	// ErrGenerationTimeout means the backend did not answer within the configured bound.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrEmptyResponse means the backend answered with no text.
	ErrEmptyResponse = errors.New("empty response")
)

// Gateway is the bot's single entry to text and speech generation. Each of
// the three backends is optional.
type Gateway struct {
	chat         Client
	asr          Transcriber
	tts          Synthesizer
	systemPrompt string
	timeout      time.Duration
}

type GatewayOption func(*Gateway)

func WithChat(c Client) GatewayOption { return func(g *Gateway) { g.chat = c } }

func WithTranscriber(t Transcriber) GatewayOption { return func(g *Gateway) { g.asr = t } }

func WithSynthesizer(s Synthesizer) GatewayOption { return func(g *Gateway) { g.tts = s } }

func WithSystemPrompt(p string) GatewayOption { return func(g *Gateway) { g.systemPrompt = p } }

// WithTimeout bounds every backend call. Zero means unbounded.
func WithTimeout(d time.Duration) GatewayOption { return func(g *Gateway) { g.timeout = d } }

func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) CanRespond() bool    { return g.chat != nil }
func (g *Gateway) CanTranscribe() bool { return g.asr != nil }
func (g *Gateway) CanSynthesize() bool { return g.tts != nil }

// Respond generates the bot's next utterance for the given dialogue.
func (g *Gateway) Respond(ctx context.Context, dialogue []Message) (Response, error) {
	if g.chat == nil {
		return Response{}, errors.Wrap(ErrCapabilityDisabled, "text generation is not enabled in the current configuration")
	}
	msgs := dialogue
	if g.systemPrompt != "" {
		msgs = make([]Message, 0, len(dialogue)+1)
		msgs = append(msgs, Message{Role: RoleSystem, Content: g.systemPrompt})
		msgs = append(msgs, dialogue...)
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()
	resp, err := g.chat.Generate(ctx, msgs)
	if err != nil {
		return Response{}, g.classify(ctx, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Response{}, errors.Wrapf(ErrEmptyResponse, "model %s", resp.Model)
	}
	return resp, nil
}

func (g *Gateway) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if g.asr == nil {
		return "", errors.Wrap(ErrCapabilityDisabled, "speech recognition is not enabled in the current configuration")
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	text, err := g.asr.Transcribe(ctx, audio, filename)
	return text, g.classify(ctx, err)
}

func (g *Gateway) Synthesize(ctx context.Context, text string, dialogue []Message) ([]byte, error) {
	if g.tts == nil {
		return nil, errors.Wrap(ErrCapabilityDisabled, "speech synthesis is not enabled in the current configuration")
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	audio, err := g.tts.Synthesize(ctx, text, dialogue)
	return audio, g.classify(ctx, err)
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(ErrGenerationTimeout, err.Error())
	}
	return err
}
