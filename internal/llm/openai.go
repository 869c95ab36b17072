package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultTranscriptionModel = openai.Whisper1
	defaultSpeechModel        = string(openai.TTSModel1)
	defaultSpeechVoice        = string(openai.VoiceAlloy)
)

type OpenAIClient struct {
	client *openai.Client
	model  string

	transcriptionModel string
	speechModel        string
	speechVoice        string
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, model, referrer, title string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Inject optional headers (useful for OpenRouter)
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		base := http.DefaultTransport
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: base, headers: h}}
	}
	return &OpenAIClient{
		client:             openai.NewClientWithConfig(config),
		model:              model,
		transcriptionModel: defaultTranscriptionModel,
		speechModel:        defaultSpeechModel,
		speechVoice:        defaultSpeechVoice,
	}
}

// WithSpeech overrides the Whisper and TTS models. Empty values keep the defaults.
func (c *OpenAIClient) WithSpeech(transcriptionModel, speechModel, voice string) *OpenAIClient {
	if transcriptionModel != "" {
		c.transcriptionModel = transcriptionModel
	}
	if speechModel != "" {
		c.speechModel = speechModel
	}
	if voice != "" {
		c.speechVoice = voice
	}
	return c
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: oaMsgs,
	})
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to create chat completion")
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("chat completion returned no choices")
	}
	if resp.Choices[0].Message.Content == "" {
		return Response{}, errors.Errorf("chat completion returned empty content (finish reason %q)", resp.Choices[0].FinishReason)
	}

	out := Response{
		Content: resp.Choices[0].Message.Content,
		Model:   c.model,
	}
	out.PromptTokens = resp.Usage.PromptTokens
	out.CompletionTokens = resp.Usage.CompletionTokens
	out.TotalTokens = resp.Usage.TotalTokens
	return out, nil
}

// Transcribe sends the voice note to the Whisper endpoint. filename only
// carries the container hint (".ogg" for Telegram voice notes).
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create transcription")
	}
	return resp.Text, nil
}

// Synthesize renders text as Ogg/Opus, the format Telegram plays as a voice note.
// The OpenAI speech endpoint has no notion of dialogue, so it is ignored.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string, _ []Message) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.speechVoice),
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create speech")
	}
	defer func() { _ = resp.Close() }()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read speech")
	}
	return audio, nil
}
