package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"therapy-bot/internal/config"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenaiModel        string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
	GeminiAPIKey       string
	GeminiModel        string
	TranscriptionModel string
	SpeechModel        string
	SpeechVoice        string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenaiModel:        cfg.OpenAIModel,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		GeminiModel:        cfg.GeminiModel,
		TranscriptionModel: cfg.TranscriptionModel,
		SpeechModel:        cfg.SpeechModel,
		SpeechVoice:        cfg.SpeechVoice,
	}
}

func (f *Factory) CreateClient(ctx context.Context, provider string) (Client, error) {
	switch config.LLMProvider(strings.ToLower(provider)) {
	case config.ProviderOpenAI:
		if f.OpenaiAPIKey == "" {
			return nil, nil
		}
		return f.openAI(), nil
	case config.ProviderYandex:
		if f.YandexOAuthToken == "" {
			return nil, nil
		}
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	case config.ProviderGemini:
		if f.GeminiAPIKey == "" {
			return nil, nil
		}
		return NewGemini(ctx, f.GeminiAPIKey, f.GeminiModel)
	default:
		return nil, errors.Errorf("unknown llm provider: %s", provider)
	}
}

// Gateway assembles the backends the session config switched on. A toggle
// that is on but lacks credentials leaves the capability disabled.
func (f *Factory) Gateway(ctx context.Context, provider string, caps config.Capabilities, opts ...GatewayOption) (*Gateway, error) {
	if caps.Respond {
		c, err := f.CreateClient(ctx, provider)
		if err != nil {
			return nil, err
		}
		if c != nil {
			opts = append(opts, WithChat(c))
		}
	}
	// Speech goes through the OpenAI audio endpoints regardless of the chat provider.
	if f.OpenaiAPIKey != "" {
		speech := f.openAI()
		if caps.Transcribe {
			opts = append(opts, WithTranscriber(speech))
		}
		if caps.Synthesize {
			opts = append(opts, WithSynthesizer(speech))
		}
	}
	return NewGateway(opts...), nil
}

func (f *Factory) openAI() *OpenAIClient {
	return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, f.OpenaiModel, f.OpenRouterReferrer, f.OpenRouterTitle).
		WithSpeech(f.TranscriptionModel, f.SpeechModel, f.SpeechVoice)
}
