package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
	ProviderGemini LLMProvider = "gemini"
)

// Config holds secrets and provider settings taken from the environment.
// Session behaviour lives in the YAML file, see Session.
type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	// Speech (OpenAI only)
	TranscriptionModel string `env:"OPENAI_TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	SpeechModel        string `env:"OPENAI_TTS_MODEL" envDefault:"tts-1"`
	SpeechVoice        string `env:"OPENAI_TTS_VOICE" envDefault:"alloy"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Reports
	ReportCron string `env:"REPORT_CRON" envDefault:"0 21 * * *"`

	// Dispatcher
	MaxConcurrentHandlers int64 `env:"MAX_CONCURRENT_HANDLERS" envDefault:"16"`
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if cfg.MaxConcurrentHandlers <= 0 {
		return nil, errors.Errorf("MAX_CONCURRENT_HANDLERS must be positive, got %d", cfg.MaxConcurrentHandlers)
	}
	return cfg, nil
}
