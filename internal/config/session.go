package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"therapy-bot/internal/evaluation"
)

const (
	DefaultRatingScale       = 5
	DefaultSelfSpeakerID     = "AI"
	DefaultOtherSpeakerID    = "User"
	DefaultGenerationTimeout = 60 * time.Second
	DefaultLogLevel          = "info"
)

// Session is the YAML file describing one session series: where artifacts
// go, which aspects are rated and which generative capabilities are on.
type Session struct {
	SessionsDirectoryPath string   `yaml:"sessions_directory_path"`
	SessionSeries         string   `yaml:"session_series"`
	SessionID             string   `yaml:"session_id"`
	LogLevel              string   `yaml:"log_level"`
	LogFile               bool     `yaml:"log_file"`
	Telegram              Telegram `yaml:"telegram"`
	Chatbot               Chatbot  `yaml:"chatbot"`
}

type Telegram struct {
	EvaluationAspects   []evaluation.Aspect `yaml:"evaluation_aspects"`
	AuthorisedUsersFile string              `yaml:"authorised_users_file"`
	RatingScale         int                 `yaml:"rating_scale"`
}

type Chatbot struct {
	SelfSpeakerID     string        `yaml:"self_speaker_id"`
	OtherSpeakerID    string        `yaml:"other_speaker_id"`
	Capabilities      Capabilities  `yaml:"capabilities"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

// Capabilities toggles each generative operation. Toggles left out of the
// file stay enabled; a backend still has to be configured for one to matter.
type Capabilities struct {
	Respond    bool `yaml:"respond"`
	Transcribe bool `yaml:"transcribe"`
	Synthesize bool `yaml:"synthesize"`
}

func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read session config %s", path)
	}
	return ParseSession(data)
}

func ParseSession(data []byte) (*Session, error) {
	s := &Session{
		LogLevel: DefaultLogLevel,
		Telegram: Telegram{RatingScale: DefaultRatingScale},
		Chatbot: Chatbot{
			SelfSpeakerID:     DefaultSelfSpeakerID,
			OtherSpeakerID:    DefaultOtherSpeakerID,
			Capabilities:      Capabilities{Respond: true, Transcribe: true, Synthesize: true},
			GenerationTimeout: DefaultGenerationTimeout,
		},
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "parse session config")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Validate() error {
	if s.SessionsDirectoryPath == "" {
		return errors.New("sessions_directory_path is required")
	}
	if s.SessionSeries == "" || s.SessionID == "" {
		return errors.New("session_series and session_id are required")
	}
	if s.Telegram.RatingScale < 2 {
		return errors.Errorf("rating_scale must be at least 2, got %d", s.Telegram.RatingScale)
	}
	seen := make(map[string]bool, len(s.Telegram.EvaluationAspects))
	for i, a := range s.Telegram.EvaluationAspects {
		if a.ID == "" {
			return errors.Errorf("evaluation aspect #%d has no id", i+1)
		}
		if seen[a.ID] {
			return errors.Errorf("duplicate evaluation aspect %q", a.ID)
		}
		seen[a.ID] = true
	}
	c := s.Chatbot
	if c.SelfSpeakerID == "" || c.OtherSpeakerID == "" || c.SelfSpeakerID == c.OtherSpeakerID {
		return errors.Errorf("speaker ids must be non-empty and distinct, got %q and %q", c.SelfSpeakerID, c.OtherSpeakerID)
	}
	if c.GenerationTimeout < 0 {
		return errors.New("generation_timeout must not be negative")
	}
	return nil
}
