package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"therapy-bot/internal/analytics"
	"therapy-bot/internal/auth"
	"therapy-bot/internal/config"
	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/history"
	"therapy-bot/internal/llm"
	"therapy-bot/internal/scheduler"
	"therapy-bot/internal/session"
	"therapy-bot/internal/storage"
	"therapy-bot/internal/telegram"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "therapy-bot",
	Short:         "Telegram chatbot that runs rated therapy conversations",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/session.yaml", "session configuration file")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "file with environment overrides")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("therapy-bot failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(envFile); err != nil {
		log.Warn().Err(err).Str("path", envFile).Msg(".env file not loaded")
	}

	cfg, err := config.New()
	if err != nil {
		return err
	}
	sess, err := config.LoadSession(configPath)
	if err != nil {
		return err
	}
	paths, err := sess.Prepare(time.Now().UTC())
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(sess.LogLevel, paths.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	log.Info().
		Str("series", sess.SessionSeries).
		Str("session", sess.SessionID).
		Str("dir", paths.Dir).
		Msg("starting session")
	if err := config.DumpConfig(configPath, paths.ConfigDump); err != nil {
		return err
	}

	authSvc, err := newAuth(cfg, sess)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(paths.Backup)
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return err
	}

	seq := evaluation.NewSequencer(sess.Telegram.EvaluationAspects, sess.Telegram.RatingScale)

	gateway, err := llm.NewFactory(cfg).Gateway(ctx, string(cfg.LLMProvider), sess.Chatbot.Capabilities,
		llm.WithSystemPrompt(readSystemPrompt(cfg.SystemPromptPath)),
		llm.WithTimeout(sess.Chatbot.GenerationTimeout),
	)
	if err != nil {
		return errors.Wrap(err, "create llm gateway")
	}
	log.Info().
		Str("provider", string(cfg.LLMProvider)).
		Bool("respond", gateway.CanRespond()).
		Bool("transcribe", gateway.CanTranscribe()).
		Bool("synthesize", gateway.CanSynthesize()).
		Msg("generative capabilities")

	svc := session.NewService(session.Deps{
		Guard:     authSvc,
		Generator: gateway,
		Store:     store,
		Sequencer: seq,
		Labels:    history.Labels{Self: sess.Chatbot.SelfSpeakerID, Other: sess.Chatbot.OtherSpeakerID},
	})

	bot, err := telegram.New(cfg.TelegramBotToken, svc, telegram.Options{
		AdminUserID:   cfg.AdminUserID,
		Report:        reporter(store, seq.Aspects()),
		Guard:         authSvc,
		RatingChoices: seq.Choices(),
		MaxConcurrent: cfg.MaxConcurrentHandlers,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(cfg.ReportCron, bot.SendReport)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	bot.Start(ctx)
	return nil
}

func newAuth(cfg *config.Config, sess *config.Session) (*auth.Service, error) {
	var repo auth.Repository
	if path := sess.Telegram.AuthorisedUsersFile; path != "" {
		r, err := auth.NewFileRepository(path)
		if err != nil {
			return nil, err
		}
		repo = r
	}
	svc, err := auth.NewWithRepo(repo, cfg.AllowedUsers)
	if err != nil {
		return nil, err
	}
	if svc.Restricted() {
		log.Info().Int("users", svc.Len()).Msg("access restricted to authorised users")
	} else {
		log.Warn().Msg("no authorised users configured, bot is open to everyone")
	}
	return svc, nil
}

// reporter summarizes today's sessions followed by the running totals.
func reporter(store *storage.FileStore, aspects []evaluation.Aspect) telegram.Reporter {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		records, err := store.Load()
		if err != nil {
			return "", err
		}
		today := analytics.AnalyzeDay(records, aspects, time.Now().UTC())
		total := analytics.AnalyzeAll(records, aspects)
		return today.Summary() + "\n\n" + total.Summary(), nil
	}
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("system prompt not loaded")
		return ""
	}
	return strings.TrimSpace(string(data))
}
