// Command sessions-report prints evaluation statistics from a session backup.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"therapy-bot/internal/analytics"
	"therapy-bot/internal/config"
	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/storage"
)

var (
	configPath string
	day        string
	asJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "sessions-report <conversations.json.sz>",
	Short: "Summarize the ratings stored in a session backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := storage.ReadFile(args[0])
		if err != nil {
			return err
		}

		// aspect order comes from the session config when given
		var aspects []evaluation.Aspect
		if configPath != "" {
			sess, err := config.LoadSession(configPath)
			if err != nil {
				return err
			}
			aspects = sess.Telegram.EvaluationAspects
		}
		report := analytics.AnalyzeAll(records, aspects)
		if day != "" {
			d, err := time.Parse("2006-01-02", day)
			if err != nil {
				return errors.Wrapf(err, "invalid --day %q", day)
			}
			report = analytics.AnalyzeDay(records, aspects, d)
		}

		out := report.Summary()
		if asJSON {
			if out, err = report.ToJSON(); err != nil {
				return errors.Wrap(err, "encode report")
			}
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "session configuration file")
	rootCmd.Flags().StringVar(&day, "day", "", "only sessions finished on this UTC day (YYYY-MM-DD)")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("report failed")
		os.Exit(1)
	}
}
