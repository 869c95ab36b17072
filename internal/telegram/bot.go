// Package telegram connects the session service to the Telegram Bot API.
package telegram

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"therapy-bot/internal/session"
)

const (
	reportCmd = "report"

	msgVoiceDownloadFailed = "I'm sorry, I could not download your voice message. You're welcome to write a text message."
	msgReportFailed        = "Report generation failed: "
)

// Handler processes one user action. See session.Service.
type Handler interface {
	Handle(ctx context.Context, userID int64, in session.Input) ([]session.Reply, error)
}

// Reporter renders the admin report.
type Reporter func(ctx context.Context) (string, error)

type Options struct {
	AdminUserID int64
	Report      Reporter
	// Guard, when set, lets the bot skip voice downloads for users the
	// handler will reject anyway.
	Guard         session.Guard
	RatingChoices []string
	// MaxConcurrent bounds updates handled at once across all users.
	MaxConcurrent int64
}

type Bot struct {
	api     *tgbotapi.BotAPI
	s       sender
	files   fetcher
	handler Handler

	adminUserID   int64
	report        Reporter
	guard         session.Guard
	ratingChoices []string

	dispatch *dispatcher
}

func New(botToken string, handler Handler, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, errors.Wrap(err, "connect to telegram")
	}
	log.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")
	client := botAPI{api: api, client: &http.Client{Timeout: time.Minute}}
	b := newBot(client, client, handler, opts)
	b.api = api
	return b, nil
}

func newBot(s sender, files fetcher, handler Handler, opts Options) *Bot {
	return &Bot{
		s:             s,
		files:         files,
		handler:       handler,
		adminUserID:   opts.AdminUserID,
		report:        opts.Report,
		guard:         opts.Guard,
		ratingChoices: opts.RatingChoices,
		dispatch:      newDispatcher(opts.MaxConcurrent),
	}
}

// Start polls for updates until ctx is done, then waits for in-flight
// updates to finish.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	log.Info().Msg("listening for updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.dispatch.wait()
			log.Info().Msg("stopped listening for updates")
			return
		case update, ok := <-updates:
			if !ok {
				b.dispatch.wait()
				return
			}
			b.route(ctx, update)
		}
	}
}

func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	b.dispatch.dispatch(ctx, msg.From.ID, func(ctx context.Context) {
		b.handleIncomingMessage(ctx, msg)
	})
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	var in session.Input
	switch {
	case msg.IsCommand():
		if msg.Command() == reportCmd && b.isAdmin(userID) {
			b.handleReportCommand(ctx, chatID)
			return
		}
		in = session.Command(msg.Command())
	case msg.Voice != nil:
		audio, err := b.downloadVoice(ctx, userID, msg.Voice.FileID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("voice download failed")
			b.sendMessage(chatID, msgVoiceDownloadFailed)
			return
		}
		in = session.Voice(audio)
	case msg.Text != "":
		in = session.Text(msg.Text)
	default:
		log.Debug().Int64("user_id", userID).Int("message_id", msg.MessageID).Msg("unsupported message ignored")
		return
	}

	replies, err := b.handler.Handle(ctx, userID, in)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("input", in.String()).Msg("handling failed")
	}
	for _, r := range replies {
		if _, err := b.s.Send(b.render(chatID, r)); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
		}
	}
}

// downloadVoice returns no audio for users the guard rejects; the handler
// drops and logs them.
func (b *Bot) downloadVoice(ctx context.Context, userID int64, fileID string) ([]byte, error) {
	if b.guard != nil && b.guard.Authorize(userID) != nil {
		return nil, nil
	}
	return b.files.Fetch(ctx, fileID)
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.adminUserID != 0 && userID == b.adminUserID
}

func (b *Bot) render(chatID int64, r session.Reply) tgbotapi.Chattable {
	if r.Voice != nil {
		return tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply.ogg", Bytes: r.Voice})
	}
	msg := tgbotapi.NewMessage(chatID, r.Text)
	switch r.Keyboard {
	case session.KeyboardRating:
		msg.ReplyMarkup = b.ratingKeyboard()
	case session.KeyboardRemove:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	return msg
}

func (b *Bot) ratingKeyboard() tgbotapi.ReplyKeyboardMarkup {
	row := make([]tgbotapi.KeyboardButton, 0, len(b.ratingChoices))
	for _, c := range b.ratingChoices {
		row = append(row, tgbotapi.NewKeyboardButton(c))
	}
	kb := tgbotapi.NewOneTimeReplyKeyboard(row)
	kb.ResizeKeyboard = true
	return kb
}

func (b *Bot) handleReportCommand(ctx context.Context, chatID int64) {
	if b.report == nil {
		b.sendMessage(chatID, msgReportFailed+"reports are not configured")
		return
	}
	text, err := b.report(ctx)
	if err != nil {
		log.Error().Err(err).Msg("report generation failed")
		b.sendMessage(chatID, msgReportFailed+err.Error())
		return
	}
	b.sendMessage(chatID, text)
}

// SendReport delivers the report to the admin; it is the scheduler's job.
func (b *Bot) SendReport(ctx context.Context) error {
	if b.adminUserID == 0 {
		log.Warn().Msg("no admin user configured, report skipped")
		return nil
	}
	if b.report == nil {
		return errors.New("reports are not configured")
	}
	text, err := b.report(ctx)
	if err != nil {
		return errors.Wrap(err, "generate report")
	}
	if _, err := b.s.Send(tgbotapi.NewMessage(b.adminUserID, text)); err != nil {
		return errors.Wrap(err, "send report")
	}
	log.Info().Int64("admin_id", b.adminUserID).Msg("report sent")
	return nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
