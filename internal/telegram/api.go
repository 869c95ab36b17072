package telegram

import (
	"context"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Voice notes are short; anything larger is not a voice note.
const maxVoiceBytes = 20 << 20

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

type botAPI struct {
	api    *tgbotapi.BotAPI
	client *http.Client
}

func (b botAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return b.api.Send(c)
}

// Fetch downloads a file the user sent, honoring ctx.
func (b botAPI) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve file link")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build download request")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "download file")
		}
		// the error text carries the bot token in the URL
		return nil, errors.New("download file: request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	if len(data) > maxVoiceBytes {
		return nil, errors.Errorf("download file: larger than %d bytes", maxVoiceBytes)
	}
	return data, nil
}
