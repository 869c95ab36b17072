package llm

import (
	"context"

	"github.com/Morwran/yagpt"
	"github.com/pkg/errors"
)

type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init yandex iam")
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create iam token")
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init yagpt")
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	yaMsgs := make([]yagpt.Message, 0, len(messages))
	for _, m := range messages {
		yaMsgs = append(yaMsgs, yandexMessage(m))
	}

	resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, yaMsgs)
	if err != nil {
		return Response{}, errors.Wrap(err, "yagpt completion failed")
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, errors.New("yagpt returned empty response")
	}
	out := Response{Content: resp.Alternatives[0].Message.Content, Model: yagpt.YaModelLite}
	out.PromptTokens = int(resp.Usage.InputTextTokens)
	out.CompletionTokens = int(resp.Usage.CompletionTokens)
	out.TotalTokens = int(resp.Usage.TotalTokens)
	return out, nil
}

func yandexMessage(m Message) yagpt.Message {
	switch m.Role {
	case RoleSystem:
		return yagpt.Message{Role: "system", Content: m.Content}
	case RoleAssistant:
		return yagpt.Message{Role: "assistant", Content: m.Content}
	default:
		return yagpt.Message{Role: "user", Content: m.Content}
	}
}
