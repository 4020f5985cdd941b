package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	sent []*bot.SendMessageParams
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{ID: len(f.sent)}, nil
}

func newTestBot(m messenger) *Bot {
	return &Bot{api: m, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestSendNotification(t *testing.T) {
	m := &fakeMessenger{}
	b := newTestBot(m)

	require.NoError(t, b.SendNotification(context.Background(), -100123, "<b>paid</b>"))
	require.Len(t, m.sent, 1)

	p := m.sent[0]
	assert.Equal(t, int64(-100123), p.ChatID)
	assert.Equal(t, "<b>paid</b>", p.Text)
	assert.Equal(t, models.ParseModeHTML, p.ParseMode)
	require.NotNil(t, p.LinkPreviewOptions)
	assert.True(t, *p.LinkPreviewOptions.IsDisabled)
}

func TestSendNotification_Error(t *testing.T) {
	b := newTestBot(&fakeMessenger{err: errors.New("chat not found")})
	assert.EqualError(t, b.SendNotification(context.Background(), 1, "x"), "chat not found")
}

func TestStartHandler_RepliesWithChatID(t *testing.T) {
	m := &fakeMessenger{}
	b := newTestBot(m)

	b.startHandler(context.Background(), nil, &models.Update{
		Message: &models.Message{Chat: models.Chat{ID: 4242}, Text: "/start"},
	})

	require.Len(t, m.sent, 1)
	assert.Equal(t, int64(4242), m.sent[0].ChatID)
	assert.Contains(t, m.sent[0].Text, "<code>4242</code>")
}

func TestHandlersIgnoreEmptyUpdates(t *testing.T) {
	m := &fakeMessenger{}
	b := newTestBot(m)

	b.startHandler(context.Background(), nil, &models.Update{})
	b.defaultHandler(context.Background(), nil, &models.Update{})
	assert.Empty(t, m.sent)
}
