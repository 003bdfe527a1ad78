package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type recorder struct {
	n   int
	err error
}

func (r *recorder) Send(context.Context, string, string) error {
	r.n++
	return r.err
}

func TestMulti_TriesEveryNotifier(t *testing.T) {
	a := &recorder{err: errors.New("a down")}
	b := &recorder{}
	c := &recorder{err: errors.New("c down")}

	err := Multi{a, nil, b, c}.Send(context.Background(), "t", "x")
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
	assert.Equal(t, 1, c.n)
}

func TestLog_NeverFails(t *testing.T) {
	assert.NoError(t, Log{}.Send(context.Background(), "t", "x"))
}

func TestTelegram_SendsToChat(t *testing.T) {
	var path, body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer ts.Close()

	tg, err := NewTelegram("123:abc", 42, bot.WithServerURL(ts.URL))
	require.NoError(t, err)
	require.NotNil(t, tg)

	require.NoError(t, tg.Send(context.Background(), "Monitor DOWN", "api: connection refused"))
	assert.True(t, strings.HasSuffix(path, "/sendMessage"), path)
	assert.Contains(t, body, "api: connection refused")
	assert.Contains(t, body, "42")
}

func TestTelegram_DisabledWithoutCredentials(t *testing.T) {
	tg, err := NewTelegram("", 42)
	require.NoError(t, err)
	assert.Nil(t, tg)
	assert.Error(t, tg.Send(context.Background(), "t", "x"))
}
