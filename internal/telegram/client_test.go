package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI is an httptest Bot API that records calls and replies from a script.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	server *httptest.Server
	// reply returns the envelope for a method; nil means {"ok":true,"result":true}.
	reply func(method string) string
}

type apiCall struct {
	Path   string
	Method string
	Body   map[string]interface{}
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Path: r.URL.Path, Method: method, Body: body})
		reply := f.reply
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if reply != nil {
			if out := reply(method); out != "" {
				_, _ = io.WriteString(w, out)
				return
			}
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) client() *Client {
	return NewClient(f.server.URL, "123:secret", 0)
}

func (f *fakeBotAPI) recorded() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func TestClient_SendMessage(t *testing.T) {
	api := newFakeBotAPI(t)
	api.reply = func(string) string {
		return `{"ok":true,"result":{"message_id":42,"chat":{"id":-100,"type":"group"},"text":"hi"}}`
	}

	msg, err := api.client().SendMessage(context.Background(), -100, "<b>hi</b>", &SendMessageOptions{
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{{Text: "ok", CallbackData: "view_1"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.MessageID)
	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/bot123:secret/sendMessage", calls[0].Path)
	assert.Equal(t, float64(-100), calls[0].Body["chat_id"])
	assert.Equal(t, "HTML", calls[0].Body["parse_mode"])
	assert.NotNil(t, calls[0].Body["reply_markup"])
}

func TestClient_APIError(t *testing.T) {
	api := newFakeBotAPI(t)
	api.reply = func(string) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`
	}

	err := api.client().AnswerCallbackQuery(context.Background(), "cb1", "done")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "answerCallbackQuery", apiErr.Method)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestClient_SetAndGetWebhook(t *testing.T) {
	api := newFakeBotAPI(t)
	api.reply = func(method string) string {
		if method == "getWebhookInfo" {
			return `{"ok":true,"result":{"url":"https://adopta.example.com/telegram/webhook","pending_update_count":2}}`
		}
		return ""
	}
	c := api.client()

	require.NoError(t, c.SetWebhook(context.Background(), "https://adopta.example.com/telegram/webhook", "s3cret"))
	info, err := c.GetWebhookInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://adopta.example.com/telegram/webhook", info.URL)
	assert.Equal(t, 2, info.PendingUpdateCount)

	calls := api.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "setWebhook", calls[0].Method)
	assert.Equal(t, "s3cret", calls[0].Body["secret_token"])
	assert.ElementsMatch(t, []interface{}{"message", "callback_query"}, calls[0].Body["allowed_updates"])
}

func TestClient_TransportErrorHidesToken(t *testing.T) {
	api := newFakeBotAPI(t)
	c := api.client()
	api.server.Close()

	err := c.EditMessageText(context.Background(), 1, 2, "x", nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
}

func TestClient_ThrottleHonoursContext(t *testing.T) {
	api := newFakeBotAPI(t)
	c := NewClient(api.server.URL, "t", 0.001)
	require.NoError(t, c.AnswerCallbackQuery(context.Background(), "a", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.AnswerCallbackQuery(ctx, "b", "")
	assert.Error(t, err)
	assert.Len(t, api.recorded(), 1)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", "t", 0)
	assert.Equal(t, DefaultAPIBaseURL, c.baseURL)

	c = NewClient("http://bot.local/", "t", 5)
	assert.Equal(t, "http://bot.local", c.baseURL)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "Cats &amp; Dogs &lt;b&gt;", escape("Cats & Dogs <b>"))
}
