package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"

	"github.com/stretchr/testify/require"
)

func TestDecodeBase64URL(t *testing.T) {
	plain := "Code: GP5X8YQ2M1N4"

	// 无填充（Gmail 正文的标准写法）
	raw := base64.RawURLEncoding.EncodeToString([]byte(plain))
	got, err := DecodeBase64URL(raw)
	require.NoError(t, err)
	require.Equal(t, plain, string(got))

	// 带填充也要兼容
	padded := base64.URLEncoding.EncodeToString([]byte(plain))
	got, err = DecodeBase64URL(padded)
	require.NoError(t, err)
	require.Equal(t, plain, string(got))

	_, err = DecodeBase64URL("!!!")
	require.Error(t, err)
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func newGmailFixture(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			require.NoError(t, r.ParseForm())
			require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			require.Equal(t, "rt-1", r.Form.Get("refresh_token"))
			fmt.Fprint(w, `{"access_token":"at-1","expires_in":3599}`)
			return
		}
		require.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewClient(&config.GmailConfig{
		TokenURL:     srv.URL + "/token",
		APIBaseURL:   srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-1",
	})
}

func TestMessagesSince(t *testing.T) {
	c := newGmailFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/me/history"):
			require.Equal(t, "424242", r.URL.Query().Get("startHistoryId"))
			fmt.Fprint(w, `{"history":[
				{"messagesAdded":[{"message":{"id":"msg-1"}}]},
				{"messagesAdded":[{"message":{"id":"msg-1"}},{"message":{"id":"msg-2"}}]}
			]}`)
		case r.URL.Path == "/users/me/messages/msg-1":
			fmt.Fprintf(w, `{"id":"msg-1","payload":{
				"mimeType":"multipart/alternative",
				"headers":[{"name":"From","value":"UniPlay <noreply@uniplay.id>"},{"name":"Subject","value":"Voucher Anda"}],
				"parts":[
					{"mimeType":"text/html","body":{"data":"%s"}},
					{"mimeType":"text/plain","body":{"data":"%s"}}
				]}}`, b64("<b>Code: HTML1234CODE</b>"), b64("Code: PLAIN123CODE"))
		case r.URL.Path == "/users/me/messages/msg-2":
			// 单封失败不应中断整批
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404}}`)
		default:
			t.Fatalf("未预期的请求路径: %s", r.URL.Path)
		}
	})

	messages, err := c.MessagesSince(context.Background(), "424242")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	require.Equal(t, "msg-1", msg.ID)
	require.Equal(t, "UniPlay <noreply@uniplay.id>", msg.From)
	require.Equal(t, "Voucher Anda", msg.Subject)
	// 正文优先取 text/plain
	require.Equal(t, "Code: PLAIN123CODE", msg.Body)
}

func TestMessagesSinceHTMLFallback(t *testing.T) {
	c := newGmailFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/users/me/history"):
			fmt.Fprint(w, `{"history":[{"messagesAdded":[{"message":{"id":"msg-html"}}]}]}`)
		default:
			fmt.Fprintf(w, `{"id":"msg-html","payload":{
				"mimeType":"text/html",
				"headers":[{"name":"From","value":"noreply@uniplay.id"}],
				"body":{"data":"%s"}}}`, b64("<p>Code: HTMLONLY1234</p>"))
		}
	})

	messages, err := c.MessagesSince(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "<p>Code: HTMLONLY1234</p>", messages[0].Body)
}

func TestMessagesSinceTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	c := NewClient(&config.GmailConfig{
		TokenURL:     srv.URL + "/token",
		APIBaseURL:   srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-revoked",
	})

	_, err := c.MessagesSince(context.Background(), "1")
	require.Error(t, err)
}
