package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"

	"github.com/stretchr/testify/require"
)

func TestSendSuccess(t *testing.T) {
	var gotAuth string
	var gotReq sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"status":true}`)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(&config.WhatsAppConfig{BaseURL: srv.URL, Token: "wa-token"})
	err := c.Send(context.Background(), "628123456789", "您的订单已完成")
	require.NoError(t, err)
	require.Equal(t, "wa-token", gotAuth)
	require.Equal(t, "628123456789", gotReq.Target)
	require.Equal(t, "您的订单已完成", gotReq.Message)
}

func TestSendGatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 但网关业务失败
		fmt.Fprint(w, `{"status":false,"reason":"invalid number"}`)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(&config.WhatsAppConfig{BaseURL: srv.URL, Token: "wa-token"})
	err := c.Send(context.Background(), "0", "测试")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid number")
}

func TestSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWhatsAppClient(&config.WhatsAppConfig{BaseURL: srv.URL, Token: "wa-token"})
	require.Error(t, c.Send(context.Background(), "628123456789", "测试"))
}
