package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alvent88/TopAsli-Voucher-sub000/internal/config"

	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return NewClient(&config.ProviderConfig{
		BaseURL:        baseURL,
		APIKey:         "test-api-key",
		Timezone:       "Asia/Jakarta",
		TimeoutSeconds: 5,
	})
}

func TestSignDeterministic(t *testing.T) {
	c := testClient("http://example.invalid")
	body := []byte(`{"api_key":"test-api-key","timestamp":"2026-01-15 10:00:00"}`)

	sig1 := c.Sign(body)
	sig2 := c.Sign(body)
	require.Equal(t, sig1, sig2)
	require.Len(t, sig1, 128) // SHA-512 hex

	// 与独立计算的参考值一致
	mac := hmac.New(sha512.New, []byte("test-api-key|"+string(body)))
	mac.Write(body)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig1)

	// 改动一个字节签名必变
	other := append([]byte{}, body...)
	other[0] = '['
	require.NotEqual(t, sig1, c.Sign(other))
}

// tokenThen 构造一个先吐 token、再按 handler 响应业务请求的假供应商
func tokenThen(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			fmt.Fprint(w, `{"status":"200","message":"ok","data":{"access_token":"tok-123","expires_in":600}}`)
			return
		}
		handler(w, r)
	}))
}

func TestInquirySuccess(t *testing.T) {
	var gotSignature, gotToken string
	var gotBody []byte

	srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/inquiry", r.URL.Path)
		gotSignature = r.Header.Get("UPL-SIGNATURE")
		gotToken = r.Header.Get("UPL-ACCESS-TOKEN")
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"status":"200","message":"ok","data":{"inquiry_id":"INQ-42","username":"PlayerOne","price":25000}}`)
	})
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Inquiry(context.Background(), "ml-86dm", "123456789", "8888")
	require.NoError(t, err)
	require.Equal(t, "INQ-42", result.InquiryID)
	require.Equal(t, "PlayerOne", result.Username)
	require.Equal(t, int64(25000), result.Price)

	// 服务端按同样规则重算签名必须一致
	require.Equal(t, "tok-123", gotToken)
	require.Equal(t, c.Sign(gotBody), gotSignature)

	// 请求体字段顺序固定
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &fields))
	require.Equal(t, "test-api-key", fields["api_key"])
	require.Equal(t, "ml-86dm", fields["package_code"])
}

func TestConfirmSuccess(t *testing.T) {
	srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/confirm", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &fields))
		require.Equal(t, "INQ-42", fields["inquiry_id"])
		require.Equal(t, "TOP20260830000000000001", fields["partner_ref"])
		fmt.Fprint(w, `{"status":"200","message":"ok","data":{"order_ref":"UPL-REF-777"}}`)
	})
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Confirm(context.Background(), "INQ-42", "TOP20260830000000000001")
	require.NoError(t, err)
	require.Equal(t, "UPL-REF-777", result.OrderRef)
}

func TestBodyStatusOverridesHTTPStatus(t *testing.T) {
	// HTTP 200 但响应体 status=400：必须判失败
	srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"400","message":"invalid signature"}`)
	})
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Inquiry(context.Background(), "ml-86dm", "123456789", "")
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.ErrorIs(t, err, ErrRejected)
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		status string
		want   error
	}{
		{"300", ErrInvalidAPIKey},
		{"400", ErrInvalidSignature},
		{"500", ErrMissingSignature},
		{"600", ErrExpiredTimestamp},
		{"700", ErrMissingAccessToken},
		{"2000", ErrInvalidAccessToken},
		{"2100", ErrResellerInactive},
		{"2200", ErrResellerSuspended},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"status":"%s","message":"rejected"}`, tc.status)
			})
			defer srv.Close()

			c := testClient(srv.URL)
			_, err := c.Confirm(context.Background(), "INQ-1", "REF-1")
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestUnknownStatusStillRejected(t *testing.T) {
	srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"9999","message":"mystery"}`)
	})
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Confirm(context.Background(), "INQ-1", "REF-1")
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "9999")
}

func TestTransportErrorIsNotRejection(t *testing.T) {
	srv := tokenThen(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close() // 立即关掉，模拟连不上

	c := testClient(srv.URL)
	_, err := c.Confirm(context.Background(), "INQ-1", "REF-1")
	require.Error(t, err)
	// 网络错误绝不能被误判为供应商拒绝
	require.NotErrorIs(t, err, ErrRejected)
}

func TestGetAccessTokenMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"200","message":"ok","data":{}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetAccessToken(context.Background())
	require.Error(t, err)
}
