package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"leadgen-outreach-go/internal/config"
)

func gmailTestServer(t *testing.T, status int, captured *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages/send") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": status, "message": http.StatusText(status)},
			})
			return
		}
		var body struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, err := base64.URLEncoding.DecodeString(body.Raw)
		require.NoError(t, err)
		*captured = raw
		json.NewEncoder(w).Encode(map[string]string{"id": "18c0ffee", "threadId": "18c0ffee"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGmailTransport(t *testing.T, srv *httptest.Server) *GmailAPITransport {
	t.Helper()
	transport, err := NewGmailAPITransport(context.Background(), "gmail", config.ChannelConfig{From: "sales@gmail.com"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return transport
}

func TestGmailAPITransportSends(t *testing.T) {
	var raw []byte
	srv := gmailTestServer(t, http.StatusOK, &raw)
	transport := newTestGmailTransport(t, srv)

	receipt, err := transport.Send(context.Background(), testEnvelope("buyer@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "gmail id 18c0ffee", receipt.Response)
	assert.Contains(t, string(raw), receipt.MessageID)
	assert.Contains(t, string(raw), "To: <buyer@example.com>")
}

func TestGmailAPITransportUnauthorizedIsAuthError(t *testing.T) {
	var raw []byte
	srv := gmailTestServer(t, http.StatusUnauthorized, &raw)
	transport := newTestGmailTransport(t, srv)

	_, err := transport.Send(context.Background(), testEnvelope("buyer@example.com"))
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestGmailAPITransportBadRequestIsTransportError(t *testing.T) {
	var raw []byte
	srv := gmailTestServer(t, http.StatusBadRequest, &raw)
	transport := newTestGmailTransport(t, srv)

	_, err := transport.Send(context.Background(), testEnvelope("buyer@example.com"))
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
}

func TestGmailOAuthConfigScopes(t *testing.T) {
	smtpCfg := GmailOAuthConfig(config.ChannelConfig{Transport: config.TransportSMTP}, "")
	assert.Contains(t, smtpCfg.Scopes, gmail.MailGoogleComScope)

	apiCfg := GmailOAuthConfig(config.ChannelConfig{Transport: config.TransportGmailAPI}, "http://localhost:8080/callback")
	assert.Equal(t, []string{gmail.GmailSendScope}, apiCfg.Scopes)
	assert.Equal(t, "http://localhost:8080/callback", apiCfg.RedirectURL)
}
