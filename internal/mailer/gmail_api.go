package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"leadgen-outreach-go/internal/config"
)

// GmailAPITransport sends through the Gmail REST API as the authorised user
type GmailAPITransport struct {
	name    string
	service *gmail.Service
	limiter *rate.Limiter
	cfg     config.ChannelConfig
}

// GmailOAuthConfig returns the OAuth2 client for a channel. SMTP channels need the
// full mail scope for XOAUTH; the REST transport only needs send.
func GmailOAuthConfig(cfg config.ChannelConfig, redirectURL string) *oauth2.Config {
	scopes := []string{gmail.GmailSendScope}
	if cfg.Transport == config.TransportSMTP {
		scopes = append(scopes, gmail.MailGoogleComScope)
	}
	return &oauth2.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

// GmailTokenSource builds a refreshing token source from the channel's OAuth settings
func GmailTokenSource(ctx context.Context, cfg config.ChannelConfig) oauth2.TokenSource {
	return GmailOAuthConfig(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.OAuth.RefreshToken})
}

// NewGmailAPITransport creates the transport. Without extra options the channel's
// refresh token authorises the calls.
func NewGmailAPITransport(ctx context.Context, name string, cfg config.ChannelConfig, opts ...option.ClientOption) (*GmailAPITransport, error) {
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithTokenSource(GmailTokenSource(ctx, cfg))}
	}
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &GmailAPITransport{
		name:    name,
		service: service,
		limiter: newLimiter(cfg),
		cfg:     cfg,
	}, nil
}

// Send uploads the composed message with users.messages.send
func (t *GmailAPITransport) Send(ctx context.Context, env Envelope) (Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, &TransportError{Channel: t.name, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	raw, messageID, err := Compose(env, timeNow())
	if err != nil {
		return Receipt{}, &TransportError{Channel: t.name, Err: err}
	}

	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := t.service.Users.Messages.Send("me", message).Context(ctx).Do()
	if err != nil {
		return Receipt{}, t.classify(err)
	}

	logrus.WithFields(logrus.Fields{
		"channel":  t.name,
		"gmail_id": sent.Id,
	}).Debug("Gmail API accepted message")
	return Receipt{MessageID: messageID, Response: "gmail id " + sent.Id}, nil
}

func (t *GmailAPITransport) classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return &AuthError{Channel: t.name, Err: err}
		}
		return &TransportError{Channel: t.name, Err: err}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &AuthError{Channel: t.name, Err: err}
	}
	return &TransportError{Channel: t.name, Err: err}
}
