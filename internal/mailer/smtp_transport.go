package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"leadgen-outreach-go/internal/config"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport delivers through an SMTP submission server
type SMTPTransport struct {
	name      string
	cfg       config.ChannelConfig
	limiter   *rate.Limiter
	tokens    oauth2.TokenSource
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewSMTPTransport creates a transport for one channel. A non-nil token source switches
// authentication from PLAIN to OAUTHBEARER.
func NewSMTPTransport(name string, cfg config.ChannelConfig, tokens oauth2.TokenSource) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	return &SMTPTransport{
		name:      name,
		cfg:       cfg,
		limiter:   newLimiter(cfg),
		tokens:    tokens,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
	}
}

func newLimiter(cfg config.ChannelConfig) *rate.Limiter {
	if cfg.RatePerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
}

// Send submits env and returns the generated Message-Id
func (t *SMTPTransport) Send(ctx context.Context, env Envelope) (Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, &TransportError{Channel: t.name, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	raw, messageID, err := Compose(env, t.now())
	if err != nil {
		return Receipt{}, &TransportError{Channel: t.name, Err: err}
	}

	c, err := t.dial(ctx)
	if err != nil {
		return Receipt{}, &TransportError{Channel: t.name, Err: err}
	}
	defer c.Close()

	if err := t.authenticate(c); err != nil {
		return Receipt{}, t.classify(err, true)
	}
	if err := c.SendMail(env.From.Address, []string{env.To}, bytes.NewReader(raw)); err != nil {
		return Receipt{}, t.classify(err, false)
	}
	if err := c.Quit(); err != nil {
		logrus.WithField("channel", t.name).Debugf("SMTP QUIT failed after accepted message: %v", err)
	}

	return Receipt{MessageID: messageID, Response: "250 accepted"}, nil
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.cfg.Address(), err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	var c *smtp.Client
	switch t.cfg.TLSMode {
	case config.TLSModeSSL:
		c = smtp.NewClient(tls.Client(conn, t.tlsConfig))
	case config.TLSModeStartTLS:
		c, err = smtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	default:
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout
	return c, nil
}

func (t *SMTPTransport) authenticate(c *smtp.Client) error {
	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return &AuthError{Channel: t.name, Err: fmt.Errorf("failed to obtain OAuth2 token: %w", err)}
		}
		user := t.cfg.Username
		if user == "" {
			user = t.cfg.From
		}
		return c.Auth(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: user,
			Token:    token.AccessToken,
			Host:     t.cfg.Host,
			Port:     t.cfg.Port,
		}))
	}
	if t.cfg.Username == "" {
		return nil
	}
	return c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password))
}

// classify maps an SMTP session error to AuthError or TransportError.
// During AUTH any permanent server rejection counts as a credential failure;
// network failures and timeouts never do.
func (t *SMTPTransport) classify(err error, duringAuth bool) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if isNetworkError(err) {
		return &TransportError{Channel: t.name, Err: err}
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		if isAuthCode(smtpErr) || (duringAuth && smtpErr.Code >= 500) {
			return &AuthError{Channel: t.name, Err: err}
		}
		return &TransportError{Channel: t.name, Err: err}
	}
	if duringAuth {
		return &AuthError{Channel: t.name, Err: err}
	}
	return &TransportError{Channel: t.name, Err: err}
}

func isAuthCode(e *smtp.SMTPError) bool {
	switch e.Code {
	case 530, 534, 535:
		return true
	}
	return e.EnhancedCode == smtp.EnhancedCode{5, 7, 8}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
