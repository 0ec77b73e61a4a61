// Package mailer sends outreach mail through configured channels.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"
)

var timeNow = time.Now

// Envelope is one message handed to a transport
type Envelope struct {
	From    *mail.Address
	ReplyTo *mail.Address
	To      string
	Subject string
	Body    string
}

// Receipt is what a transport reports for an accepted message
type Receipt struct {
	MessageID string
	Response  string
}

// Transport delivers a single envelope
type Transport interface {
	Send(ctx context.Context, env Envelope) (Receipt, error)
}

// AuthError reports that the channel's credentials were rejected
type AuthError struct {
	Channel string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("channel %s authentication failed: %v", e.Channel, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports any non-authentication delivery failure
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel %s delivery failed: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is, or wraps, an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
