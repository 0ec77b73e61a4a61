package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose renders env as a single-part text/plain RFC 5322 message and returns it
// with its Message-Id (without angle brackets).
func Compose(env Envelope, now time.Time) ([]byte, string, error) {
	if env.From == nil || env.From.Address == "" {
		return nil, "", fmt.Errorf("sender address is required")
	}
	if env.To == "" {
		return nil, "", fmt.Errorf("recipient address is required")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), messageIDDomain(env.From.Address))

	var h gomail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*gomail.Address{{Name: env.From.Name, Address: env.From.Address}})
	h.SetAddressList("To", []*gomail.Address{{Address: env.To}})
	if env.ReplyTo != nil && env.ReplyTo.Address != "" {
		h.SetAddressList("Reply-To", []*gomail.Address{{Name: env.ReplyTo.Name, Address: env.ReplyTo.Address}})
	}
	h.SetSubject(env.Subject)
	h.Set("Message-Id", "<"+messageID+">")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, env.Body); err != nil {
		return nil, "", fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

func messageIDDomain(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return strings.ToLower(from[at+1:])
	}
	return "localhost"
}
