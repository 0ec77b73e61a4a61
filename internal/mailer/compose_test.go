package mailer

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeRoundTrip(t *testing.T) {
	env := Envelope{
		From:    &mail.Address{Name: "Анна Петрова", Address: "anna@yandex.ru"},
		ReplyTo: &mail.Address{Address: "anna@gmail.com"},
		To:      "buyer@corp.ru",
		Subject: "Предложение о сотрудничестве",
		Body:    "Добрый день!\nПишу по поводу поставок.",
	}
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	raw, id, err := Compose(env, now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@yandex.ru"))

	r, err := gomail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, env.Subject, subject)

	from, err := r.Header.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "anna@yandex.ru", from[0].Address)

	replyTo, err := r.Header.AddressList("Reply-To")
	require.NoError(t, err)
	require.Len(t, replyTo, 1)
	assert.Equal(t, "anna@gmail.com", replyTo[0].Address)

	msgID, err := r.Header.MessageID()
	require.NoError(t, err)
	assert.Equal(t, id, msgID)

	date, err := r.Header.Date()
	require.NoError(t, err)
	assert.True(t, now.Equal(date))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, env.Body, string(body))
}

func TestComposeWithoutReplyTo(t *testing.T) {
	raw, _, err := Compose(Envelope{
		From: &mail.Address{Address: "sales@gmail.com"},
		To:   "x@example.com",
		Body: "hi",
	}, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Reply-To")
}

func TestComposeRequiresAddresses(t *testing.T) {
	_, _, err := Compose(Envelope{To: "x@example.com"}, time.Now())
	assert.Error(t, err)

	_, _, err = Compose(Envelope{From: &mail.Address{Address: "a@b.c"}}, time.Now())
	assert.Error(t, err)
}
