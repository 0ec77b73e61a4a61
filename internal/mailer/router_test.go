package mailer

import (
	"context"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadgen-outreach-go/internal/config"
)

type nopTransport struct{}

func (nopTransport) Send(context.Context, Envelope) (Receipt, error) { return Receipt{}, nil }

func TestRouterRoutesByClass(t *testing.T) {
	gmail := &Channel{Name: "gmail", Transport: nopTransport{}, From: &mail.Address{Address: "a@gmail.com"}}
	yandex := &Channel{Name: "yandex", Transport: nopTransport{}, From: &mail.Address{Address: "a@yandex.ru"}}
	r, err := NewRouter("gmail", map[string]string{"RU": "yandex", "OTHER": "gmail"}, gmail, yandex)
	require.NoError(t, err)

	assert.Same(t, yandex, r.Route("RU"))
	assert.Same(t, gmail, r.Route("OTHER"))
	assert.Same(t, gmail, r.Route("UNKNOWN"))
	assert.Equal(t, []string{"gmail", "yandex"}, r.Names())
}

func TestRouterUnconfiguredChannelFallsBackToDefault(t *testing.T) {
	gmail := &Channel{Name: "gmail", Transport: nopTransport{}}
	r, err := NewRouter("gmail", map[string]string{"RU": "yandex"}, gmail)
	require.NoError(t, err)
	assert.Same(t, gmail, r.Route("RU"))
}

func TestRouterResolvesUnmappedClassToDefault(t *testing.T) {
	gmail := &Channel{Name: "gmail", Transport: nopTransport{}}
	yandex := &Channel{Name: "yandex", Transport: nopTransport{}}
	r, err := NewRouter("gmail", map[string]string{"RU": "yandex"}, gmail, yandex)
	require.NoError(t, err)

	for _, class := range []string{"", "ru", "CORPORATE"} {
		assert.Same(t, gmail, r.Route(class), class)
	}
}

func TestRouterRequiresDefault(t *testing.T) {
	_, err := NewRouter("gmail", nil, &Channel{Name: "yandex"})
	assert.Error(t, err)
}

func TestRouterFromConfigResolvesReplyToChannel(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{
			DefaultChannel: "gmail",
			ClassChannels:  map[string]string{"RU": "yandex", "OTHER": "gmail", "UNKNOWN": "gmail"},
		},
		Channels: map[string]config.ChannelConfig{
			"gmail": {
				Transport: config.TransportSMTP, Host: "smtp.gmail.com", Port: 587, TLSMode: config.TLSModeStartTLS,
				Username: "sales@gmail.com", Password: "app-pass", From: "sales@gmail.com", FromName: "Sales",
			},
			"yandex": {
				Transport: config.TransportSMTP, Host: "smtp.yandex.ru", Port: 465, TLSMode: config.TLSModeSSL,
				Username: "sales@yandex.ru", Password: "p", From: "sales@yandex.ru", ReplyToChannel: "gmail",
			},
		},
	}

	r, err := NewRouterFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	ru := r.Route("RU")
	assert.Equal(t, "yandex", ru.Name)
	require.NotNil(t, ru.ReplyTo)
	assert.Equal(t, "sales@gmail.com", ru.ReplyTo.Address)
	assert.IsType(t, &SMTPTransport{}, ru.Transport)

	assert.Nil(t, r.Default().ReplyTo)
}

func TestRouterFromConfigSkipsUnconfiguredChannel(t *testing.T) {
	cfg := &config.Config{
		Routing: config.RoutingConfig{
			DefaultChannel: "gmail",
			ClassChannels:  map[string]string{"RU": "yandex"},
		},
		Channels: map[string]config.ChannelConfig{
			"gmail":  {Transport: config.TransportSMTP, Host: "smtp.gmail.com", Port: 587, From: "sales@gmail.com"},
			"yandex": {Transport: config.TransportSMTP, Port: 465, From: "sales@yandex.ru"},
		},
	}

	r, err := NewRouterFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gmail", r.Route("RU").Name)
	_, ok := r.Channel("yandex")
	assert.False(t, ok)
}
