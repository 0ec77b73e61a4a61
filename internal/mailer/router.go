package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"leadgen-outreach-go/internal/config"
)

// Channel is a named outbound identity bound to a transport
type Channel struct {
	Name      string
	Transport Transport
	From      *mail.Address
	ReplyTo   *mail.Address
}

// Envelope addresses a message from this channel
func (c *Channel) Envelope(to, subject, body string) Envelope {
	return Envelope{From: c.From, ReplyTo: c.ReplyTo, To: to, Subject: subject, Body: body}
}

// Router maps MX classes to channels
type Router struct {
	channels    map[string]*Channel
	classes     map[string]string
	defaultName string
}

// NewRouter builds a router; the default channel must be among channels.
func NewRouter(defaultName string, classes map[string]string, channels ...*Channel) (*Router, error) {
	r := &Router{
		channels:    make(map[string]*Channel, len(channels)),
		classes:     classes,
		defaultName: defaultName,
	}
	for _, ch := range channels {
		r.channels[ch.Name] = ch
	}
	if _, ok := r.channels[defaultName]; !ok {
		return nil, fmt.Errorf("default channel %q is not configured", defaultName)
	}
	return r, nil
}

// NewRouterFromConfig creates transports for every configured channel.
// Channels missing host or sender are skipped and their classes fall back to the default.
func NewRouterFromConfig(ctx context.Context, cfg *config.Config) (*Router, error) {
	names := make([]string, 0, len(cfg.Channels))
	for name := range cfg.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	var channels []*Channel
	for _, name := range names {
		chCfg := cfg.Channels[name]
		if !chCfg.Configured() {
			logrus.Warnf("Channel %s is not configured, messages routed to it will use %s", name, cfg.Routing.DefaultChannel)
			continue
		}
		transport, err := newTransport(ctx, name, chCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport for channel %s: %w", name, err)
		}
		channels = append(channels, &Channel{
			Name:      name,
			Transport: transport,
			From:      &mail.Address{Name: chCfg.FromName, Address: chCfg.From},
			ReplyTo:   replyTo(cfg, chCfg),
		})
	}

	return NewRouter(cfg.Routing.DefaultChannel, cfg.Routing.ClassChannels, channels...)
}

func newTransport(ctx context.Context, name string, cfg config.ChannelConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportGmailAPI:
		return NewGmailAPITransport(ctx, name, cfg)
	case config.TransportSMTP:
		var tokens oauth2.TokenSource
		if cfg.OAuth.RefreshToken != "" {
			tokens = GmailTokenSource(ctx, cfg)
		}
		return NewSMTPTransport(name, cfg, tokens), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func replyTo(cfg *config.Config, ch config.ChannelConfig) *mail.Address {
	if ch.ReplyTo != "" {
		return &mail.Address{Address: ch.ReplyTo}
	}
	if ch.ReplyToChannel == "" {
		return nil
	}
	other, ok := cfg.Channels[ch.ReplyToChannel]
	if !ok || other.From == "" {
		return nil
	}
	return &mail.Address{Name: other.FromName, Address: other.From}
}

// Route returns the channel for class, or the default channel when the
// class has no mapping or its channel is not configured.
func (r *Router) Route(class string) *Channel {
	if name, ok := r.classes[class]; ok {
		if ch, ok := r.channels[name]; ok {
			return ch
		}
	}
	return r.Default()
}

// Default returns the fallback channel
func (r *Router) Default() *Channel {
	return r.channels[r.defaultName]
}

// Channel looks a channel up by name
func (r *Router) Channel(name string) (*Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Names lists configured channel names
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
