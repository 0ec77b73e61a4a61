// Package mxroute classifies recipient domains by their mail exchangers.
package mxroute

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"leadgen-outreach-go/internal/config"
)

// Class is the routing class of a recipient domain
type Class string

const (
	ClassRU      Class = "RU"
	ClassOther   Class = "OTHER"
	ClassUnknown Class = "UNKNOWN"
)

// Classification is the outcome of classifying one domain
type Classification struct {
	Class     Class     `json:"class"`
	Records   []string  `json:"records"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"-"`
	Forced    bool      `json:"-"`
}

// Resolver looks up MX hostnames for a domain against one nameserver
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]string, error)
}

// Cache stores classifications by lowercased domain
type Cache interface {
	Get(ctx context.Context, domain string) (Classification, bool)
	Set(ctx context.Context, domain string, c Classification, ttl time.Duration)
}

// Observer is notified of every classification
type Observer func(c Classification)

// Classifier implements force-list, cache, primary lookup, one alternate retry, pattern match.
type Classifier struct {
	enabled   bool
	primary   Resolver
	alternate Resolver
	cache     Cache
	ttl       time.Duration
	timeout   time.Duration
	patterns  []string
	force     map[string]struct{}
	group     singleflight.Group
	observe   Observer
	now       func() time.Time
}

// NewClassifier builds a classifier from routing configuration
func NewClassifier(cfg config.RoutingConfig, primary, alternate Resolver, cache Cache) *Classifier {
	force := make(map[string]struct{}, len(cfg.ForceRUDomains))
	for _, d := range cfg.ForceRUDomains {
		if d = normalizeDomain(d); d != "" {
			force[d] = struct{}{}
		}
	}
	patterns := make([]string, 0, len(cfg.RUMXPatterns))
	for _, p := range cfg.RUMXPatterns {
		if p = normalizeHost(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	if cache == nil {
		cache = NewLocalCache(0)
	}
	return &Classifier{
		enabled:   cfg.Enabled,
		primary:   primary,
		alternate: alternate,
		cache:     cache,
		ttl:       cfg.MXCacheTTL(),
		timeout:   cfg.DNSTimeout(),
		patterns:  patterns,
		force:     force,
		now:       time.Now,
	}
}

// OnClassify registers an observer, used for metrics
func (c *Classifier) OnClassify(o Observer) {
	c.observe = o
}

// ClassifyEmail classifies the domain part of an address
func (c *Classifier) ClassifyEmail(ctx context.Context, address string) Classification {
	return c.Classify(ctx, DomainOf(address))
}

// Classify never fails: lookup errors degrade to UNKNOWN.
func (c *Classifier) Classify(ctx context.Context, domain string) Classification {
	result := c.classify(ctx, domain)
	if c.observe != nil {
		c.observe(result)
	}
	return result
}

func (c *Classifier) classify(ctx context.Context, domain string) Classification {
	if !c.enabled {
		return Classification{Class: ClassOther, Records: []string{}, CheckedAt: c.now()}
	}
	domain = normalizeDomain(domain)
	if domain == "" {
		return Classification{Class: ClassUnknown, Records: []string{}, CheckedAt: c.now()}
	}
	if _, ok := c.force[domain]; ok {
		return Classification{Class: ClassRU, Records: []string{}, CheckedAt: c.now(), Forced: true}
	}
	if cached, ok := c.cache.Get(ctx, domain); ok {
		cached.Cached = true
		return cached
	}

	// The shared lookup outlives any single caller so one cancelled request
	// cannot turn into a cached UNKNOWN for everyone else.
	ch := c.group.DoChan(domain, func() (any, error) {
		lookupCtx := context.WithoutCancel(ctx)
		result := c.resolve(lookupCtx, domain)
		c.cache.Set(lookupCtx, domain, result, c.ttl)
		return result, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Classification)
	case <-ctx.Done():
		return Classification{Class: ClassUnknown, Records: []string{}, CheckedAt: c.now()}
	}
}

func (c *Classifier) resolve(ctx context.Context, domain string) Classification {
	hosts, err := c.lookup(ctx, c.primary, domain)
	if err != nil {
		logrus.WithFields(logrus.Fields{"domain": domain}).Debugf("Primary MX lookup failed, retrying on alternate resolver: %v", err)
		hosts, err = c.lookup(ctx, c.alternate, domain)
	}
	checkedAt := c.now().UTC()
	if err != nil {
		logrus.WithFields(logrus.Fields{"domain": domain}).Warnf("MX lookup failed on both resolvers: %v", err)
		return Classification{Class: ClassUnknown, Records: []string{}, CheckedAt: checkedAt}
	}
	return Classification{Class: c.match(hosts), Records: hosts, CheckedAt: checkedAt}
}

func (c *Classifier) lookup(ctx context.Context, r Resolver, domain string) ([]string, error) {
	if r == nil {
		return nil, errNoResolver
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := r.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(raw))
	for _, h := range raw {
		if h = normalizeHost(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func (c *Classifier) match(hosts []string) Class {
	if len(hosts) == 0 {
		return ClassUnknown
	}
	for _, h := range hosts {
		for _, p := range c.patterns {
			if strings.Contains(h, p) {
				return ClassRU
			}
		}
	}
	return ClassOther
}

// DomainOf returns the lowercased domain of an address, or "".
func DomainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return normalizeDomain(address[at+1:])
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
