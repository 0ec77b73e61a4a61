// Package repository persists outreach messages, schedule tails and the opt-out registry.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"leadgen-outreach-go/internal/model"
)

var (
	// ErrNotFound is returned when a message id does not exist
	ErrNotFound = errors.New("outreach message not found")
	// ErrClaimLost is returned when a fenced write finds another claim token on the row
	ErrClaimLost = errors.New("claim lost: message was reclaimed by another worker")
	// ErrAlreadySent is returned when redelivery targets a sent message
	ErrAlreadySent = errors.New("outreach message already sent")
	// ErrClaimConflict is returned when the row is locked or in flight elsewhere
	ErrClaimConflict = errors.New("outreach message is being delivered by another worker")
)

// PlanFunc computes the next send time from the current queue tail (nil when empty).
type PlanFunc func(tail *time.Time) (time.Time, error)

// ListFilter narrows List results
type ListFilter struct {
	Status    model.OutreachStatus
	CompanyID string
	Offset    int
	Limit     int
}

// OutreachStore is the single source of truth for outreach messages
type OutreachStore interface {
	// AppendScheduled inserts msg as scheduled, serialized on the queue tail.
	AppendScheduled(ctx context.Context, queue string, msg *model.OutreachMessage, plan PlanFunc) error
	// ClaimDue moves up to limit due messages to sending and returns them.
	// Messages whose sending lease expired are due again.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.OutreachMessage, error)
	// ClaimByID claims one scheduled, failed or skipped message for operator redelivery.
	ClaimByID(ctx context.Context, id string, now time.Time) (*model.OutreachMessage, error)
	// UpdateContent rewrites the company, contact, subject and body of a claimed message.
	UpdateContent(ctx context.Context, msg *model.OutreachMessage) error
	// MergeMetadata merges patch into a claimed message's metadata.
	MergeMetadata(ctx context.Context, msg *model.OutreachMessage, patch model.Metadata) error
	// Finish records the terminal outcome of a claimed message.
	Finish(ctx context.Context, msg *model.OutreachMessage, outcome model.Outcome) error
	// Release hands a redelivery claim back, restoring the status ClaimByID moved it out of.
	Release(ctx context.Context, msg *model.OutreachMessage) error

	Get(ctx context.Context, id string) (*model.OutreachMessage, error)
	List(ctx context.Context, filter ListFilter) ([]model.OutreachMessage, int64, error)
	CountByStatus(ctx context.Context) (map[model.OutreachStatus]int64, error)
}

// OptOutRegistry answers whether outreach to a contact is forbidden
type OptOutRegistry interface {
	IsOptedOut(ctx context.Context, address, companyID string) (bool, error)
}

// optOutKeys returns the (type, value) pairs that block address or companyID.
func optOutKeys(address, companyID string) map[string]string {
	keys := map[string]string{}
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr != "" {
		keys[model.ContactTypeEmail] = addr
		if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
			keys[model.ContactTypeDomain] = addr[at+1:]
		}
	}
	if c := strings.ToLower(strings.TrimSpace(companyID)); c != "" {
		keys[model.ContactTypeCompany] = c
	}
	return keys
}

func releaseStatus(msg *model.OutreachMessage) (model.OutreachStatus, error) {
	if msg.ClaimToken == nil {
		return "", ErrClaimLost
	}
	if msg.ClaimedFrom == "" {
		return "", errors.New("only redelivery claims can be released")
	}
	return msg.ClaimedFrom, nil
}

func terminalOutcomeOK(o model.Outcome) bool {
	return o.Status.IsTerminal()
}
