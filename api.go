package ddnsrelay

import (
	"context"
	"time"
)

// Provider is the slice of a DNS provider's API that the relay needs.
type Provider interface {
	// ZoneID returns the identifier of the zone named zone.
	// It returns an error wrapping ErrZoneNotFound when the provider has no such zone.
	ZoneID(ctx context.Context, zone string) (string, error)

	// FindRecord returns the first record matching the fully-qualified name and type,
	// or nil when none exists.
	FindRecord(ctx context.Context, zoneID, name, rtype string) (*Record, error)

	CreateRecord(ctx context.Context, zoneID string, r Record) (Record, error)

	// UpdateRecord overwrites the record identified by r.ID.
	UpdateRecord(ctx context.Context, zoneID string, r Record) (Record, error)
}

// ZoneCache remembers zone ids by zone name so that later requests can skip the lookup.
// Implementations are an optimization only: the relay ignores their errors.
type ZoneCache interface {
	Get(ctx context.Context, zone string) (id string, ok bool, err error)
	Put(ctx context.Context, zone, id string) error
}

// Notifier delivers a change notification to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Record is a DNS record as reported by the provider.
type Record struct {
	ID         string    `json:"id,omitempty"`
	ZoneID     string    `json:"zone_id,omitempty"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	TTL        int       `json:"ttl"`
	Proxied    bool      `json:"proxied"`
	Comment    string    `json:"comment,omitempty"`
	CreatedOn  time.Time `json:"created_on,omitempty"`
	ModifiedOn time.Time `json:"modified_on,omitempty"`
}

// Action reports what the relay did to the record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// NotificationStatus is the outcome of the side-channel notification.
type NotificationStatus string

const (
	NotificationSent     NotificationStatus = "sent"
	NotificationFailed   NotificationStatus = "failed"
	NotificationDisabled NotificationStatus = "disabled"
)

// Notification is the content of a change message before it is rendered for a channel.
// Domain and IP are already masked according to the relay's Masking.
type Notification struct {
	Action Action
	Node   string
	Domain string
	IP     string
	Time   time.Time
}
