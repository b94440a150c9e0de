package domain

import (
	"time"
)

// Event is a message or interaction submitted for scam risk evaluation.
// It is treated as immutable for the duration of one evaluation.
type Event struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`

	// Free text of the message (SMS body, email, call transcript, note)
	Text string `json:"text"`

	// Domain shown to the user vs. the domain the link actually resolves to
	DisplayDomain string `json:"display_domain"`
	FinalDomain   string `json:"final_domain"`

	// Channel the event arrived on (sms, email, call, web, txn)
	Channel string `json:"channel"`

	Sender     Sender     `json:"sender"`
	Reputation Reputation `json:"reputation"`

	// Open-ended bag of caller-supplied attributes
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Sender holds metadata about the originator of an event.
type Sender struct {
	// DomainAgeDays is nil when the age of the sending domain is unknown.
	DomainAgeDays *int `json:"domain_age_days,omitempty"`
	ConfirmedMule bool `json:"confirmed_mule"`
}

// Reputation holds reputation signals supplied by the caller.
type Reputation struct {
	ReportsLast90d  int  `json:"reports_last_90d"`
	GlobalBlacklist bool `json:"global_blacklist"`
}

// DefaultChannel is used when the caller does not name a channel.
const DefaultChannel = "unknown"

// EventRequest is the API request payload for event detection.
type EventRequest struct {
	Text          string         `json:"text"`
	DisplayDomain string         `json:"display_domain"`
	FinalDomain   string         `json:"final_domain"`
	Channel       string         `json:"channel"`
	Sender        Sender         `json:"sender"`
	Reputation    Reputation     `json:"reputation"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// SecondaryScore is an optional pre-computed probabilistic score in [0,100].
	SecondaryScore *float64 `json:"secondary_score,omitempty"`
}

// ToEvent converts a request to an Event domain object.
func (r *EventRequest) ToEvent() *Event {
	channel := r.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &Event{
		Text:          r.Text,
		DisplayDomain: r.DisplayDomain,
		FinalDomain:   r.FinalDomain,
		Channel:       channel,
		Sender:        r.Sender,
		Reputation:    r.Reputation,
		Metadata:      r.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
}

// IntPtr is a small helper for building events with a known domain age.
func IntPtr(v int) *int {
	return &v
}
