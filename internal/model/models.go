package model

import "time"

// Category identifies one class of importable records.
type Category string

const (
	CategoryContacts Category = "contacts"
	CategoryMessages Category = "messages"
	CategoryCalls    Category = "calls"
)

// Categories lists all importable categories in import order.
func Categories() []Category {
	return []Category{CategoryContacts, CategoryMessages, CategoryCalls}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryContacts, CategoryMessages, CategoryCalls:
		return true
	}
	return false
}

// Manifest holds the backup container's self-description, read once from the
// index at the start of an ingestion run.
type Manifest struct {
	Version          string
	Date             time.Time
	DeviceName       string
	UniqueIdentifier string
	ProductVersion   string
	Encrypted        bool
}

// LabeledValue is one entry of a contact's multi-valued attribute:
// a human label ("mobile", "work", ...) paired with the raw value.
type LabeledValue struct {
	Label string
	Value string
}

// Contact is a normalized address-book record.
// ID is the source-native record id and is unique within the category.
type Contact struct {
	ID           string
	GivenName    string
	FamilyName   string
	Organization string
	Notes        string
	Phones       []LabeledValue
	Emails       []LabeledValue
}

// Channel classifies how a message travelled.
type Channel string

const (
	ChannelSMS Channel = "sms"      // carrier SMS/MMS
	ChannelIP  Channel = "imessage" // IP-based rich messaging
)

// Direction classifies who initiated a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is a normalized conversation message.
// ThreadKey is derived from the normalized participant identity, never from a
// source-native primary key. SentAt is a standard-epoch timestamp.
type Message struct {
	ID          string
	ThreadKey   string
	Body        string
	Channel     Channel
	Direction   Direction
	SentAt      time.Time
	Identity    string // normalized phone identity of the remote party
	Attachments []string
	Read        bool
}

// CallDirection classifies a call, derived from the source's two booleans
// (originated locally, answered).
type CallDirection string

const (
	CallOutgoing CallDirection = "outgoing"
	CallIncoming CallDirection = "incoming"
	CallMissed   CallDirection = "missed"
)

// Call is a normalized call-history record.
type Call struct {
	ID         string
	Identity   string
	OccurredAt time.Time
	Duration   int64 // whole seconds
	Direction  CallDirection
}

// SyncRun is one recorded coordinator run for a category.
type SyncRun struct {
	ID         int64
	OpID       string // generated correlation id, shared with the run's log lines
	Category   Category
	StartedAt  time.Time
	FinishedAt *time.Time // nil while the run is still in flight
	Status     string     // "running", "success" or "error"
	Imported   int64
	Skipped    int64
	Errors     int64
}

// Thread is the derived per-conversation aggregate. It is created and
// mutated only by imports, never by extractors.
type Thread struct {
	Key            string
	DisplayName    string
	LastMessageID  string
	LastActivityAt time.Time
	UnreadCount    int64
	Group          bool
	Archived       bool
}
