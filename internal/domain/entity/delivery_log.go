package entity

import (
	"time"
	"unicode/utf8"
)

// MaxErrorTextLength bounds the error text persisted on a delivery log.
const MaxErrorTextLength = 512

// DeliveryLog is one per-recipient delivery attempt of a MessageBody.
//
// Success is nil while the row is pending (inserted but not yet attempted).
// DeliveryID is process-wide unique and is the key used by status callbacks.
type DeliveryLog struct {
	ID            int64
	BodyID        int64
	Recipient     string
	DirectoryCode string
	Fingerprint   string
	CreatedAt     time.Time
	SentAt        *time.Time
	ReceivedAt    *time.Time
	ReadAt        *time.Time
	Success       *bool
	ErrorText     string
	TaskID        string
	RequestID     string
	DeliveryID    string
	Recalled      bool
	RecalledAt    *time.Time
	Done          bool
	RetryCount    int
}

// Pending reports whether the row has not been attempted yet.
func (l *DeliveryLog) Pending() bool {
	return l.Success == nil
}

// Succeeded reports whether the last attempt succeeded.
func (l *DeliveryLog) Succeeded() bool {
	return l.Success != nil && *l.Success
}

// Failed reports whether the last attempt failed.
func (l *DeliveryLog) Failed() bool {
	return l.Success != nil && !*l.Success
}

// ShardOutcome is the write-back of one gateway call, applied to every row of a shard.
type ShardOutcome struct {
	Success   bool
	ErrorText string
	TaskID    string
	RequestID string
	SentAt    time.Time
}

// TruncateErrorText cuts s to MaxErrorTextLength bytes without splitting a rune.
func TruncateErrorText(s string) string {
	if len(s) <= MaxErrorTextLength {
		return s
	}
	cut := MaxErrorTextLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
