package entity

import "time"

// RecallRecord is the outcome of recalling one (app, body, task) group at the gateway.
// There is exactly one record per key; re-running recall updates it in place.
type RecallRecord struct {
	ID            int64
	AppID         string
	BodyID        int64
	TaskID        string
	RecalledAt    time.Time
	Success       bool
	AffectedCount int
	RawResult     string
}

// RecallKey identifies a recall group.
type RecallKey struct {
	AppID  string
	BodyID int64
	TaskID string
}
