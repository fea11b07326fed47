package model

import (
	"encoding/json"
	"time"

	"github.com/LeventeLantos/message-oven/internal/suppression"
)

const (
	DefaultBatchSize = 20
	DefaultFrequency = time.Minute
)

type Credentials struct {
	Token      string `json:"token"`
	AppID      string `json:"appId"`
	BusinessID string `json:"businessId"`
	PhoneID    string `json:"phoneId"`
}

// Account is the persisted state of one messaging integration.
type Account struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenantId"`
	Credentials Credentials `json:"credentials"`

	BatchSize int           `json:"batchSize"`
	Frequency time.Duration `json:"-"`
	Paused    bool          `json:"paused"`
	// LastDispatch is the start of the most recent cycle; zero means never.
	LastDispatch time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Queue       []PendingMessage `json:"queue"`
	Suppression suppression.List `json:"suppressionList"`
	SentLog     []DeliveryRecord `json:"sentLog"`
	FailedLog   []FailureRecord  `json:"failedLog"`
}

// credentialsView is how credentials leave the process: the bearer token is
// never serialized, only whether one is set.
type credentialsView struct {
	AppID      string `json:"appId"`
	BusinessID string `json:"businessId"`
	PhoneID    string `json:"phoneId"`
	HasToken   bool   `json:"hasToken"`
}

// MarshalJSON reports Frequency in milliseconds, LastDispatch as epoch
// milliseconds (null when no cycle has run) and credentials without the
// token.
func (a Account) MarshalJSON() ([]byte, error) {
	type alias Account
	var last *int64
	if !a.LastDispatch.IsZero() {
		ms := a.LastDispatch.UnixMilli()
		last = &ms
	}
	return json.Marshal(struct {
		alias
		Credentials  credentialsView `json:"credentials"`
		Frequency    int64           `json:"frequency"`
		LastDispatch *int64          `json:"lastDispatchTime"`
	}{
		alias: alias(a),
		Credentials: credentialsView{
			AppID:      a.Credentials.AppID,
			BusinessID: a.Credentials.BusinessID,
			PhoneID:    a.Credentials.PhoneID,
			HasToken:   a.Credentials.Token != "",
		},
		Frequency:    a.Frequency.Milliseconds(),
		LastDispatch: last,
	})
}

// Due reports whether a cycle may start at now: now >= lastDispatch + frequency.
// An account that never dispatched is always due.
func (a *Account) Due(now time.Time) bool {
	if a.LastDispatch.IsZero() {
		return true
	}
	return !now.Before(a.LastDispatch.Add(a.Frequency))
}

// ShouldBake is the only condition that produces a batch cycle.
func (a *Account) ShouldBake(now time.Time) bool {
	return !a.Paused && len(a.Queue) > 0 && a.Due(now)
}

// BatchLen is the number of queued messages the next cycle takes.
func (a *Account) BatchLen() int {
	return min(a.BatchSize, len(a.Queue))
}

// Clone returns a deep copy suitable for publishing outside the owner's lock.
func (a *Account) Clone() Account {
	c := *a
	c.Queue = append([]PendingMessage(nil), a.Queue...)
	c.Suppression = a.Suppression.Clone()
	c.SentLog = append([]DeliveryRecord(nil), a.SentLog...)
	c.FailedLog = append([]FailureRecord(nil), a.FailedLog...)
	return c
}
