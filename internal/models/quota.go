package models

import "time"

// QuotaStatus is the availability classification for a provider.
type QuotaStatus string

// Quota status values. Detection degrades to Unknown on I/O failure rather
// than erroring; a provider with no credential source is Unavailable.
const (
	QuotaAvailable   QuotaStatus = "available"
	QuotaLimited     QuotaStatus = "limited"
	QuotaExhausted   QuotaStatus = "exhausted"
	QuotaUnavailable QuotaStatus = "unavailable"
	QuotaUnknown     QuotaStatus = "unknown"
)

// Usable reports whether a provider in this status may be selected for a
// model recommendation. Limited providers remain selectable; exhausted,
// unavailable, and unknown ones do not.
func (s QuotaStatus) Usable() bool {
	return s == QuotaAvailable || s == QuotaLimited
}

// Quota is one provider's availability snapshot.
type Quota struct {
	Provider  string      `json:"provider"`
	Status    QuotaStatus `json:"status"`
	Remaining *float64    `json:"remaining,omitempty"`
	ResetAt   *time.Time  `json:"resetAt,omitempty"`
	Details   string      `json:"details,omitempty"`
}

// QuotaSnapshot is a frozen provider → quota map. Consumers never write back;
// the quota manager replaces the whole map on refresh.
type QuotaSnapshot map[string]Quota

// StatusFor returns the status for a provider, Unknown when the provider is
// not in the snapshot.
func (qs QuotaSnapshot) StatusFor(provider string) QuotaStatus {
	if q, ok := qs[provider]; ok {
		return q.Status
	}
	return QuotaUnknown
}

// Clone returns an independent copy of the snapshot.
func (qs QuotaSnapshot) Clone() QuotaSnapshot {
	out := make(QuotaSnapshot, len(qs))
	for k, v := range qs {
		out[k] = v
	}
	return out
}
