package model

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// KeyState is the administrative state of an API key. Inactive keys fail
// authentication regardless of expiry or quota.
type KeyState string

const (
	KeyStateActive   KeyState = "active"
	KeyStateInactive KeyState = "inactive"
)

// Valid reports whether s is one of the known states.
func (s KeyState) Valid() bool {
	return s == KeyStateActive || s == KeyStateInactive
}

// MaxLabelLength is the upper bound on a key label, in characters.
const MaxLabelLength = 100

// QuotaPolicy bounds how many requests a key may make per window. A zero
// Limit means the key is unlimited and Window is ignored.
type QuotaPolicy struct {
	Limit  int64
	Window time.Duration
}

// quotaJSON is the wire form of a QuotaPolicy. Window is carried in whole
// seconds.
type quotaJSON struct {
	Unlimited     bool  `json:"unlimited"`
	Limit         int64 `json:"limit,omitempty"`
	WindowSeconds int64 `json:"window_seconds,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (q QuotaPolicy) MarshalJSON() ([]byte, error) {
	if q.IsUnlimited() {
		return json.Marshal(quotaJSON{Unlimited: true})
	}
	return json.Marshal(quotaJSON{Limit: q.Limit, WindowSeconds: int64(q.Window / time.Second)})
}

// UnmarshalJSON implements json.Unmarshaler. An explicit "unlimited": true
// or a zero limit both decode to the unlimited policy.
func (q *QuotaPolicy) UnmarshalJSON(b []byte) error {
	var v quotaJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Unlimited || v.Limit == 0 {
		*q = Unlimited()
		return nil
	}
	*q = QuotaPolicy{Limit: v.Limit, Window: time.Duration(v.WindowSeconds) * time.Second}
	return nil
}

// Unlimited returns the policy that admits every request.
func Unlimited() QuotaPolicy { return QuotaPolicy{} }

// PerWindow returns a fixed-window policy of limit requests per window.
func PerWindow(limit int64, window time.Duration) QuotaPolicy {
	return QuotaPolicy{Limit: limit, Window: window}
}

// IsUnlimited reports whether the policy never denies.
func (q QuotaPolicy) IsUnlimited() bool { return q.Limit == 0 }

// Validate checks that a limited policy carries a positive limit and window.
func (q QuotaPolicy) Validate() error {
	if q.Limit < 0 {
		return NewValidationError("quota.limit", "must be a positive integer")
	}
	if q.Limit > 0 && q.Window <= 0 {
		return NewValidationError("quota.window_seconds", "must be positive when a limit is set")
	}
	return nil
}

// APIKey is the central record behind a bearer secret. The raw secret is
// never stored; only its SHA-256 hash (for lookup) and a short display
// prefix are persisted.
type APIKey struct {
	ID            string      `json:"id"`
	KeyHash       string      `json:"-"`          // SHA-256 hash, never expose
	KeyPrefix     string      `json:"key_prefix"` // kg_ + first 8 hex chars
	Label         string      `json:"label"`
	State         KeyState    `json:"state"`
	Quota         QuotaPolicy `json:"quota"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	TotalRequests int64       `json:"total_requests"`
	TotalErrors   int64       `json:"total_errors"`
	LastUsedAt    *time.Time  `json:"last_used_at,omitempty"`
	LastUsedFrom  string      `json:"last_used_from,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsActive reports whether the key is administratively enabled.
func (k *APIKey) IsActive() bool { return k.State == KeyStateActive }

// IsExpired reports whether the key's expiry is at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// CreateKeyInput carries the administrator-supplied fields for a new key.
type CreateKeyInput struct {
	Label     string
	Quota     QuotaPolicy
	ExpiresAt *time.Time
}

// Validate normalizes the label and checks every field.
func (in *CreateKeyInput) Validate(now time.Time) error {
	in.Label = strings.TrimSpace(in.Label)
	if err := validateLabel(in.Label); err != nil {
		return err
	}
	if err := in.Quota.Validate(); err != nil {
		return err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return NewValidationError("expires_at", "must be in the future")
	}
	return nil
}

// KeyUpdate is a partial update of the mutable key fields. Nil fields are
// left untouched. ClearExpiry removes an existing expiry and takes
// precedence over ExpiresAt.
type KeyUpdate struct {
	Label       *string
	State       *KeyState
	Quota       *QuotaPolicy
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// Empty reports whether the update changes nothing.
func (u *KeyUpdate) Empty() bool {
	return u.Label == nil && u.State == nil && u.Quota == nil && u.ExpiresAt == nil && !u.ClearExpiry
}

// Validate normalizes the label and checks every present field.
func (u *KeyUpdate) Validate() error {
	if u.Label != nil {
		trimmed := strings.TrimSpace(*u.Label)
		u.Label = &trimmed
		if err := validateLabel(trimmed); err != nil {
			return err
		}
	}
	if u.State != nil && !u.State.Valid() {
		return NewValidationError("state", "must be 'active' or 'inactive'")
	}
	if u.Quota != nil {
		if err := u.Quota.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes the update onto k and bumps UpdatedAt.
func (u *KeyUpdate) Apply(k *APIKey, now time.Time) {
	if u.Label != nil {
		k.Label = *u.Label
	}
	if u.State != nil {
		k.State = *u.State
	}
	if u.Quota != nil {
		k.Quota = *u.Quota
	}
	if u.ClearExpiry {
		k.ExpiresAt = nil
	} else if u.ExpiresAt != nil {
		t := u.ExpiresAt.UTC()
		k.ExpiresAt = &t
	}
	k.UpdatedAt = now
}

// KeyFilter narrows a key listing. A nil State lists every key.
type KeyFilter struct {
	State *KeyState
}

func validateLabel(label string) error {
	n := utf8.RuneCountInString(label)
	if n == 0 {
		return NewValidationError("label", "is required")
	}
	if n > MaxLabelLength {
		return NewValidationError("label", "must be at most 100 characters")
	}
	return nil
}
