package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestQuotaPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  QuotaPolicy
		wantErr bool
	}{
		{"unlimited", Unlimited(), false},
		{"per minute", PerWindow(60, time.Minute), false},
		{"negative limit", QuotaPolicy{Limit: -1, Window: time.Minute}, true},
		{"limit without window", QuotaPolicy{Limit: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestQuotaPolicyJSON(t *testing.T) {
	b, err := json.Marshal(PerWindow(2, 60*time.Second))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"unlimited":false,"limit":2,"window_seconds":60}` {
		t.Errorf("got %s", b)
	}

	b, _ = json.Marshal(Unlimited())
	if string(b) != `{"unlimited":true}` {
		t.Errorf("got %s", b)
	}

	var q QuotaPolicy
	if err := json.Unmarshal([]byte(`{"limit":5,"window_seconds":3600}`), &q); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if q.Limit != 5 || q.Window != time.Hour {
		t.Errorf("got %+v, want limit 5 window 1h", q)
	}

	q = PerWindow(1, time.Second)
	if err := json.Unmarshal([]byte(`{"unlimited":true,"limit":9}`), &q); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !q.IsUnlimited() {
		t.Errorf("expected unlimited, got %+v", q)
	}
}

func TestAPIKeyJSONHidesHash(t *testing.T) {
	k := APIKey{ID: "id-1", KeyHash: "deadbeef", KeyPrefix: "kg_01234567", Label: "svc", State: KeyStateActive}
	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "deadbeef") {
		t.Errorf("hash leaked into JSON: %s", b)
	}
	if !strings.Contains(string(b), `"key_prefix":"kg_01234567"`) {
		t.Errorf("prefix missing from JSON: %s", b)
	}
}

func TestAPIKeyIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	k := &APIKey{}
	if k.IsExpired(now) {
		t.Error("key without expiry reported expired")
	}
	k.ExpiresAt = &future
	if k.IsExpired(now) {
		t.Error("future expiry reported expired")
	}
	k.ExpiresAt = &now
	if !k.IsExpired(now) {
		t.Error("expiry equal to now should count as expired")
	}
	k.ExpiresAt = &past
	if !k.IsExpired(now) {
		t.Error("past expiry not reported expired")
	}
}

func TestCreateKeyInputValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	in := CreateKeyInput{Label: "  svc-a  ", Quota: PerWindow(2, time.Minute)}
	if err := in.Validate(now); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if in.Label != "svc-a" {
		t.Errorf("label not trimmed: %q", in.Label)
	}

	bad := []CreateKeyInput{
		{Label: ""},
		{Label: "   "},
		{Label: strings.Repeat("x", MaxLabelLength+1)},
		{Label: "ok", Quota: QuotaPolicy{Limit: 3}},
		{Label: "ok", ExpiresAt: &past},
	}
	for i, in := range bad {
		if err := in.Validate(now); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	exact := CreateKeyInput{Label: strings.Repeat("é", MaxLabelLength)}
	if err := exact.Validate(now); err != nil {
		t.Errorf("100 multibyte characters should be accepted: %v", err)
	}
}

func TestKeyUpdateApply(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(24 * time.Hour)
	k := &APIKey{Label: "old", State: KeyStateActive, ExpiresAt: &exp}

	label := "new"
	state := KeyStateInactive
	quota := PerWindow(10, time.Minute)
	u := KeyUpdate{Label: &label, State: &state, Quota: &quota, ClearExpiry: true}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	u.Apply(k, now)

	if k.Label != "new" || k.State != KeyStateInactive || k.Quota != quota {
		t.Errorf("update not applied: %+v", k)
	}
	if k.ExpiresAt != nil {
		t.Error("expected expiry cleared")
	}
	if !k.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", k.UpdatedAt, now)
	}

	bogus := KeyState("paused")
	if err := (&KeyUpdate{State: &bogus}).Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
	if !(&KeyUpdate{}).Empty() {
		t.Error("zero update should be empty")
	}
}

func TestUsageSummarySuccessRate(t *testing.T) {
	if got := (UsageSummary{}).SuccessRate(); got != 100 {
		t.Errorf("empty summary rate = %v, want 100", got)
	}
	if got := (UsageSummary{TotalRequests: 3, ErrorCount: 1}).SuccessRate(); got != 66.67 {
		t.Errorf("rate = %v, want 66.67", got)
	}
}

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	name, since := ResolvePeriod("7d", now)
	if name != "7d" || !since.Equal(now.Add(-7*24*time.Hour)) {
		t.Errorf("7d resolved to %s %v", name, since)
	}

	name, since = ResolvePeriod("bogus", now)
	if name != DefaultPeriod || !since.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("fallback resolved to %s %v", name, since)
	}
}

func TestUsageLogEntrySanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		runes int
	}{
		{"clean", "/api/v1/items", "/api/v1/items", 13},
		{"invalid byte", "/x/\xff/y", "/x/\uFFFD/y", 7},
		{"long ascii", strings.Repeat("a", 600), strings.Repeat("a", MaxEndpointLen), MaxEndpointLen},
		{"long multibyte", strings.Repeat("é", 600), strings.Repeat("é", MaxEndpointLen), MaxEndpointLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := UsageLogEntry{Endpoint: tt.in, ClientAgent: tt.in}
			e.Sanitize()
			if e.Endpoint != tt.want {
				t.Errorf("Endpoint = %q, want %q", e.Endpoint, tt.want)
			}
			if n := utf8.RuneCountInString(e.Endpoint); n != tt.runes {
				t.Errorf("Endpoint has %d characters, want %d", n, tt.runes)
			}
			if !utf8.ValidString(e.ClientAgent) || utf8.RuneCountInString(e.ClientAgent) > MaxClientAgentLen {
				t.Errorf("ClientAgent not sanitized: %d characters", utf8.RuneCountInString(e.ClientAgent))
			}
		})
	}

	e := UsageLogEntry{Method: strings.Repeat("M", 40), Origin: strings.Repeat("1", 100)}
	e.Sanitize()
	if len(e.Method) != MaxMethodLen || len(e.Origin) != MaxOriginLen {
		t.Errorf("Method/Origin = %d/%d characters", len(e.Method), len(e.Origin))
	}
}
