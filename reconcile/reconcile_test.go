package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAccountProviderMap_ExplicitMappingsTakePrecedence(t *testing.T) {
	applied := ApplyResult{
		Mappings: []Mapping{
			{AccountID: "111", ProviderID: "prov-a"},
			{AccountID: "222", ProviderID: "prov-b"},
			{AccountID: "999", ProviderID: "prov-z"}, // not selected
		},
		ProviderIDs: []string{"prov-a", "prov-b", "prov-z"},
	}

	var lookups atomic.Int32
	lookup := func(ctx context.Context, providerID string) (string, error) {
		lookups.Add(1)
		return "", nil
	}

	got, err := AccountProviderMap(context.Background(), []string{"111", "222"}, applied, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lookups.Load() != 0 {
		t.Errorf("fallback lookup invoked %d times despite explicit mappings", lookups.Load())
	}
	want := map[string]string{"111": "prov-a", "222": "prov-b"}
	assertMapEqual(t, got, want)
}

func TestAccountProviderMap_ExplicitDuplicatesFirstWins(t *testing.T) {
	applied := ApplyResult{
		Mappings: []Mapping{
			{AccountID: "111", ProviderID: "prov-a"},
			{AccountID: "111", ProviderID: "prov-b"},
		},
	}

	got, err := AccountProviderMap(context.Background(), []string{"111"}, applied, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertMapEqual(t, got, map[string]string{"111": "prov-a"})
}

func TestAccountProviderMap_FallbackResolvesUIDs(t *testing.T) {
	applied := ApplyResult{
		ProviderIDs: []string{"prov-a", "prov-b", "prov-c"},
	}

	uids := map[string]string{
		"prov-a": "111",
		"prov-b": "555", // not among the selected accounts
		"prov-c": "333",
	}
	lookup := func(ctx context.Context, providerID string) (string, error) {
		return uids[providerID], nil
	}

	got, err := AccountProviderMap(context.Background(), []string{"111", "222", "333"}, applied, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertMapEqual(t, got, map[string]string{"111": "prov-a", "333": "prov-c"})
}

func TestAccountProviderMap_FallbackWhenExplicitMapsNothingUsable(t *testing.T) {
	applied := ApplyResult{
		Mappings: []Mapping{
			{AccountID: "999", ProviderID: "prov-z"}, // filtered out
			{AccountID: "", ProviderID: "prov-a"},    // malformed
		},
		ProviderIDs: []string{"prov-a"},
	}

	lookup := func(ctx context.Context, providerID string) (string, error) {
		return "111", nil
	}

	got, err := AccountProviderMap(context.Background(), []string{"111"}, applied, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertMapEqual(t, got, map[string]string{"111": "prov-a"})
}

func TestAccountProviderMap_FallbackSkipsLookupFailures(t *testing.T) {
	applied := ApplyResult{ProviderIDs: []string{"prov-a", "prov-b"}}

	lookup := func(ctx context.Context, providerID string) (string, error) {
		if providerID == "prov-a" {
			return "", errors.New("provider gone")
		}
		return "222", nil
	}

	got, err := AccountProviderMap(context.Background(), []string{"111", "222"}, applied, lookup)
	if err != nil {
		t.Fatalf("lookup failure must not abort reconciliation: %v", err)
	}
	assertMapEqual(t, got, map[string]string{"222": "prov-b"})
}

func TestAccountProviderMap_FallbackConcurrencyBound(t *testing.T) {
	providerIDs := make([]string, 24)
	for i := range providerIDs {
		providerIDs[i] = "prov-" + string(rune('a'+i))
	}
	applied := ApplyResult{ProviderIDs: providerIDs}

	var active, maxActive atomic.Int32
	lookup := func(ctx context.Context, providerID string) (string, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		active.Add(-1)
		return "", nil
	}

	if _, err := AccountProviderMap(context.Background(), []string{"111"}, applied, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := maxActive.Load(); got > lookupConcurrency {
		t.Errorf("observed %d concurrent lookups, limit is %d", got, lookupConcurrency)
	}
}

func TestAccountProviderMap_NoAccountsSelected(t *testing.T) {
	got, err := AccountProviderMap(context.Background(), nil, ApplyResult{ProviderIDs: []string{"prov-a"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestAccountProviderMap_DuplicateProviderIDsResolvedOnce(t *testing.T) {
	applied := ApplyResult{ProviderIDs: []string{"prov-a", "prov-a", "prov-a"}}

	var lookups atomic.Int32
	lookup := func(ctx context.Context, providerID string) (string, error) {
		lookups.Add(1)
		return "111", nil
	}

	got, err := AccountProviderMap(context.Background(), []string{"111"}, applied, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookups.Load() != 1 {
		t.Errorf("expected 1 lookup for deduplicated provider, got %d", lookups.Load())
	}
	assertMapEqual(t, got, map[string]string{"111": "prov-a"})
}

func assertMapEqual(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}
