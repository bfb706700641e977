// Package reconcile resolves which backend provider was created for which
// input account after a bulk apply, and gates scan launches on connection
// test outcomes.
//
// The backend does not guarantee positional correspondence between the
// accounts submitted and the providers it creates. When the apply response
// carries explicit account/provider mapping records those are used
// directly; otherwise each created provider's external UID is resolved
// through a bounded worker pool and matched against the selected accounts.
package reconcile

import (
	"context"

	"github.com/provrun/provrun/pool"
)

// lookupConcurrency bounds concurrent UID lookups in the fallback path.
const lookupConcurrency = 5

// Mapping links one input account to the provider created for it.
type Mapping struct {
	AccountID  string
	ProviderID string
}

// ApplyResult is the normalized outcome of a bulk apply call: the explicit
// mapping records the backend reported (possibly none) and the ids of all
// providers it created. See client.ParseApplyResponse for the wire-shape
// normalization that produces it.
type ApplyResult struct {
	Mappings    []Mapping
	ProviderIDs []string
}

// UIDLookupFunc resolves a provider's external unique identifier, typically
// the cloud account id the provider was created from.
type UIDLookupFunc func(ctx context.Context, providerID string) (string, error)

// AccountProviderMap returns a mapping from account id to the provider
// created for it, with at most one entry per account. Unmatched accounts
// and providers are silently excluded; that is not an error condition.
//
// Explicit mapping records take precedence: when applied.Mappings yields at
// least one usable entry for the requested accounts, lookup is never
// invoked. Only when the explicit records are absent or map to nothing
// usable does the fallback resolve each provider's UID (through a worker
// pool bounded at lookupConcurrency) and match it against accountIDs.
// Individual lookup failures are skipped, not propagated.
func AccountProviderMap(
	ctx context.Context,
	accountIDs []string,
	applied ApplyResult,
	lookup UIDLookupFunc,
) (map[string]string, error) {
	selected := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		if id != "" {
			selected[id] = struct{}{}
		}
	}
	if len(selected) == 0 {
		return map[string]string{}, nil
	}

	if m := explicitMap(selected, applied.Mappings); len(m) > 0 {
		return m, nil
	}

	return resolveByUID(ctx, selected, applied.ProviderIDs, lookup)
}

// explicitMap filters the backend's mapping records down to the requested
// accounts. The first record for an account wins; later duplicates are
// dropped.
func explicitMap(selected map[string]struct{}, mappings []Mapping) map[string]string {
	out := make(map[string]string)
	for _, m := range mappings {
		if m.AccountID == "" || m.ProviderID == "" {
			continue
		}
		if _, ok := selected[m.AccountID]; !ok {
			continue
		}
		if _, ok := out[m.AccountID]; ok {
			continue
		}
		out[m.AccountID] = m.ProviderID
	}
	return out
}

// resolveByUID resolves every provider's UID concurrently and keeps the
// providers whose UID is one of the selected account ids.
func resolveByUID(
	ctx context.Context,
	selected map[string]struct{},
	providerIDs []string,
	lookup UIDLookupFunc,
) (map[string]string, error) {
	out := make(map[string]string)
	if lookup == nil || len(providerIDs) == 0 {
		return out, nil
	}

	ids := dedupe(providerIDs)

	type resolved struct {
		providerID string
		uid        string
		ok         bool
	}

	// Lookup failures are encoded in the result, never returned: a single
	// unresolvable provider must not abort the whole reconciliation.
	results, err := pool.Run(ctx, ids, lookupConcurrency,
		func(ctx context.Context, providerID string) (resolved, error) {
			uid, err := lookup(ctx, providerID)
			if err != nil || uid == "" {
				return resolved{providerID: providerID}, nil
			}
			return resolved{providerID: providerID, uid: uid, ok: true}, nil
		})
	if err != nil {
		return out, err
	}

	for _, r := range results {
		if !r.ok {
			continue
		}
		if _, want := selected[r.uid]; !want {
			continue
		}
		if _, taken := out[r.uid]; taken {
			continue
		}
		out[r.uid] = r.providerID
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
