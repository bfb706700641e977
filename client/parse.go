package client

import (
	"encoding/json"
	"fmt"

	"github.com/provrun/provrun/reconcile"
)

// apiErrors is the backend's error array. Only the first detail is
// surfaced; the backend puts the actionable message there.
type apiErrors []struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func (e apiErrors) detail() string {
	if len(e) == 0 {
		return ""
	}
	if e[0].Detail != "" {
		return e[0].Detail
	}
	return e[0].Title
}

type taskDocument struct {
	Data *struct {
		ID         string `json:"id"`
		Attributes struct {
			State  string `json:"state"`
			Result struct {
				Connected *bool  `json:"connected"`
				Error     string `json:"error"`
			} `json:"result"`
		} `json:"attributes"`
	} `json:"data"`
	Errors apiErrors `json:"errors"`
}

type providerDocument struct {
	Data *struct {
		ID         string `json:"id"`
		Attributes struct {
			UID string `json:"uid"`
		} `json:"attributes"`
	} `json:"data"`
	Errors apiErrors `json:"errors"`
}

type scanDocument struct {
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
	Errors apiErrors `json:"errors"`
}

type scanRequest struct {
	Data struct {
		Type          string `json:"type"`
		Relationships struct {
			Provider struct {
				Data struct {
					ID   string `json:"id"`
					Type string `json:"type"`
				} `json:"data"`
			} `json:"provider"`
		} `json:"relationships"`
	} `json:"data"`
}

type applyRequest struct {
	AccountIDs []string `json:"account_ids"`
}

// applyDocument covers both response shapes the backend emits for a bulk
// apply. Older deployments embed the account/provider map in meta; newer
// ones attach the account to each provider resource as a relationship.
type applyDocument struct {
	Data []struct {
		ID            string `json:"id"`
		Relationships struct {
			Account struct {
				Data *struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"account"`
		} `json:"relationships"`
	} `json:"data"`
	Meta struct {
		AccountProviderMap []struct {
			AccountID  string `json:"account_id"`
			ProviderID string `json:"provider_id"`
		} `json:"account_provider_map"`
	} `json:"meta"`
	Errors apiErrors `json:"errors"`
}

// ParseApplyResponse normalizes a bulk-apply response into the form
// reconciliation consumes. Mapping records from both shapes are collected
// and deduplicated, with the meta-embedded records taking precedence over
// relationship-embedded ones for the same account.
func ParseApplyResponse(raw []byte) (reconcile.ApplyResult, error) {
	var doc applyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return reconcile.ApplyResult{}, fmt.Errorf("failed to decode apply response: %w", err)
	}
	if msg := doc.Errors.detail(); msg != "" {
		return reconcile.ApplyResult{}, fmt.Errorf("apply failed: %s", msg)
	}

	var result reconcile.ApplyResult
	seen := make(map[string]struct{})

	for _, m := range doc.Meta.AccountProviderMap {
		if m.AccountID == "" || m.ProviderID == "" {
			continue
		}
		if _, dup := seen[m.AccountID]; dup {
			continue
		}
		seen[m.AccountID] = struct{}{}
		result.Mappings = append(result.Mappings, reconcile.Mapping{
			AccountID:  m.AccountID,
			ProviderID: m.ProviderID,
		})
	}

	for _, p := range doc.Data {
		if p.ID != "" {
			result.ProviderIDs = append(result.ProviderIDs, p.ID)
		}
		rel := p.Relationships.Account.Data
		if rel == nil || rel.ID == "" || p.ID == "" {
			continue
		}
		if _, dup := seen[rel.ID]; dup {
			continue
		}
		seen[rel.ID] = struct{}{}
		result.Mappings = append(result.Mappings, reconcile.Mapping{
			AccountID:  rel.ID,
			ProviderID: p.ID,
		})
	}

	return result, nil
}
