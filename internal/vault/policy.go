package vault

import (
	"fmt"
	"path"
	"strings"

	"docvault/internal/model"
)

// DefaultPolicies is the built-in retention table. Periods are in days.
func DefaultPolicies() []model.RetentionPolicy {
	return []model.RetentionPolicy{
		{
			Role:                         "lender",
			RetentionPeriodDays:          3650,
			RequiredDocumentNamePatterns: []string{"agreement", "mortgage", "deed", "note", "appraisal"},
			CollateralTypes:              []string{"real_estate"},
		},
		{
			Role:                         "lender",
			RetentionPeriodDays:          2555,
			RequiredDocumentNamePatterns: []string{"agreement", "promissory", "disclosure"},
		},
		{
			Role:                         "borrower",
			RetentionPeriodDays:          1825,
			RequiredDocumentNamePatterns: []string{"agreement", "disclosure", "closing"},
		},
		{
			Role:                         "broker",
			RetentionPeriodDays:          1825,
			RequiredDocumentNamePatterns: []string{"agreement", "commission"},
			RequestTypes:                 []string{"refinance", "purchase"},
		},
		{
			Role:                         "broker",
			RetentionPeriodDays:          1095,
			RequiredDocumentNamePatterns: []string{"agreement"},
		},
		{
			Role:                         "agent",
			RetentionPeriodDays:          1095,
			RequiredDocumentNamePatterns: []string{"agreement", "contract", "listing"},
		},
		{
			Role:                         "admin",
			RetentionPeriodDays:          2555,
			RequiredDocumentNamePatterns: []string{"agreement", "kyc", "compliance"},
			InstrumentTypes:              []string{"bond", "note"},
		},
		{
			Role:                         "admin",
			RetentionPeriodDays:          2555,
			RequiredDocumentNamePatterns: []string{"agreement"},
		},
	}
}

// Resolver picks the retention policy for a role and transaction context.
// It keeps no state besides its table, so equal inputs give equal results.
type Resolver struct {
	policies []model.RetentionPolicy
}

// NewResolver returns a resolver over a copy of policies.
func NewResolver(policies []model.RetentionPolicy) *Resolver {
	cp := make([]model.RetentionPolicy, len(policies))
	for i, p := range policies {
		cp[i] = clonePolicy(p)
	}
	return &Resolver{policies: cp}
}

// Resolve returns the first policy for role whose collateral, request and
// instrument lists all accept the given values, else the first policy for
// role. Empty lists accept any value.
func (r *Resolver) Resolve(role, collateralType, requestType, instrumentType string) (model.RetentionPolicy, error) {
	fallback := -1
	for i, p := range r.policies {
		if !strings.EqualFold(p.Role, role) {
			continue
		}
		if fallback < 0 {
			fallback = i
		}
		if accepts(p.CollateralTypes, collateralType) &&
			accepts(p.RequestTypes, requestType) &&
			accepts(p.InstrumentTypes, instrumentType) {
			return clonePolicy(p), nil
		}
	}
	if fallback < 0 {
		return model.RetentionPolicy{}, fmt.Errorf("%w: %q", ErrNoPolicy, role)
	}
	return clonePolicy(r.policies[fallback]), nil
}

func accepts(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func clonePolicy(p model.RetentionPolicy) model.RetentionPolicy {
	p.RequiredDocumentNamePatterns = append([]string(nil), p.RequiredDocumentNamePatterns...)
	p.CollateralTypes = append([]string(nil), p.CollateralTypes...)
	p.RequestTypes = append([]string(nil), p.RequestTypes...)
	p.InstrumentTypes = append([]string(nil), p.InstrumentTypes...)
	return p
}

// MatchesPolicy reports whether a document name matches one of the policy's
// required patterns. Patterns are case-insensitive substrings; a pattern with
// '*' or '?' is a glob over the whole name.
func MatchesPolicy(name string, policy model.RetentionPolicy) bool {
	lower := strings.ToLower(name)
	for _, p := range policy.RequiredDocumentNamePatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?") {
			if ok, err := path.Match(p, lower); err == nil && ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
