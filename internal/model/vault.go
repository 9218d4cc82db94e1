package model

import (
	"strings"
	"time"
)

// VerificationStatus is the outcome of external document verification.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// LockRecord is the lock/retention status of one document within one transaction.
// Records are created lazily and never deleted.
type LockRecord struct {
	DocumentID             string             `json:"document_id"`
	TransactionID          string             `json:"transaction_id"`
	IsLocked               bool               `json:"is_locked"`
	LockedBy               string             `json:"locked_by,omitempty"`
	LockedAt               *time.Time         `json:"locked_at,omitempty"`
	CanBeUnlocked          bool               `json:"can_be_unlocked"`
	UnlockedAfterFunding   bool               `json:"unlocked_after_funding"`
	RetentionPolicyApplied bool               `json:"retention_policy_applied"`
	RetentionEndDate       *time.Time         `json:"retention_end_date,omitempty"`
	VerificationStatus     VerificationStatus `json:"verification_status"`
	Proof                  string             `json:"proof,omitempty"`
	VerifiedAt             *time.Time         `json:"verified_at,omitempty"`
	Version                uint64             `json:"version"`
}

// RetentionLocked reports whether the record is held by a retention policy.
func (r LockRecord) RetentionLocked() bool {
	return r.IsLocked && r.RetentionPolicyApplied && !r.CanBeUnlocked
}

// RetentionPolicy is a role and context specific rule for how long documents
// must remain locked. Empty CollateralTypes, RequestTypes or InstrumentTypes
// match any value.
type RetentionPolicy struct {
	Role                         string   `json:"role"`
	RetentionPeriodDays          int      `json:"retention_period_days"`
	RequiredDocumentNamePatterns []string `json:"required_document_name_patterns"`
	CollateralTypes              []string `json:"collateral_types,omitempty"`
	RequestTypes                 []string `json:"request_types,omitempty"`
	InstrumentTypes              []string `json:"instrument_types,omitempty"`
}

// Permission grants an actor a class of vault operations.
type Permission string

const (
	PermissionEdit  Permission = "edit"
	PermissionAdmin Permission = "admin"
)

// Actor is the user on whose behalf a vault operation runs.
type Actor struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// NewActor builds an actor with the default permissions of its role.
func NewActor(id, role string) Actor {
	role = strings.ToLower(strings.TrimSpace(role))
	var perms []Permission
	switch role {
	case "admin":
		perms = []Permission{PermissionEdit, PermissionAdmin}
	case "lender", "borrower", "broker", "agent":
		perms = []Permission{PermissionEdit}
	}
	return Actor{ID: id, Role: role, Permissions: perms}
}

// Has reports whether the actor holds p.
func (a Actor) Has(p Permission) bool {
	for _, q := range a.Permissions {
		if q == p {
			return true
		}
	}
	return false
}

// ActivityEntry is one line of the append-only vault activity log.
type ActivityEntry struct {
	DocumentID    string    `json:"document_id"`
	TransactionID string    `json:"transaction_id"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	At            time.Time `json:"at"`
	Detail        string    `json:"detail,omitempty"`
}
