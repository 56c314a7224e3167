package model

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleVerifier Role = "verifier"
	RoleIssuer   Role = "issuer"
	RoleRevoker  Role = "revoker"
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleVerifier, RoleIssuer, RoleRevoker:
		return r, nil
	}
	return "", fmt.Errorf("%w: role %q", ErrInvalidArgument, s)
}

// RoleSet is the answer of the ledger's checkRole view call.
type RoleSet struct {
	IsVerifier bool
	IsIssuer   bool
	IsRevoker  bool
}

func (s RoleSet) Has(role Role) bool {
	switch role {
	case RoleVerifier:
		return s.IsVerifier
	case RoleIssuer:
		return s.IsIssuer
	case RoleRevoker:
		return s.IsRevoker
	}
	return false
}

// RoleGrant is a ledger-confirmed role answer kept in the replica.
type RoleGrant struct {
	UniversityID uint64
	Address      string
	Role         Role
	Authorized   bool
	CheckedAt    time.Time
}

type Decision string

const (
	DecisionAuthorized   Decision = "authorized"
	DecisionUnauthorized Decision = "unauthorized"
	DecisionUnknown      Decision = "unknown"
)

type DecisionSource string

const (
	SourceLedger DecisionSource = "ledger"
	SourceCache  DecisionSource = "cache"
	SourceNone   DecisionSource = "none"
)

type AuthDecision struct {
	Decision  Decision
	Source    DecisionSource
	CheckedAt time.Time
}

func (d AuthDecision) Authorized() bool {
	return d.Decision == DecisionAuthorized
}
