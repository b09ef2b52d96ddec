// Package audit records every mutating authorization action in an append-only,
// checksum-chained log.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// ActionType names the kind of mutation an entry records.
type ActionType string

// Supported action types.
const (
	ActionRoleUpdate ActionType = "ROLE_UPDATE"
	ActionGrant      ActionType = "GRANT"
	ActionRevoke     ActionType = "REVOKE"
	ActionReset      ActionType = "RESET"
	ActionCacheClear ActionType = "CACHE_CLEAR"
)

// TargetType names what an entry's TargetID refers to.
type TargetType string

// Supported target types.
const (
	TargetRole   TargetType = "ROLE"
	TargetUser   TargetType = "USER"
	TargetSystem TargetType = "SYSTEM"
)

// SystemTarget is the TargetID of SYSTEM scoped entries.
const SystemTarget = "*"

// Entry is one immutable audit record. OldValue and NewValue hold full
// snapshots; diffs are computed on read.
type Entry struct {
	ID           int64           `json:"id"`
	ActionType   ActionType      `json:"actionType"`
	TargetType   TargetType      `json:"targetType"`
	TargetID     string          `json:"targetId"`
	PerformedBy  int64           `json:"performedBy"`
	PerformedAt  time.Time       `json:"performedAt"`
	OldValue     json.RawMessage `json:"oldValue"`
	NewValue     json.RawMessage `json:"newValue"`
	Reason       string          `json:"reason,omitempty"`
	PrevChecksum string          `json:"-"`
	Checksum     string          `json:"checksum"`
}

// Filters narrows a query. Zero fields impose no constraint; set fields AND together.
type Filters struct {
	ActionType  ActionType
	TargetType  TargetType
	TargetID    string
	PerformedBy *int64
	StartDate   *time.Time
	EndDate     *time.Time
}

// Page is one page of query results.
type Page struct {
	Data       []Entry           `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// ParseActionType accepts an action type in any letter case; "" means unset.
func ParseActionType(raw string) (ActionType, error) {
	v := ActionType(strings.ToUpper(strings.TrimSpace(raw)))
	switch v {
	case "", ActionRoleUpdate, ActionGrant, ActionRevoke, ActionReset, ActionCacheClear:
		return v, nil
	}
	return "", shared.E(shared.KindValidation, "unknown actionType %q", raw)
}

// ParseTargetType accepts a target type in any letter case; "" means unset.
func ParseTargetType(raw string) (TargetType, error) {
	v := TargetType(strings.ToUpper(strings.TrimSpace(raw)))
	switch v {
	case "", TargetRole, TargetUser, TargetSystem:
		return v, nil
	}
	return "", shared.E(shared.KindValidation, "unknown targetType %q", raw)
}

// Snapshot encodes v for OldValue or NewValue.
func Snapshot(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
