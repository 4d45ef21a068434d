package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form used for Transaction.Timestamp.
// Millisecond precision in UTC, matching what the remote already stores.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ActionKind is the kind of transaction recorded at the counter.
type ActionKind string

const (
	ActionIssue   ActionKind = "ISSUE_BOOK"
	ActionReturn  ActionKind = "RETURN_BOOK"
	ActionConsume ActionKind = "CONSUME"
	ActionRestock ActionKind = "RESTOCK"
	ActionAdjust  ActionKind = "ADJUST"
)

// RefKind classifies what the reference id points at.
type RefKind string

const (
	RefBook  RefKind = "BOOK"
	RefItem  RefKind = "ITEM"
	RefMixed RefKind = "MIXED"
)

// Actions lists every supported action in display order.
var Actions = []ActionKind{ActionIssue, ActionReturn, ActionConsume, ActionRestock, ActionAdjust}

// ParseAction parses an action name. The short forms ISSUE and RETURN are
// accepted alongside the wire names, case-insensitively.
func ParseAction(s string) (ActionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ISSUE", "ISSUE_BOOK":
		return ActionIssue, nil
	case "RETURN", "RETURN_BOOK":
		return ActionReturn, nil
	case "CONSUME":
		return ActionConsume, nil
	case "RESTOCK":
		return ActionRestock, nil
	case "ADJUST":
		return ActionAdjust, nil
	default:
		return "", fmt.Errorf("unknown action %q (want one of issue, return, consume, restock, adjust)", s)
	}
}

// RefKind returns the reference kind derived from the action.
func (a ActionKind) RefKind() RefKind {
	switch a {
	case ActionIssue, ActionReturn:
		return RefBook
	case ActionConsume, ActionRestock:
		return RefItem
	default:
		return RefMixed
	}
}

// NeedsQuantity reports whether the action carries a quantity.
func (a ActionKind) NeedsQuantity() bool {
	return a == ActionConsume || a == ActionRestock || a == ActionAdjust
}

// NeedsStudent reports whether the action must name a student.
func (a ActionKind) NeedsStudent() bool {
	return a == ActionIssue
}

// Valid reports whether a is one of the known actions.
func (a ActionKind) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Transaction is one offline-recorded action pending upload.
// Records are never mutated in place once queued; re-enqueueing the same ID
// overwrites the stored copy.
type Transaction struct {
	// ===== Identity =====
	ID       string `json:"txn_id"`
	DeviceID string `json:"device_id"`
	StaffID  string `json:"staff_id"`

	// Timestamp is the client clock at creation, formatted with TimestampLayout.
	Timestamp string `json:"timestamp"`

	// ===== Action =====
	Action  ActionKind `json:"action_type"`
	RefKind RefKind    `json:"ref_type"`
	RefID   string     `json:"ref_id"`

	// ===== Subject (ISSUE_BOOK only) =====
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`

	// Quantity is set only for CONSUME, RESTOCK and ADJUST.
	Quantity *int   `json:"quantity,omitempty"`
	Notes    string `json:"notes"`
}

// Qty returns a pointer to n, for populating Transaction.Quantity.
func Qty(n int) *int {
	return &n
}

// SetDefaults fills derived and defaulted fields.
// The timestamp is only set when empty and the reference kind is always
// recomputed from the action. Quantity is dropped for actions that ignore it.
func (t *Transaction) SetDefaults(now time.Time) {
	if t.Timestamp == "" {
		t.Timestamp = FormatTimestamp(now)
	}
	t.RefKind = t.Action.RefKind()
	if !t.Action.NeedsQuantity() {
		t.Quantity = nil
	}
	t.RefID = strings.TrimSpace(t.RefID)
	t.StaffID = strings.TrimSpace(t.StaffID)
	t.Notes = strings.TrimSpace(t.Notes)
}

// Validate checks the fields the counter form requires.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("txn_id is required")
	}
	if t.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if strings.TrimSpace(t.StaffID) == "" {
		return fmt.Errorf("staff_id is required")
	}
	if !t.Action.Valid() {
		return fmt.Errorf("action_type %q is not supported", t.Action)
	}
	if t.RefKind != t.Action.RefKind() {
		return fmt.Errorf("ref_type %q does not match action %s", t.RefKind, t.Action)
	}
	if strings.TrimSpace(t.RefID) == "" {
		return fmt.Errorf("ref_id is required")
	}
	if t.Action.NeedsQuantity() {
		if t.Quantity == nil || *t.Quantity <= 0 {
			return fmt.Errorf("quantity must be a positive number for %s", t.Action)
		}
	}
	if t.Action.NeedsStudent() && t.StudentID == "" {
		return fmt.Errorf("student_id is required for %s", t.Action)
	}
	if _, err := time.Parse(TimestampLayout, t.Timestamp); err != nil {
		return fmt.Errorf("timestamp %q is not ISO-8601: %w", t.Timestamp, err)
	}
	return nil
}

// Marshal returns the canonical stored form of the transaction.
func (t *Transaction) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction %s: %w", t.ID, err)
	}
	return data, nil
}

// UnmarshalTransaction decodes a stored transaction record.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	var t Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("transaction record has no txn_id")
	}
	return &t, nil
}

// FormatTimestamp formats t the way Transaction.Timestamp expects.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
