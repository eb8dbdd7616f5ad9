package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tally/api/internal/policy"
)

type ChangeKind string

const (
	KindAmount     ChangeKind = "amount"
	KindAssignment ChangeKind = "assignment"
	KindSchedule   ChangeKind = "schedule"
	KindRecurrence ChangeKind = "recurrence"
	KindDelete     ChangeKind = "delete"
	KindCreate     ChangeKind = "create"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case KindAmount, KindAssignment, KindSchedule, KindRecurrence, KindDelete, KindCreate:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAutoApproved, StatusCancelled:
		return true
	default:
		return false
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Values is an opaque key/value snapshot persisted as JSON.
type Values map[string]any

func (v Values) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(map[string]any(v))
	if err != nil {
		return nil, fmt.Errorf("marshal values: %w", err)
	}
	return string(encoded), nil
}

func (v *Values) Scan(src any) error {
	var raw []byte
	switch value := src.(type) {
	case nil:
		*v = Values{}
		return nil
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("scan values: unsupported type %T", src)
	}
	decoded := Values{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("unmarshal values: %w", err)
		}
	}
	*v = decoded
	return nil
}

type ChangeRequest struct {
	ID                string
	GroupID           string
	ItemID            string
	RequestedBy       string
	Kind              ChangeKind
	OldValues         Values
	NewValues         Values
	Reason            string
	Status            Status
	RequiredApprovals int
	ReceivedApprovals int
	ExpiresAt         time.Time
	ResolvedAt        *time.Time
	ResolutionReason  string
	CreatedAt         time.Time
}

type Vote struct {
	ID              string
	ChangeRequestID string
	VoterID         string
	Decision        Decision
	Reason          string
	CreatedAt       time.Time
}

// HistoryRecord is an append-only audit entry. ChangeRequestID is nil when
// the change was applied without a vote.
type HistoryRecord struct {
	ID              string
	GroupID         string
	ItemID          string
	Kind            ChangeKind
	OldValues       Values
	NewValues       Values
	ChangedBy       string
	WasAutoApproved bool
	ChangeRequestID *string
	CreatedAt       time.Time
}

// Item is the shared financial item a change request targets.
type Item struct {
	ID                string
	GroupID           string
	Title             string
	Amount            decimal.Decimal
	AssigneeID        *string
	DueDate           *time.Time
	StartDate         *time.Time
	EndDate           *time.Time
	Recurring         bool
	RecurrencePattern string
	Active            bool
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Group carries the group's own policy override; nil means the store
// defaults apply.
type Group struct {
	ID        string
	Name      string
	Policy    *policy.GroupPolicy
	CreatedAt time.Time
}

type Member struct {
	GroupID     string
	UserID      string
	DisplayName string
	Email       string
	Active      bool
}
