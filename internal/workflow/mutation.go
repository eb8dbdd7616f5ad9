package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"tally/api/internal/store"
)

// Mutation is the decoded form of a request's new values. There is one
// concrete type per change kind; the applier switches on the type.
type Mutation interface {
	Kind() store.ChangeKind
	// Values is the canonical encoding persisted on requests and history.
	Values() store.Values
	mutation()
}

type AmountMutation struct {
	Amount decimal.Decimal
}

type AssignmentMutation struct {
	// AssigneeID nil clears the assignee.
	AssigneeID *string
}

// ScheduleMutation replaces all three dates; a nil date clears it.
type ScheduleMutation struct {
	DueDate   *time.Time
	StartDate *time.Time
	EndDate   *time.Time
}

type RecurrenceMutation struct {
	Recurring bool
	Pattern   string
}

type DeleteMutation struct{}

type CreateMutation struct {
	Title      string
	Amount     decimal.Decimal
	AssigneeID *string
	DueDate    *time.Time
	StartDate  *time.Time
	EndDate    *time.Time
	Recurring  bool
	Pattern    string
}

func (AmountMutation) Kind() store.ChangeKind     { return store.KindAmount }
func (AssignmentMutation) Kind() store.ChangeKind { return store.KindAssignment }
func (ScheduleMutation) Kind() store.ChangeKind   { return store.KindSchedule }
func (RecurrenceMutation) Kind() store.ChangeKind { return store.KindRecurrence }
func (DeleteMutation) Kind() store.ChangeKind     { return store.KindDelete }
func (CreateMutation) Kind() store.ChangeKind     { return store.KindCreate }

func (AmountMutation) mutation()     {}
func (AssignmentMutation) mutation() {}
func (ScheduleMutation) mutation()   {}
func (RecurrenceMutation) mutation() {}
func (DeleteMutation) mutation()     {}
func (CreateMutation) mutation()     {}

func (m AmountMutation) Values() store.Values {
	return store.Values{"amount": m.Amount.String()}
}

func (m AssignmentMutation) Values() store.Values {
	return store.Values{"assignee_id": stringValue(m.AssigneeID)}
}

func (m ScheduleMutation) Values() store.Values {
	return store.Values{
		"due_date":   timeValue(m.DueDate),
		"start_date": timeValue(m.StartDate),
		"end_date":   timeValue(m.EndDate),
	}
}

func (m RecurrenceMutation) Values() store.Values {
	return store.Values{"recurring": m.Recurring, "recurrence_pattern": m.Pattern}
}

func (DeleteMutation) Values() store.Values {
	return store.Values{"active": false}
}

func (m CreateMutation) Values() store.Values {
	return store.Values{
		"title":              m.Title,
		"amount":             m.Amount.String(),
		"assignee_id":        stringValue(m.AssigneeID),
		"due_date":           timeValue(m.DueDate),
		"start_date":         timeValue(m.StartDate),
		"end_date":           timeValue(m.EndDate),
		"recurring":          m.Recurring,
		"recurrence_pattern": m.Pattern,
	}
}

// DecodeMutation validates new values for a change kind. Failures wrap
// ErrInvalidInput.
func DecodeMutation(kind store.ChangeKind, values store.Values) (Mutation, error) {
	if !kind.Valid() {
		return nil, invalidInput("unknown change kind %q", kind)
	}
	if kind == store.KindDelete {
		return DeleteMutation{}, nil
	}
	raw, err := json.Marshal(map[string]any(values))
	if err != nil {
		return nil, invalidInput("encode new values: %v", err)
	}

	switch kind {
	case store.KindAmount:
		var doc struct {
			Amount *decimal.Decimal `json:"amount"`
		}
		if err := decodeStrict(raw, &doc); err != nil {
			return nil, err
		}
		if doc.Amount == nil {
			return nil, invalidInput("amount is required")
		}
		if doc.Amount.IsNegative() {
			return nil, invalidInput("amount must not be negative")
		}
		return AmountMutation{Amount: *doc.Amount}, nil

	case store.KindAssignment:
		var doc struct {
			AssigneeID *string `json:"assignee_id"`
		}
		if err := decodeStrict(raw, &doc); err != nil {
			return nil, err
		}
		return AssignmentMutation{AssigneeID: trimmedPtr(doc.AssigneeID)}, nil

	case store.KindSchedule:
		var doc struct {
			DueDate   *dateValue `json:"due_date"`
			StartDate *dateValue `json:"start_date"`
			EndDate   *dateValue `json:"end_date"`
		}
		if err := decodeStrict(raw, &doc); err != nil {
			return nil, err
		}
		m := ScheduleMutation{DueDate: doc.DueDate.ptr(), StartDate: doc.StartDate.ptr(), EndDate: doc.EndDate.ptr()}
		if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
			return nil, invalidInput("end_date must not be before start_date")
		}
		return m, nil

	case store.KindRecurrence:
		var doc struct {
			Recurring *bool  `json:"recurring"`
			Pattern   string `json:"recurrence_pattern"`
		}
		if err := decodeStrict(raw, &doc); err != nil {
			return nil, err
		}
		if doc.Recurring == nil {
			return nil, invalidInput("recurring is required")
		}
		m := RecurrenceMutation{Recurring: *doc.Recurring, Pattern: strings.TrimSpace(doc.Pattern)}
		if !m.Recurring {
			m.Pattern = ""
		} else if m.Pattern == "" {
			return nil, invalidInput("recurrence_pattern is required when recurring")
		}
		return m, nil

	case store.KindCreate:
		var doc struct {
			Title      string           `json:"title"`
			Amount     *decimal.Decimal `json:"amount"`
			AssigneeID *string          `json:"assignee_id"`
			DueDate    *dateValue       `json:"due_date"`
			StartDate  *dateValue       `json:"start_date"`
			EndDate    *dateValue       `json:"end_date"`
			Recurring  bool             `json:"recurring"`
			Pattern    string           `json:"recurrence_pattern"`
		}
		if err := decodeStrict(raw, &doc); err != nil {
			return nil, err
		}
		m := CreateMutation{
			Title:      strings.TrimSpace(doc.Title),
			AssigneeID: trimmedPtr(doc.AssigneeID),
			DueDate:    doc.DueDate.ptr(),
			StartDate:  doc.StartDate.ptr(),
			EndDate:    doc.EndDate.ptr(),
			Recurring:  doc.Recurring,
			Pattern:    strings.TrimSpace(doc.Pattern),
		}
		if m.Title == "" {
			return nil, invalidInput("title is required")
		}
		if doc.Amount == nil {
			return nil, invalidInput("amount is required")
		}
		if doc.Amount.IsNegative() {
			return nil, invalidInput("amount must not be negative")
		}
		m.Amount = *doc.Amount
		if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
			return nil, invalidInput("end_date must not be before start_date")
		}
		if m.Recurring && m.Pattern == "" {
			return nil, invalidInput("recurrence_pattern is required when recurring")
		}
		if !m.Recurring {
			m.Pattern = ""
		}
		return m, nil
	}
	return nil, invalidInput("unsupported change kind %q", kind)
}

func decodeStrict(raw []byte, into any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return errors.Wrap(ErrInvalidInput, err.Error())
	}
	return nil
}

// snapshotValues captures the fields of item that a change of kind touches.
func snapshotValues(kind store.ChangeKind, item store.Item) store.Values {
	switch kind {
	case store.KindAmount:
		return store.Values{"amount": item.Amount.String()}
	case store.KindAssignment:
		return store.Values{"assignee_id": stringValue(item.AssigneeID)}
	case store.KindSchedule:
		return store.Values{
			"due_date":   timeValue(item.DueDate),
			"start_date": timeValue(item.StartDate),
			"end_date":   timeValue(item.EndDate),
		}
	case store.KindRecurrence:
		return store.Values{"recurring": item.Recurring, "recurrence_pattern": item.RecurrencePattern}
	case store.KindDelete:
		return store.Values{
			"title":              item.Title,
			"amount":             item.Amount.String(),
			"assignee_id":        stringValue(item.AssigneeID),
			"due_date":           timeValue(item.DueDate),
			"start_date":         timeValue(item.StartDate),
			"end_date":           timeValue(item.EndDate),
			"recurring":          item.Recurring,
			"recurrence_pattern": item.RecurrencePattern,
			"active":             item.Active,
		}
	default:
		return store.Values{}
	}
}

// dateValue accepts RFC 3339 timestamps and plain dates.
type dateValue struct {
	time.Time
}

func (d *dateValue) UnmarshalJSON(raw []byte) error {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			d.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", value)
}

func (d *dateValue) ptr() *time.Time {
	if d == nil {
		return nil
	}
	v := d.Time
	return &v
}

func stringValue(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func timeValue(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
