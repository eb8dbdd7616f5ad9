// Package policy decides whether a proposed change to a shared item needs the
// group's agreement before it is applied.
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeNone       Mode = "none"
	ModeAll        Mode = "all"
	ModePercentage Mode = "percentage"
	ModeCustom     Mode = "custom"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeAll, ModePercentage, ModeCustom:
		return true
	default:
		return false
	}
}

// Change kinds the evaluator treats specially. The full set of kinds is owned
// by the store; the evaluator only needs to recognise these two.
const (
	KindAmount = "amount"
	KindDelete = "delete"
)

const (
	DefaultTimeoutDays = 7
	MaxTimeoutDays     = 365
)

var hundred = decimal.NewFromInt(100)

// GroupPolicy is the approval configuration of one group. It is read-only to
// the workflow and passed explicitly into RequiresApproval.
type GroupPolicy struct {
	Mode                      Mode
	PercentageThreshold       decimal.Decimal
	TimeoutDays               int
	SharedRequiresApproval    bool
	RecurringRequiresApproval bool
	DeletionRequiresApproval  bool
}

// Default is the policy of a group that never configured one.
func Default() GroupPolicy {
	return GroupPolicy{
		Mode:                     ModeAll,
		PercentageThreshold:      decimal.NewFromInt(10),
		TimeoutDays:              DefaultTimeoutDays,
		SharedRequiresApproval:   true,
		DeletionRequiresApproval: true,
	}
}

func (p GroupPolicy) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("unknown approval mode %q", p.Mode)
	}
	if p.PercentageThreshold.IsNegative() {
		return fmt.Errorf("percentage threshold must be non-negative, got %s", p.PercentageThreshold)
	}
	if p.TimeoutDays < 1 || p.TimeoutDays > MaxTimeoutDays {
		return fmt.Errorf("timeout days must be between 1 and %d, got %d", MaxTimeoutDays, p.TimeoutDays)
	}
	return nil
}

// Timeout is the time a request may stay pending before it is auto-approved.
func (p GroupPolicy) Timeout() time.Duration {
	days := p.TimeoutDays
	if days < 1 {
		days = DefaultTimeoutDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Change is the shape of a proposed change as far as policy is concerned.
// OldAmount and NewAmount are only set for changes that carry an amount.
type Change struct {
	Kind        string
	OldAmount   *decimal.Decimal
	NewAmount   *decimal.Decimal
	IsShared    bool
	IsRecurring bool
}

// RequiresApproval evaluates the rules in order; the first rule that matches
// decides. It has no side effects and does not look at the clock.
func RequiresApproval(p GroupPolicy, c Change) bool {
	switch p.Mode {
	case ModeNone:
		return false
	case ModeAll:
		return true
	}
	if p.SharedRequiresApproval && c.IsShared {
		return true
	}
	if p.RecurringRequiresApproval && c.IsRecurring {
		return true
	}
	if c.Kind == KindDelete && p.DeletionRequiresApproval {
		return true
	}
	if p.Mode == ModePercentage {
		if c.Kind != KindAmount || c.OldAmount == nil || c.NewAmount == nil {
			return true
		}
		return exceedsThreshold(*c.OldAmount, *c.NewAmount, p.PercentageThreshold)
	}
	return false
}

// ChangePercent returns |to-from| / from * 100. ok is false when from is zero.
func ChangePercent(from, to decimal.Decimal) (pct decimal.Decimal, ok bool) {
	if from.IsZero() {
		return decimal.Zero, false
	}
	return to.Sub(from).Abs().Div(from.Abs()).Mul(hundred), true
}

func exceedsThreshold(from, to, threshold decimal.Decimal) bool {
	pct, ok := ChangePercent(from, to)
	if !ok {
		// From zero, any movement is unbounded.
		return !to.IsZero()
	}
	return pct.GreaterThan(threshold)
}
