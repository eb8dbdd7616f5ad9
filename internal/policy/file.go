package policy

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileDocument mirrors the YAML layout of a policy file. Every field is
// optional; missing fields keep the built-in default.
type fileDocument struct {
	ApprovalMode              *string  `yaml:"approval_mode"`
	PercentageThreshold       *float64 `yaml:"percentage_threshold"`
	TimeoutDays               *int     `yaml:"timeout_days"`
	SharedRequiresApproval    *bool    `yaml:"shared_requires_approval"`
	RecurringRequiresApproval *bool    `yaml:"recurring_requires_approval"`
	DeletionRequiresApproval  *bool    `yaml:"deletion_requires_approval"`
}

// LoadFile reads the default group policy from a YAML file. An empty path
// yields Default().
func LoadFile(path string) (GroupPolicy, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return GroupPolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (GroupPolicy, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return GroupPolicy{}, fmt.Errorf("decode policy file: %w", err)
	}

	p := Default()
	if doc.ApprovalMode != nil {
		p.Mode = Mode(*doc.ApprovalMode)
	}
	if doc.PercentageThreshold != nil {
		p.PercentageThreshold = decimal.NewFromFloat(*doc.PercentageThreshold)
	}
	if doc.TimeoutDays != nil {
		p.TimeoutDays = *doc.TimeoutDays
	}
	if doc.SharedRequiresApproval != nil {
		p.SharedRequiresApproval = *doc.SharedRequiresApproval
	}
	if doc.RecurringRequiresApproval != nil {
		p.RecurringRequiresApproval = *doc.RecurringRequiresApproval
	}
	if doc.DeletionRequiresApproval != nil {
		p.DeletionRequiresApproval = *doc.DeletionRequiresApproval
	}
	if err := p.Validate(); err != nil {
		return GroupPolicy{}, fmt.Errorf("invalid policy file: %w", err)
	}
	return p, nil
}
