package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestRequiresApproval(t *testing.T) {
	percentage := GroupPolicy{Mode: ModePercentage, PercentageThreshold: decimal.NewFromInt(10), TimeoutDays: 5}

	cases := []struct {
		name   string
		policy GroupPolicy
		change Change
		want   bool
	}{
		{
			name:   "none never requires approval",
			policy: GroupPolicy{Mode: ModeNone, SharedRequiresApproval: true, DeletionRequiresApproval: true},
			change: Change{Kind: KindDelete, IsShared: true},
			want:   false,
		},
		{
			name:   "all always requires approval",
			policy: GroupPolicy{Mode: ModeAll},
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(100)},
			want:   true,
		},
		{
			name:   "custom shared item",
			policy: GroupPolicy{Mode: ModeCustom, SharedRequiresApproval: true},
			change: Change{Kind: "schedule", IsShared: true},
			want:   true,
		},
		{
			name:   "custom unshared item",
			policy: GroupPolicy{Mode: ModeCustom, SharedRequiresApproval: true},
			change: Change{Kind: "schedule"},
			want:   false,
		},
		{
			name:   "custom recurring item",
			policy: GroupPolicy{Mode: ModeCustom, RecurringRequiresApproval: true},
			change: Change{Kind: "assignment", IsRecurring: true},
			want:   true,
		},
		{
			name:   "custom deletion",
			policy: GroupPolicy{Mode: ModeCustom, DeletionRequiresApproval: true},
			change: Change{Kind: KindDelete},
			want:   true,
		},
		{
			name:   "custom deletion without flag",
			policy: GroupPolicy{Mode: ModeCustom},
			change: Change{Kind: KindDelete},
			want:   false,
		},
		{
			name:   "percentage above threshold",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(116)},
			want:   true,
		},
		{
			name:   "percentage below threshold",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(105)},
			want:   false,
		},
		{
			name:   "percentage decrease above threshold",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(80)},
			want:   true,
		},
		{
			name:   "percentage exactly at threshold",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(110)},
			want:   false,
		},
		{
			name:   "percentage non-amount change",
			policy: percentage,
			change: Change{Kind: "assignment"},
			want:   true,
		},
		{
			name:   "percentage from zero",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(0), NewAmount: amount(1)},
			want:   true,
		},
		{
			name:   "percentage zero to zero",
			policy: percentage,
			change: Change{Kind: KindAmount, OldAmount: amount(0), NewAmount: amount(0)},
			want:   false,
		},
		{
			name:   "percentage shared flag wins before magnitude",
			policy: GroupPolicy{Mode: ModePercentage, PercentageThreshold: decimal.NewFromInt(50), SharedRequiresApproval: true},
			change: Change{Kind: KindAmount, OldAmount: amount(100), NewAmount: amount(101), IsShared: true},
			want:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RequiresApproval(tc.policy, tc.change); got != tc.want {
				t.Fatalf("RequiresApproval() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChangePercent(t *testing.T) {
	pct, ok := ChangePercent(decimal.NewFromInt(100), decimal.NewFromInt(116))
	require.True(t, ok)
	assert.True(t, pct.Equal(decimal.NewFromInt(16)), "got %s", pct)

	_, ok = ChangePercent(decimal.Zero, decimal.NewFromInt(5))
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	bad := Default()
	bad.Mode = "sometimes"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.TimeoutDays = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.PercentageThreshold = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())
}

func TestParse(t *testing.T) {
	p, err := Parse([]byte(`
approval_mode: percentage
percentage_threshold: 12.5
timeout_days: 3
shared_requires_approval: false
`))
	require.NoError(t, err)
	assert.Equal(t, ModePercentage, p.Mode)
	assert.True(t, p.PercentageThreshold.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 3, p.TimeoutDays)
	assert.False(t, p.SharedRequiresApproval)
	// Untouched fields keep their defaults.
	assert.True(t, p.DeletionRequiresApproval)

	_, err = Parse([]byte("approval_mode: maybe\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	p, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("approval_mode: none\n"), 0o600))
	p, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeNone, p.Mode)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
