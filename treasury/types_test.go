package treasury

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeStatus(t *testing.T) {
	tests := []struct {
		name string
		safe Amount
		min  Amount
		max  Amount
		want SafeStatus
	}{
		{"below minimum", 99, 100, 1_000, SafeBelowMin},
		{"at minimum", 100, 100, 1_000, SafeWithin},
		{"at maximum", 1_000, 100, 1_000, SafeWithin},
		{"above maximum", 1_001, 100, 1_000, SafeAboveMax},
		{"no upper bound", 1_000_000, 0, 0, SafeWithin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{Balances: Balances{Safe: tt.safe}, SafeThresholdMin: tt.min, SafeThresholdMax: tt.max}
			assert.Equal(t, tt.want, s.SafeStatus())
		})
	}
}

func TestRegistryShortfall(t *testing.T) {
	s := Snapshot{Balances: Balances{Registry: 30_000}, RegistryFloatTarget: 50_000}
	assert.Equal(t, Amount(20_000), s.RegistryShortfall())

	s.Registry = 60_000
	assert.Zero(t, s.RegistryShortfall())
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, Limits{}.Validate())
	assert.NoError(t, Limits{SafeThresholdMin: 10, SafeThresholdMax: 10}.Validate())
	assert.NoError(t, Limits{SafeThresholdMin: 500}.Validate(), "zero max is unbounded")

	assert.ErrorIs(t, Limits{SafeThresholdMin: 11, SafeThresholdMax: 10}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, Limits{RegistryFloatTarget: -1}.Validate(), ErrInvalidThresholds)
}

func TestDeltas(t *testing.T) {
	d := Deltas{AccountBank: 5, AccountSafe: -5, AccountMobileMoney: 0}

	assert.Equal(t, []Account{AccountSafe, AccountBank}, d.Touched())
	assert.Equal(t, Deltas{AccountBank: -5, AccountSafe: 5, AccountMobileMoney: 0}, d.Neg())
	assert.Empty(t, Deltas{}.Touched())
}

func TestAmountDecimal(t *testing.T) {
	assert.Equal(t, "1234.50", Amount(123_450).Decimal(2).StringFixed(2))
	assert.Equal(t, "-0.07", Amount(-7).Decimal(2).StringFixed(2))
	assert.Equal(t, "5000000", Amount(5_000_000).Decimal(0).String())
}

func TestParseAccount(t *testing.T) {
	a, err := ParseAccount("mobile_money")
	require.NoError(t, err)
	assert.Equal(t, AccountMobileMoney, a)

	_, err = ParseAccount("wallet")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	assert.True(t, IsInputError(err))
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	late := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, Date("2026-03-02"), DateOf(late))
	assert.Equal(t, Date("2026-03-03"), DateOf(late.In(loc)))

	back, err := Date("2026-03-03").Time(loc)
	require.NoError(t, err)
	assert.True(t, back.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, loc)), "got %s", back)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewFixedClock(start)

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestReplayFindsBrokenRecord(t *testing.T) {
	recs := []TransactionRecord{
		{ID: "r1", Deltas: Deltas{AccountRegistry: 100}, BalancesAfter: Balances{Registry: 100}},
		{ID: "r2", Deltas: Deltas{AccountRegistry: -30}, BalancesAfter: Balances{Registry: 60}},
	}

	report := replay(recs, Balances{Registry: 70})

	assert.Equal(t, "r2", report.BrokenRecord)
	assert.Equal(t, Balances{Registry: 70}, report.Replayed)
	assert.False(t, report.Consistent)
}
