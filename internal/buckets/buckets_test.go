package buckets

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidate(t *testing.T) {
	errs := Validate(Config{TotalUnits: 600, OverageRate: rate("2")})
	assert.True(t, errs.Valid())

	errs = Validate(Config{TotalUnits: -1, OverageRate: rate("2")})
	assert.Equal(t, "must not be negative", errs["total_units"])

	errs = Validate(Config{TotalUnits: 600, OverageRate: rate("-2")})
	assert.Equal(t, "must not be negative", errs["overage_rate"])
}

func TestValidate_ZeroBucketAllowed(t *testing.T) {
	errs := Validate(Config{TotalUnits: 0, OverageRate: rate("1.50")})
	assert.True(t, errs.Valid())
}

func TestCompute_Overage(t *testing.T) {
	// 600-minute bucket at $2/min overage, no rollover, 700 consumed.
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: false}

	ch, err := Compute(cfg, 700, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ch.OverageUnits)
	assert.True(t, ch.OverageCharge.Equal(rate("200")), "got %s", ch.OverageCharge)
	assert.Equal(t, int64(0), ch.UnitsCarried)
}

func TestCompute_UnderConsumption(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: true}

	ch, err := Compute(cfg, 400, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.OverageUnits)
	assert.True(t, ch.OverageCharge.IsZero())
	assert.Equal(t, int64(200), ch.UnitsCarried)
}

func TestCompute_NoRolloverDiscardsUnused(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: false}

	ch, err := Compute(cfg, 400, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.UnitsCarried)
}

func TestCompute_RolloverExtendsAllotment(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: true}

	// 150 carried in: effective allotment is 750.
	ch, err := Compute(cfg, 700, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.OverageUnits)
	assert.Equal(t, int64(50), ch.UnitsCarried)
}

func TestCompute_RolloverIgnoredWhenDisabled(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: false}

	// A stale rollover balance must not extend the allotment.
	ch, err := Compute(cfg, 700, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ch.OverageUnits)
	assert.True(t, ch.OverageCharge.Equal(rate("200")))
}

func TestCompute_ZeroBucket(t *testing.T) {
	cfg := Config{TotalUnits: 0, OverageRate: rate("1.50")}

	ch, err := Compute(cfg, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ch.OverageUnits)
	assert.True(t, ch.OverageCharge.Equal(rate("15")))
}

func TestCompute_ExactConsumption(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: true}

	ch, err := Compute(cfg, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.OverageUnits)
	assert.Equal(t, int64(0), ch.UnitsCarried)
}

func TestCompute_NegativeInputsRejected(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2")}

	_, err := Compute(cfg, -1, 0)
	assert.ErrorIs(t, err, ErrNegativeUnits)

	_, err = Compute(cfg, 100, -1)
	assert.ErrorIs(t, err, ErrNegativeUnits)
}

func TestCompute_Idempotent(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: true}

	first, err := Compute(cfg, 700, 50)
	require.NoError(t, err)
	second, err := Compute(cfg, 700, 50)
	require.NoError(t, err)
	assert.Equal(t, first.OverageUnits, second.OverageUnits)
	assert.True(t, first.OverageCharge.Equal(second.OverageCharge))
	assert.Equal(t, first.UnitsCarried, second.UnitsCarried)
}

func TestCompute_OverageChargeMonotonic(t *testing.T) {
	cfg := Config{TotalUnits: 600, OverageRate: rate("2"), AllowRollover: false}

	prev := decimal.Zero
	for consumed := int64(0); consumed <= 1200; consumed += 60 {
		ch, err := Compute(cfg, consumed, 0)
		require.NoError(t, err)
		assert.True(t, ch.OverageCharge.GreaterThanOrEqual(prev),
			"overage charge decreased at %d units", consumed)
		prev = ch.OverageCharge
	}
}
