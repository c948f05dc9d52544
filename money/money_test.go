package money_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/money"
)

func TestMoney_RoundHalfUp(t *testing.T) {
	// GIVEN: A division with a repeating fraction
	// WHEN: Rounding at the policy boundary
	// THEN: Half rounds up (away from zero), at 2 places

	m := money.MustParse("145000").DivInt(6).Round()
	assert.Equal(t, "24166.67", m.StringFixed())

	// Exact half rounds up
	assert.Equal(t, "0.13", money.MustParse("0.125").Round().StringFixed())
	// Below half rounds down
	assert.Equal(t, "0.12", money.MustParse("0.124").Round().StringFixed())
}

func TestMoney_Arithmetic(t *testing.T) {
	a := money.MustParse("100.50")
	b := money.MustParse("0.25")

	assert.Equal(t, "100.75", a.Add(b).StringFixed())
	assert.Equal(t, "100.25", a.Sub(b).StringFixed())
	assert.Equal(t, "-100.50", a.Neg().StringFixed())
	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
	assert.Equal(t, b, a.Min(b))
}

func TestMoney_MulDecimal_KeepsPrecision(t *testing.T) {
	// Interest computation must not drift: 100000 * 0.075 * 6 = 45000 exactly.
	rate := decimal.RequireFromString("0.075")
	interest := money.FromInt(100000).MulDecimal(rate).MulInt(6)
	assert.True(t, interest.Equal(money.FromInt(45000)), "got %s", interest)
}

func TestMoney_ClampZero(t *testing.T) {
	assert.True(t, money.MustParse("-3").ClampZero().IsZero())
	assert.Equal(t, "3", money.MustParse("3").ClampZero().String())
}

func TestMoney_JSONRoundTrip(t *testing.T) {
	m := money.MustParse("24166.67")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"24166.67"`, string(data))

	var back money.Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}

func TestMoney_ParseRejectsGarbage(t *testing.T) {
	_, err := money.Parse("12,000")
	assert.Error(t, err)
}

func TestMoney_Tolerance(t *testing.T) {
	// Residue at or below 0.01 counts as settled.
	assert.True(t, money.MustParse("0.01").LessThanOrEqual(money.Tolerance))
	assert.False(t, money.MustParse("0.02").LessThanOrEqual(money.Tolerance))
}
