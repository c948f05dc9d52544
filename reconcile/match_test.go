package reconcile_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/reconcile"
)

func configuredTypes() []*models.LoanType {
	return []*models.LoanType{
		{ID: uuid.New(), Name: "Soft Loan", Active: true},
		{ID: uuid.New(), Name: "Regular Loan", Active: true},
		{ID: uuid.New(), Name: "Development Loan", Active: true},
	}
}

func TestMatch_ExactAndNormalized(t *testing.T) {
	m := reconcile.NewMatcher(configuredTypes(), nil)

	cases := map[string]string{
		"Soft Loan":        "Soft Loan",
		"soft loan":        "Soft Loan",
		"SOFT-LOAN":        "Soft Loan",
		"  Regular  Loan ": "Regular Loan",
		"DEVELOPMENT.LOAN": "Development Loan",
	}
	for input, want := range cases {
		lt := m.Match(input)
		require.NotNil(t, lt, "input %q", input)
		assert.Equal(t, want, lt.Name, "input %q", input)
	}
}

func TestMatch_AliasTable(t *testing.T) {
	// Finance-office shorthand resolves through the alias table.
	m := reconcile.NewMatcher(configuredTypes(), nil)

	cases := map[string]string{
		"soft":      "Soft Loan",
		"SL":        "Soft Loan",
		"emergency": "Soft Loan",
		"normal":    "Regular Loan",
		"rl":        "Regular Loan",
		"dev":       "Development Loan",
	}
	for input, want := range cases {
		lt := m.Match(input)
		require.NotNil(t, lt, "input %q", input)
		assert.Equal(t, want, lt.Name, "input %q", input)
	}
}

func TestMatch_SubstringBothDirections(t *testing.T) {
	m := reconcile.NewMatcher(configuredTypes(), nil)

	// Description contains the type name.
	lt := m.Match("March repayment - regular loan deduction")
	require.NotNil(t, lt)
	assert.Equal(t, "Regular Loan", lt.Name)

	// Type name contains the description.
	lt = m.Match("development")
	require.NotNil(t, lt)
	assert.Equal(t, "Development Loan", lt.Name)
}

func TestMatch_NoMatchAndEmpty(t *testing.T) {
	m := reconcile.NewMatcher(configuredTypes(), nil)

	assert.Nil(t, m.Match("mortgage"))
	assert.Nil(t, m.Match(""))
	assert.Nil(t, m.Match("   ---   "))
}

func TestMatch_CustomAliasesReplaceDefaults(t *testing.T) {
	m := reconcile.NewMatcher(configuredTypes(), map[string]string{
		"staff": "development loan",
	})

	lt := m.Match("staff")
	require.NotNil(t, lt)
	assert.Equal(t, "Development Loan", lt.Name)

	// Default shorthand is gone once a custom table is supplied. "sl" is
	// not a substring of any configured name either.
	assert.Nil(t, m.Match("sl"))
}

func TestMatch_AmbiguityIsStable(t *testing.T) {
	// "loan" is contained in every name; the first type in name order
	// wins, every run.
	m := reconcile.NewMatcher(configuredTypes(), nil)
	for i := 0; i < 5; i++ {
		lt := m.Match("loan")
		require.NotNil(t, lt)
		assert.Equal(t, "Development Loan", lt.Name)
	}
}
