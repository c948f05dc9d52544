/*
Package loan implements the loan subsystem: the amortization engine, the
eligibility engine, the lifecycle service with its approval ladder, the
repayment service, and the loan-domain ledger processor.

calculation.go - Pure loan quote and schedule computation

PURPOSE:
  Given (loan type, principal, tenure), produce the interest, total, monthly
  payment, and the full per-period schedule. No I/O, no clock reads: the
  anchor date is a parameter, so identical inputs always produce identical
  output. That stability is what makes reconciliation and re-calculation
  idempotent.

INTEREST MODEL:
  Soft loans (max duration <= 6 months): simple interest,
    interest = principal * rate * tenure
    monthly  = (principal + interest) / tenure
  Other loans: one-shot flat interest,
    interest = principal * rate
    monthly principal = principal / tenure
  and every period repeats the same (principal, interest) pair. This is
  flat interest, not reducing-balance amortization; the per-period pair is
  intentionally constant.

ROUNDING:
  Each installment is rounded half-up at 2 places independently. The sum of
  installments may differ from the total by a few cents; settlement uses
  the money.Tolerance residue, so the schedule invariant is "approximately
  equal", not exact.
*/
package loan

import (
	"time"

	"github.com/coopfin/ledger-engine/models"
	"github.com/coopfin/ledger-engine/money"
)

// ScheduleLine is one computed due period.
type ScheduleLine struct {
	Sequence    int
	PaymentDate time.Time
	Principal   money.Money
	Interest    money.Money
	Expected    money.Money
}

// Quote is the complete result of a loan calculation.
type Quote struct {
	Principal      money.Money
	Interest       money.Money
	Total          money.Money
	MonthlyPayment money.Money
	Tenure         int
	Soft           bool
	Schedule       []ScheduleLine
}

// Calculate computes a quote for the given type, principal, and tenure.
// anchor fixes the schedule's first payment month; payment dates are
// first-of-month offsets from it.
func Calculate(lt *models.LoanType, principal money.Money, tenure int, anchor time.Time) (*Quote, error) {
	if !lt.Active {
		return nil, models.Invalid("loan_type", "loan type %s is inactive", lt.Name)
	}
	if !principal.IsPositive() {
		return nil, models.Invalid("amount", "principal must be positive, got %s", principal)
	}
	if lt.MaxAmount.IsPositive() && principal.GreaterThan(lt.MaxAmount) {
		return nil, models.Invalid("amount", "principal %s exceeds loan type maximum %s",
			principal.StringFixed(), lt.MaxAmount.StringFixed())
	}
	if tenure < lt.MinDuration || tenure > lt.MaxDuration {
		return nil, models.Invalid("tenure", "tenure %d months outside [%d, %d]",
			tenure, lt.MinDuration, lt.MaxDuration)
	}

	q := &Quote{
		Principal: principal,
		Tenure:    tenure,
		Soft:      lt.IsSoft(),
	}

	if q.Soft {
		q.Interest = principal.MulDecimal(lt.InterestRate).MulInt(tenure).Round()
	} else {
		q.Interest = principal.MulDecimal(lt.InterestRate).Round()
	}
	q.Total = principal.Add(q.Interest)
	q.MonthlyPayment = q.Total.DivInt(tenure).Round()

	monthlyPrincipal := principal.DivInt(tenure).Round()
	monthlyInterest := q.Interest.DivInt(tenure).Round()

	first := firstOfNextMonth(anchor)
	q.Schedule = make([]ScheduleLine, 0, tenure)
	for i := 1; i <= tenure; i++ {
		q.Schedule = append(q.Schedule, ScheduleLine{
			Sequence:    i,
			PaymentDate: first.AddDate(0, i-1, 0),
			Principal:   monthlyPrincipal,
			Interest:    monthlyInterest,
			Expected:    monthlyPrincipal.Add(monthlyInterest),
		})
	}

	return q, nil
}

// firstOfNextMonth truncates to the first day of the month after t, UTC.
func firstOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
