// Package schedule generates loan amortization schedules. All formulas work
// on unrounded values; rounding to the smallest currency unit happens only
// when a row is materialized, and the final row absorbs the rounding residue
// so that principal portions sum exactly to the loan principal.
package schedule

import (
	"fmt"
	"math"

	"github.com/interestplan/mortgage-agent/pkg/constants"
	"github.com/interestplan/mortgage-agent/pkg/mathutil"
)

// Method identifies the repayment plan for a loan.
type Method string

const (
	// MethodEqualPayment keeps the total payment constant per period.
	MethodEqualPayment Method = "equal_payment"

	// MethodEqualPrincipal keeps the principal portion constant per period.
	MethodEqualPrincipal Method = "equal_principal"
)

// NormalizeMethod validates a raw method string and resolves known aliases.
func NormalizeMethod(raw string) (Method, error) {
	switch raw {
	case "equal_payment", "annuity", "equal_installment":
		return MethodEqualPayment, nil
	case "equal_principal", "principal":
		return MethodEqualPrincipal, nil
	case "":
		return "", fmt.Errorf("repayment method is required")
	default:
		return "", fmt.Errorf("unsupported repayment method: %s", raw)
	}
}

// LoanTerms holds the immutable inputs for one loan.
type LoanTerms struct {
	Principal         float64
	AnnualRatePercent float64
	TermMonths        int
	Method            Method
}

// MonthlyRate converts the annual percentage rate into a monthly decimal rate.
func (t LoanTerms) MonthlyRate() float64 {
	return t.AnnualRatePercent / constants.PercentageMultiplier / constants.MonthsPerYear
}

// Row is one period of an amortization schedule.
type Row struct {
	PeriodIndex      int     `json:"periodIndex"`
	Payment          float64 `json:"paymentTotal"`
	Principal        float64 `json:"principalPortion"`
	Interest         float64 `json:"interestPortion"`
	RemainingBalance float64 `json:"remainingBalance"`
}

// Schedule is an ordered sequence of rows covering a full term.
type Schedule []Row

// TotalInterest sums the interest portion across all rows.
func (s Schedule) TotalInterest() float64 {
	total := 0.0
	for _, row := range s {
		total += row.Interest
	}
	return total
}

// TotalPayment sums the payment across all rows.
func (s Schedule) TotalPayment() float64 {
	total := 0.0
	for _, row := range s {
		total += row.Payment
	}
	return total
}

// ComputeError reports an internal arithmetic inconsistency. Upstream
// guardrails should make it unreachable; when it surfaces it is a defect,
// not a caller-fixable condition.
type ComputeError struct {
	Op     string
	Reason string
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// MonthlyPayment calculates the constant payment for an equal-payment loan
// using the standard annuity formula. Zero-rate loans fall back to a flat
// division of principal over the term.
func MonthlyPayment(principal, annualRatePercent float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	if annualRatePercent == 0 {
		return principal / float64(termMonths)
	}

	periodicRate := annualRatePercent / (constants.PercentageMultiplier * constants.MonthsPerYear)
	power := math.Pow(1.00+periodicRate, float64(termMonths))
	return principal * periodicRate * power / (power - 1.00)
}

// RemainingBalance computes the outstanding principal after paidPeriods
// payments using the closed-form balance formula, without materializing rows.
// The result is unrounded.
func RemainingBalance(terms LoanTerms, paidPeriods int) float64 {
	if paidPeriods <= 0 {
		return terms.Principal
	}
	if paidPeriods >= terms.TermMonths {
		return 0
	}

	n := float64(terms.TermMonths)
	k := float64(paidPeriods)
	r := terms.MonthlyRate()

	if terms.Method == MethodEqualPrincipal || r == 0 {
		return terms.Principal * (n - k) / n
	}

	power := math.Pow(1+r, n)
	return terms.Principal * (power - math.Pow(1+r, k)) / (power - 1)
}

// Generate produces the full period-by-period schedule for the given terms.
// Terms are assumed to have passed validation; structurally impossible
// inputs surface as a ComputeError.
func Generate(terms LoanTerms) (Schedule, error) {
	if terms.Principal <= 0 {
		return nil, &ComputeError{Op: "schedule.Generate", Reason: "principal must be positive"}
	}
	if terms.TermMonths <= 0 {
		return nil, &ComputeError{Op: "schedule.Generate", Reason: "term must be positive"}
	}

	switch terms.Method {
	case MethodEqualPrincipal:
		return generateEqualPrincipal(terms), nil
	case MethodEqualPayment:
		return generateEqualPayment(terms), nil
	default:
		return nil, &ComputeError{Op: "schedule.Generate", Reason: fmt.Sprintf("unknown method %q", terms.Method)}
	}
}

func generateEqualPayment(terms LoanTerms) Schedule {
	n := terms.TermMonths
	r := terms.MonthlyRate()
	payment := mathutil.Round(MonthlyPayment(terms.Principal, terms.AnnualRatePercent, n))

	rows := make(Schedule, 0, n)
	balance := terms.Principal
	for i := 1; i < n; i++ {
		interest := mathutil.Round(balance * r)
		principal := mathutil.Round(mathutil.Min(payment-interest, balance))
		balance = mathutil.Round(balance - principal)
		// The effective payment shrinks with the principal portion when the
		// balance runs out before the term does.
		rowPayment := payment
		if !mathutil.WithinTolerance(principal+interest, payment, constants.CurrencyTolerance) {
			rowPayment = mathutil.Round(principal + interest)
		}
		rows = append(rows, Row{
			PeriodIndex:      i,
			Payment:          rowPayment,
			Principal:        principal,
			Interest:         interest,
			RemainingBalance: balance,
		})
	}

	// Final row absorbs the rounding residue so the balance lands on zero.
	interest := mathutil.Round(balance * r)
	principal := mathutil.Round(balance)
	rows = append(rows, Row{
		PeriodIndex:      n,
		Payment:          mathutil.Round(principal + interest),
		Principal:        principal,
		Interest:         interest,
		RemainingBalance: 0,
	})
	return rows
}

func generateEqualPrincipal(terms LoanTerms) Schedule {
	n := terms.TermMonths
	r := terms.MonthlyRate()
	principalPart := mathutil.Round(terms.Principal / float64(n))

	rows := make(Schedule, 0, n)
	balance := terms.Principal
	for i := 1; i < n; i++ {
		interest := mathutil.Round(balance * r)
		principal := mathutil.Round(mathutil.Min(principalPart, balance))
		balance = mathutil.Round(balance - principal)
		rows = append(rows, Row{
			PeriodIndex:      i,
			Payment:          mathutil.Round(principal + interest),
			Principal:        principal,
			Interest:         interest,
			RemainingBalance: balance,
		})
	}

	interest := mathutil.Round(balance * r)
	principal := mathutil.Round(balance)
	rows = append(rows, Row{
		PeriodIndex:      n,
		Payment:          mathutil.Round(principal + interest),
		Principal:        principal,
		Interest:         interest,
		RemainingBalance: 0,
	})
	return rows
}

// GenerateFixedPrincipal materializes a schedule that repays a constant
// principal portion per period until the balance reaches zero, with the last
// row absorbing the remainder. Used when an equal-principal loan keeps its
// original principal portion after a prepayment.
func GenerateFixedPrincipal(principal, annualRatePercent, principalPart float64) (Schedule, error) {
	if principal <= 0 || principalPart <= 0 {
		return nil, &ComputeError{Op: "schedule.GenerateFixedPrincipal", Reason: "principal and principal portion must be positive"}
	}

	r := annualRatePercent / (constants.PercentageMultiplier * constants.MonthsPerYear)
	part := mathutil.Round(principalPart)
	n := int(math.Ceil(principal/part - 1e-9))

	rows := make(Schedule, 0, n)
	balance := principal
	for i := 1; i <= n; i++ {
		interest := mathutil.Round(balance * r)
		principalPortion := mathutil.Round(mathutil.Min(part, balance))
		if i == n {
			principalPortion = mathutil.Round(balance)
		}
		balance = mathutil.Round(balance - principalPortion)
		if i == n {
			balance = 0
		}
		rows = append(rows, Row{
			PeriodIndex:      i,
			Payment:          mathutil.Round(principalPortion + interest),
			Principal:        principalPortion,
			Interest:         interest,
			RemainingBalance: balance,
		})
	}
	return rows, nil
}

// FixedPaymentTerm solves for the number of periods needed to amortize the
// principal when the payment is held constant, using the closed-form term
// formula. The payment must cover at least the first period's interest.
func FixedPaymentTerm(principal, annualRatePercent, payment float64) (int, error) {
	if payment <= 0 {
		return 0, &ComputeError{Op: "schedule.FixedPaymentTerm", Reason: "payment must be positive"}
	}
	if principal <= 0 {
		return 0, nil
	}

	r := annualRatePercent / (constants.PercentageMultiplier * constants.MonthsPerYear)
	if r == 0 {
		return int(math.Ceil(principal / payment)), nil
	}

	if payment <= principal*r {
		return 0, &ComputeError{Op: "schedule.FixedPaymentTerm", Reason: "payment does not cover monthly interest"}
	}
	term := math.Log(payment/(payment-principal*r)) / math.Log(1+r)
	return int(math.Ceil(term - 1e-9)), nil
}

// GenerateFixedPayment materializes the schedule for a loan repaid with a
// constant payment amount until the balance reaches zero. The last payment
// shrinks to whatever remains. maxPeriods bounds the iteration as a safety
// net against payments that barely cover interest.
func GenerateFixedPayment(principal, annualRatePercent, payment float64, maxPeriods int) (Schedule, error) {
	if principal <= 0 || payment <= 0 {
		return nil, &ComputeError{Op: "schedule.GenerateFixedPayment", Reason: "principal and payment must be positive"}
	}

	r := annualRatePercent / (constants.PercentageMultiplier * constants.MonthsPerYear)
	rows := make(Schedule, 0, maxPeriods)
	balance := principal
	roundedPayment := mathutil.Round(payment)

	for i := 1; i <= maxPeriods; i++ {
		interest := mathutil.Round(balance * r)
		principalPart := mathutil.Round(roundedPayment - interest)
		if principalPart <= 0 {
			return nil, &ComputeError{Op: "schedule.GenerateFixedPayment", Reason: "payment does not cover monthly interest"}
		}

		if principalPart >= balance {
			principalPart = mathutil.Round(balance)
			rows = append(rows, Row{
				PeriodIndex:      i,
				Payment:          mathutil.Round(principalPart + interest),
				Principal:        principalPart,
				Interest:         interest,
				RemainingBalance: 0,
			})
			return rows, nil
		}

		balance = mathutil.Round(balance - principalPart)
		rows = append(rows, Row{
			PeriodIndex:      i,
			Payment:          roundedPayment,
			Principal:        principalPart,
			Interest:         interest,
			RemainingBalance: balance,
		})
	}

	return nil, &ComputeError{Op: "schedule.GenerateFixedPayment", Reason: "balance not repaid within period bound"}
}
