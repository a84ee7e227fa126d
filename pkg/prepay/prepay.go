// Package prepay evaluates lump-sum prepayment scenarios for a running loan.
// Given the paid periods and a lump amount it produces two alternative
// schedules, the interest saved by each, and an optional comparison against
// investing the lump sum instead.
package prepay

import (
	"math"

	"github.com/interestplan/mortgage-agent/pkg/constants"
	"github.com/interestplan/mortgage-agent/pkg/mathutil"
	"github.com/interestplan/mortgage-agent/pkg/schedule"
)

// Critical point reasons for the baseline remaining schedule.
const (
	// ReasonInterestBelowPrincipal marks the first period where the monthly
	// interest drops below the monthly principal.
	ReasonInterestBelowPrincipal = "monthly_interest_below_principal"

	// ReasonRemainingInterestBelowTenPercent marks the first period where the
	// remaining total interest falls under 10% of the remaining total payment.
	ReasonRemainingInterestBelowTenPercent = "remaining_interest_below_10_percent"
)

// remainingInterestThreshold is the cutoff ratio for the second critical
// point reason.
const remainingInterestThreshold = 0.10

// Request describes a planned lump-sum prepayment.
type Request struct {
	// PaidPeriods is how many monthly payments have already been made.
	PaidPeriods int

	// Amount is the lump sum to pay against the outstanding principal.
	Amount float64

	// InvestAnnualRatePercent, when set, triggers the invest-vs-prepay
	// comparison at that annual return.
	InvestAnnualRatePercent *float64
}

// CriticalPoint flags the remaining period after which further prepayment
// yields little benefit. Indexes start at 1 within the remaining schedule.
type CriticalPoint struct {
	PeriodIndex int    `json:"periodIndex"`
	Reason      string `json:"reason"`
}

// InvestComparison contrasts investing the lump sum against prepaying it.
type InvestComparison struct {
	InvestAnnualRatePercent float64 `json:"investAnnualRatePercent"`
	FutureValue             float64 `json:"futureValue"`
	InvestmentGain          float64 `json:"investmentGain"`
	BestInterestSaved       float64 `json:"bestInterestSaved"`
	Recommendation          string  `json:"recommendation"`
}

// Result summarizes the baseline and both prepayment strategies.
type Result struct {
	PaidPeriods        int     `json:"paidPeriods"`
	RemainingMonths    int     `json:"remainingMonths"`
	RemainingPrincipal float64 `json:"remainingPrincipal"`

	OriginalMonthlyPayment float64 `json:"originalMonthlyPayment"`
	ReducedMonthlyPayment  float64 `json:"reducedMonthlyPayment"`
	ShortenMonths          int     `json:"shortenMonths"`

	BaseRemainingInterest        float64 `json:"baseRemainingInterest"`
	SavingsShortenInterest       float64 `json:"savingsShortenInterest"`
	SavingsReducePaymentInterest float64 `json:"savingsReducePaymentInterest"`

	BaseSchedule    schedule.Schedule `json:"baseSchedule"`
	ReduceSchedule  schedule.Schedule `json:"reduceSchedule"`
	ShortenSchedule schedule.Schedule `json:"shortenSchedule"`

	InterestByYear map[int]float64   `json:"interestByYear"`
	CriticalPoint  *CriticalPoint    `json:"criticalPoint,omitempty"`
	Invest         *InvestComparison `json:"invest,omitempty"`
}

// Simulate evaluates both prepayment strategies for a validated request.
// The shorten-term strategy holds the periodic payment (or principal
// portion) and shrinks the term; the reduce-payment strategy holds the
// remaining term and lowers the payment. Savings compare each new schedule
// against the unmodified remainder of the original one.
func Simulate(terms schedule.LoanTerms, req Request) (*Result, error) {
	k := req.PaidPeriods
	remainingMonths := terms.TermMonths - k

	remainingPrincipal := schedule.RemainingBalance(terms, k)
	newPrincipal := remainingPrincipal - req.Amount
	if newPrincipal < 0 {
		return nil, &schedule.ComputeError{
			Op:     "prepay.Simulate",
			Reason: "prepayment exceeds remaining balance after validation",
		}
	}

	full, err := schedule.Generate(terms)
	if err != nil {
		return nil, err
	}
	baseRemaining := reindex(full[k:])
	baseInterest := baseRemaining.TotalInterest()
	originalPayment := baseRemaining[0].Payment

	reduceSchedule, err := reducePayment(terms, newPrincipal, remainingMonths)
	if err != nil {
		return nil, err
	}
	shortenSchedule, err := shortenTerm(terms, newPrincipal, originalPayment, remainingMonths)
	if err != nil {
		return nil, err
	}

	result := &Result{
		PaidPeriods:                  k,
		RemainingMonths:              remainingMonths,
		RemainingPrincipal:           mathutil.Round(remainingPrincipal),
		OriginalMonthlyPayment:       originalPayment,
		ShortenMonths:                len(shortenSchedule),
		BaseRemainingInterest:        mathutil.Round(baseInterest),
		SavingsShortenInterest:       mathutil.Round(mathutil.Max(0, baseInterest-shortenSchedule.TotalInterest())),
		SavingsReducePaymentInterest: mathutil.Round(mathutil.Max(0, baseInterest-reduceSchedule.TotalInterest())),
		BaseSchedule:                 baseRemaining,
		ReduceSchedule:               reduceSchedule,
		ShortenSchedule:              shortenSchedule,
		InterestByYear:               interestByYear(baseRemaining),
		CriticalPoint:                findCriticalPoint(baseRemaining),
	}
	if len(reduceSchedule) > 0 {
		result.ReducedMonthlyPayment = reduceSchedule[0].Payment
	}

	if req.InvestAnnualRatePercent != nil {
		result.Invest = compareInvestment(*req.InvestAnnualRatePercent, req.Amount, remainingMonths,
			mathutil.Max(result.SavingsShortenInterest, result.SavingsReducePaymentInterest))
	}

	return result, nil
}

func reducePayment(terms schedule.LoanTerms, newPrincipal float64, remainingMonths int) (schedule.Schedule, error) {
	// A sub-cent residual balance counts as fully repaid.
	if !mathutil.IsPositive(newPrincipal) {
		return schedule.Schedule{}, nil
	}
	return schedule.Generate(schedule.LoanTerms{
		Principal:         mathutil.Round(newPrincipal),
		AnnualRatePercent: terms.AnnualRatePercent,
		TermMonths:        remainingMonths,
		Method:            terms.Method,
	})
}

func shortenTerm(terms schedule.LoanTerms, newPrincipal, originalPayment float64, remainingMonths int) (schedule.Schedule, error) {
	if !mathutil.IsPositive(newPrincipal) {
		return schedule.Schedule{}, nil
	}

	rounded := mathutil.Round(newPrincipal)
	if terms.Method == schedule.MethodEqualPrincipal {
		part := mathutil.Round(terms.Principal / float64(terms.TermMonths))
		return schedule.GenerateFixedPrincipal(rounded, terms.AnnualRatePercent, part)
	}

	// Hold the original payment; the closed-form term bounds the iteration,
	// with one extra period for per-row rounding drift.
	term, err := schedule.FixedPaymentTerm(rounded, terms.AnnualRatePercent, originalPayment)
	if err != nil {
		return nil, err
	}
	return schedule.GenerateFixedPayment(rounded, terms.AnnualRatePercent, originalPayment, term+1)
}

// interestByYear aggregates interest by loan year of the remaining schedule
// (year 1 = periods 1-12, year 2 = periods 13-24, ...).
func interestByYear(rows schedule.Schedule) map[int]float64 {
	totals := make(map[int]float64)
	for _, row := range rows {
		year := (row.PeriodIndex-1)/constants.MonthsPerYear + 1
		totals[year] = mathutil.Round(totals[year] + row.Interest)
	}
	return totals
}

// findCriticalPoint scans the remaining schedule for the first period where
// prepaying stops being attractive: interest falls below principal, or the
// remaining interest share of remaining payments drops under the threshold.
func findCriticalPoint(rows schedule.Schedule) *CriticalPoint {
	if len(rows) == 0 {
		return nil
	}

	suffixInterest := make([]float64, len(rows)+1)
	suffixPayment := make([]float64, len(rows)+1)
	for i := len(rows) - 1; i >= 0; i-- {
		suffixInterest[i] = suffixInterest[i+1] + rows[i].Interest
		suffixPayment[i] = suffixPayment[i+1] + rows[i].Payment
	}

	for i, row := range rows {
		if row.Interest < row.Principal {
			return &CriticalPoint{PeriodIndex: row.PeriodIndex, Reason: ReasonInterestBelowPrincipal}
		}
		if suffixPayment[i] > 0 && suffixInterest[i]/suffixPayment[i] < remainingInterestThreshold {
			return &CriticalPoint{PeriodIndex: row.PeriodIndex, Reason: ReasonRemainingInterestBelowTenPercent}
		}
	}
	return nil
}

// compareInvestment grows the lump sum at the given annual rate compounded
// monthly over the remaining term and compares the gain against the larger
// interest saving. The comparison is a simple interest-savings comparison,
// not a net-present-value one.
func compareInvestment(investRatePercent, amount float64, remainingMonths int, bestSaved float64) *InvestComparison {
	monthlyRate := investRatePercent / constants.PercentageMultiplier / constants.MonthsPerYear
	futureValue := amount * math.Pow(1+monthlyRate, float64(remainingMonths))
	gain := mathutil.Round(futureValue - amount)

	recommendation := "prepay"
	if gain > bestSaved {
		recommendation = "invest"
	}

	return &InvestComparison{
		InvestAnnualRatePercent: investRatePercent,
		FutureValue:             mathutil.Round(futureValue),
		InvestmentGain:          gain,
		BestInterestSaved:       bestSaved,
		Recommendation:          recommendation,
	}
}

// reindex renumbers a schedule slice so the first remaining period is 1.
func reindex(rows schedule.Schedule) schedule.Schedule {
	out := make(schedule.Schedule, len(rows))
	for i, row := range rows {
		row.PeriodIndex = i + 1
		out[i] = row
	}
	return out
}
