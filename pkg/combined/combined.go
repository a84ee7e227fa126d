// Package combined merges independently amortizing commercial and
// housing-fund loans into one row-aligned schedule. Absent loans contribute
// no column at all; the renderer color-codes columns by their loan-type tag.
package combined

import (
	"github.com/interestplan/mortgage-agent/pkg/mathutil"
	"github.com/interestplan/mortgage-agent/pkg/schedule"
)

// LoanType tags a merged column for the external renderer.
type LoanType string

const (
	LoanTypeCommercial LoanType = "commercial"
	LoanTypeFund       LoanType = "fund"
)

// Terms holds the two optional component loans. A nil loan is absent.
type Terms struct {
	Fund       *schedule.LoanTerms
	Commercial *schedule.LoanTerms
}

// Column is one loan's contribution to a merged row.
type Column struct {
	Type             LoanType `json:"type"`
	Payment          float64  `json:"paymentTotal"`
	Principal        float64  `json:"principalPortion"`
	Interest         float64  `json:"interestPortion"`
	RemainingBalance float64  `json:"remainingBalance"`
}

// Row is one period of the merged schedule. Column order is fixed:
// commercial before fund. InterestRatio is the cumulative interest share of
// cumulative payments across the present columns.
type Row struct {
	PeriodIndex   int     `json:"periodIndex"`
	Payment       float64 `json:"paymentTotal"`
	Commercial    *Column `json:"commercial,omitempty"`
	Fund          *Column `json:"fund,omitempty"`
	InterestRatio float64 `json:"interestRatio"`
}

// Result is the merged schedule plus its totals.
type Result struct {
	Rows          []Row   `json:"rows"`
	TotalInterest float64 `json:"totalInterest"`
	TotalPayment  float64 `json:"totalPayment"`
}

// Merge generates each present loan's schedule and aligns them row by row.
// Terms are assumed validated: at least one loan present, equal terms when
// both are. A term mismatch surfacing here is an internal defect.
func Merge(terms Terms) (*Result, error) {
	if terms.Fund == nil && terms.Commercial == nil {
		return nil, &schedule.ComputeError{Op: "combined.Merge", Reason: "no loans present after validation"}
	}

	var fundRows, commercialRows schedule.Schedule
	var err error

	if terms.Commercial != nil {
		commercialRows, err = schedule.Generate(*terms.Commercial)
		if err != nil {
			return nil, err
		}
	}
	if terms.Fund != nil {
		fundRows, err = schedule.Generate(*terms.Fund)
		if err != nil {
			return nil, err
		}
	}
	if fundRows != nil && commercialRows != nil && len(fundRows) != len(commercialRows) {
		return nil, &schedule.ComputeError{Op: "combined.Merge", Reason: "component terms differ after validation"}
	}

	periods := len(commercialRows)
	if periods == 0 {
		periods = len(fundRows)
	}

	result := &Result{Rows: make([]Row, 0, periods)}
	cumulativeInterest := 0.0
	cumulativePayment := 0.0

	for i := 0; i < periods; i++ {
		row := Row{PeriodIndex: i + 1}

		if commercialRows != nil {
			row.Commercial = newColumn(LoanTypeCommercial, commercialRows[i])
			row.Payment += commercialRows[i].Payment
			cumulativeInterest += commercialRows[i].Interest
			cumulativePayment += commercialRows[i].Payment
		}
		if fundRows != nil {
			row.Fund = newColumn(LoanTypeFund, fundRows[i])
			row.Payment += fundRows[i].Payment
			cumulativeInterest += fundRows[i].Interest
			cumulativePayment += fundRows[i].Payment
		}

		row.Payment = mathutil.Round(row.Payment)
		if mathutil.IsPositive(cumulativePayment) {
			row.InterestRatio = cumulativeInterest / cumulativePayment
		}

		result.Rows = append(result.Rows, row)
	}

	result.TotalInterest = mathutil.Round(cumulativeInterest)
	result.TotalPayment = mathutil.Round(cumulativePayment)
	return result, nil
}

func newColumn(loanType LoanType, row schedule.Row) *Column {
	return &Column{
		Type:             loanType,
		Payment:          row.Payment,
		Principal:        row.Principal,
		Interest:         row.Interest,
		RemainingBalance: row.RemainingBalance,
	}
}
