// Package guard implements the admission checks that run before any schedule
// generation: input validation against configured limits and export size
// guardrails. Failures are a closed set of tagged outcomes so callers handle
// each code explicitly instead of parsing error strings.
package guard

import (
	"fmt"

	"github.com/interestplan/mortgage-agent/pkg/constants"
	"github.com/interestplan/mortgage-agent/pkg/schedule"
)

// Code identifies a specific guardrail failure.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodePrincipalTooLarge  Code = "PRINCIPAL_TOO_LARGE"
	CodeRateTooHigh        Code = "RATE_TOO_HIGH"
	CodeTermTooLong        Code = "TERM_TOO_LONG"
	CodePrepayTooLarge     Code = "PREPAY_TOO_LARGE"
	CodeCombinedBothAbsent Code = "COMBINED_BOTH_ABSENT"
	CodeTermMismatch       Code = "TERM_MISMATCH"
	CodeRowsExceeded       Code = "ROWS_EXCEEDED"
	CodeExportTooLarge     Code = "EXPORT_TOO_LARGE"
	CodeThrottled          Code = "THROTTLED"
)

// ValidationError is a caller-fixable guardrail failure. It is returned
// before any engine computation takes place.
type ValidationError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Limits holds the configured maxima enforced by the validator and the
// export guard.
type Limits struct {
	MaxPrincipal         float64
	MaxAnnualRatePercent float64
	MaxTermMonths        int
	MaxPrepayRatio       float64
	MaxScheduleRows      int
	MaxExportBytes       int64
}

// DefaultLimits returns the built-in guardrail limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPrincipal:         constants.DefaultMaxPrincipal,
		MaxAnnualRatePercent: constants.DefaultMaxAnnualRatePercent,
		MaxTermMonths:        constants.DefaultMaxTermMonths,
		MaxPrepayRatio:       constants.DefaultMaxPrepayRatio,
		MaxScheduleRows:      constants.DefaultMaxScheduleRows,
		MaxExportBytes:       constants.DefaultMaxExportBytes,
	}
}

// CheckLoan validates one loan's terms against the configured limits.
func (l Limits) CheckLoan(terms schedule.LoanTerms) *ValidationError {
	if terms.Principal <= 0 {
		return newError(CodeInvalidInput, "principal must be positive, got %.2f", terms.Principal)
	}
	if terms.AnnualRatePercent < 0 {
		return newError(CodeInvalidInput, "annual rate must not be negative, got %.4f", terms.AnnualRatePercent)
	}
	if terms.TermMonths <= 0 {
		return newError(CodeInvalidInput, "term must be positive, got %d months", terms.TermMonths)
	}
	if terms.Principal > l.MaxPrincipal {
		return newError(CodePrincipalTooLarge, "principal %.2f exceeds maximum %.2f", terms.Principal, l.MaxPrincipal)
	}
	if terms.AnnualRatePercent > l.MaxAnnualRatePercent {
		return newError(CodeRateTooHigh, "annual rate %.4f%% exceeds maximum %.4f%%", terms.AnnualRatePercent, l.MaxAnnualRatePercent)
	}
	if terms.TermMonths > l.MaxTermMonths {
		return newError(CodeTermTooLong, "term %d months exceeds maximum %d", terms.TermMonths, l.MaxTermMonths)
	}
	return nil
}

// CheckPrepayment validates the prepayment request against the loan terms.
// The lump amount is capped twice: by the configured ratio of the original
// principal, and by the remaining balance at period paidPeriods.
func (l Limits) CheckPrepayment(terms schedule.LoanTerms, paidPeriods int, prepayAmount float64) *ValidationError {
	if paidPeriods < 0 || paidPeriods >= terms.TermMonths {
		return newError(CodeInvalidInput, "paid periods %d outside range [0, %d)", paidPeriods, terms.TermMonths)
	}
	if prepayAmount <= 0 {
		return newError(CodeInvalidInput, "prepayment amount must be positive, got %.2f", prepayAmount)
	}

	maxByRatio := terms.Principal * l.MaxPrepayRatio
	if prepayAmount > maxByRatio {
		return newError(CodePrepayTooLarge, "prepayment %.2f exceeds %.0f%% of principal (%.2f)",
			prepayAmount, l.MaxPrepayRatio*constants.PercentageMultiplier, maxByRatio)
	}

	remaining := schedule.RemainingBalance(terms, paidPeriods)
	if prepayAmount > remaining {
		return newError(CodePrepayTooLarge, "prepayment %.2f exceeds remaining balance %.2f at period %d",
			prepayAmount, remaining, paidPeriods)
	}
	return nil
}

// CheckCombined validates a dual-loan request. A loan with zero principal is
// absent; at least one loan must be present, and present loans must share
// the same term.
func (l Limits) CheckCombined(fund, commercial *schedule.LoanTerms) *ValidationError {
	if fund == nil && commercial == nil {
		return newError(CodeCombinedBothAbsent, "both fund and commercial loans are absent")
	}
	if fund != nil && commercial != nil && fund.TermMonths != commercial.TermMonths {
		return newError(CodeTermMismatch, "fund term %d months differs from commercial term %d",
			fund.TermMonths, commercial.TermMonths)
	}
	if fund != nil {
		if err := l.CheckLoan(*fund); err != nil {
			return err
		}
	}
	if commercial != nil {
		if err := l.CheckLoan(*commercial); err != nil {
			return err
		}
	}
	return nil
}

// ExportEstimate approximates the rendered footprint of an export before the
// renderer is handed any data.
type ExportEstimate struct {
	Rows  int
	Bytes int64
}

// EstimateExport sizes an export from per-sheet row counts. extraColumns
// accounts for merged views that carry more than the standard column set.
func EstimateExport(sheetRows []int, extraColumns int) ExportEstimate {
	var est ExportEstimate
	for _, rows := range sheetRows {
		est.Rows += rows
		rowBytes := int64(constants.ExportBytesPerRow + extraColumns*constants.ExportBytesPerColumn)
		est.Bytes += int64(constants.ExportSheetOverheadBytes) + int64(rows)*rowBytes
	}
	return est
}

// CheckExport rejects exports whose estimated size exceeds the configured
// caps. It runs after schedules are built but before rendering.
func (l Limits) CheckExport(est ExportEstimate) *ValidationError {
	if est.Rows > l.MaxScheduleRows {
		return newError(CodeRowsExceeded, "export would contain %d rows, maximum is %d", est.Rows, l.MaxScheduleRows)
	}
	if est.Bytes > l.MaxExportBytes {
		return newError(CodeExportTooLarge, "estimated export size %d bytes exceeds maximum %d", est.Bytes, l.MaxExportBytes)
	}
	return nil
}
