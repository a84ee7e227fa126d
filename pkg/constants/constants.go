// Package constants provides shared constants for the mortgage-agent application.
package constants

// Financial constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// DecimalPrecision is the precision for currency rounding (2 decimal places)
	DecimalPrecision = 100

	// CurrencyTolerance is the tolerance for currency comparisons (1 cent)
	CurrencyTolerance = 0.01

	// PercentageMultiplier is used for percentage conversions
	PercentageMultiplier = 100.0
)

// Guardrail defaults; all of these may be overridden in configuration.
const (
	// DefaultMaxPrincipal is the largest loan principal accepted for analysis
	DefaultMaxPrincipal = 100_000_000.0

	// DefaultMaxAnnualRatePercent is the highest annual interest rate accepted
	DefaultMaxAnnualRatePercent = 24.0

	// DefaultMaxTermMonths is the longest loan term accepted (50 years)
	DefaultMaxTermMonths = 600

	// DefaultMaxPrepayRatio caps a lump prepayment relative to the principal
	DefaultMaxPrepayRatio = 0.8

	// DefaultMaxScheduleRows caps the total rows across all exported schedules
	DefaultMaxScheduleRows = 5000

	// DefaultMaxExportBytes caps the estimated serialized export size (2 MB)
	DefaultMaxExportBytes int64 = 2 * 1024 * 1024
)

// Rate limiting defaults
const (
	// RateLimitWindowSeconds is the trailing window for sliding-window limits
	RateLimitWindowSeconds = 60

	// DefaultRateLimitPerMinute is the budget for general endpoints
	DefaultRateLimitPerMinute = 30

	// DefaultExportRateLimitPerMinute is the stricter budget for export endpoints
	DefaultExportRateLimitPerMinute = 5
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address
	DefaultServerAddress = ":8080"

	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// DefaultCacheTTLMinutes is the default lifetime of cached calculation results
	DefaultCacheTTLMinutes = 10
)

// Export size estimation constants. The renderer produces one spreadsheet
// row per schedule row; these figures approximate the serialized footprint
// per row and per sheet so the export guard can reject before generation.
const (
	// ExportBytesPerRow is the estimated serialized size of one schedule row
	ExportBytesPerRow = 120

	// ExportBytesPerColumn is the additional per-row cost of one merged column
	ExportBytesPerColumn = 80

	// ExportSheetOverheadBytes is the fixed overhead per exported sheet
	ExportSheetOverheadBytes = 4 * 1024
)
