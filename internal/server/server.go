// Package server wires the calculation engines, guardrails, rate limiters,
// and result cache into the HTTP surface. Status-code mapping for guardrail
// outcomes lives here, outside the core packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/interestplan/mortgage-agent/internal/cache"
	"github.com/interestplan/mortgage-agent/internal/ratelimit"
	"github.com/interestplan/mortgage-agent/pkg/combined"
	"github.com/interestplan/mortgage-agent/pkg/datetime"
	"github.com/interestplan/mortgage-agent/pkg/format"
	"github.com/interestplan/mortgage-agent/pkg/guard"
	"github.com/interestplan/mortgage-agent/pkg/prepay"
	"github.com/interestplan/mortgage-agent/pkg/schedule"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request payloads; loan requests are small JSON objects.
const maxBodyBytes = 64 * 1024

type handler struct {
	logger   *zap.Logger
	limits   guard.Limits
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// Options carries the collaborators for the HTTP handler.
type Options struct {
	Limits         guard.Limits
	DefaultLimiter *ratelimit.Limiter
	ExportLimiter  *ratelimit.Limiter
	Cache          cache.Cache
	CacheTTL       time.Duration
	Now            func() time.Time
}

// NewHandler constructs the HTTP handler serving the mortgage analysis API.
func NewHandler(logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &handler{
		logger:   logger,
		limits:   opts.Limits,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
	}
	if h.now == nil {
		h.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/v1/mortgages/prepayment:calc",
		ratelimit.Middleware(opts.DefaultLimiter, logger, http.HandlerFunc(h.handleCalc)))
	mux.Handle("/v1/mortgages/prepayment:export",
		ratelimit.Middleware(opts.ExportLimiter, logger, http.HandlerFunc(h.handleExport)))
	mux.Handle("/v1/mortgages/combined:export",
		ratelimit.Middleware(opts.ExportLimiter, logger, http.HandlerFunc(h.handleCombined)))

	return mux
}

// loanRequest is the payload shared by the calc and export endpoints.
// PaidPeriods and FirstPaymentDate are alternatives; when both are absent
// the loan is treated as not yet started.
type loanRequest struct {
	Principal               float64  `json:"principal"`
	AnnualRatePercent       float64  `json:"annualRatePercent"`
	TermMonths              int      `json:"termMonths"`
	Method                  string   `json:"method"`
	PaidPeriods             *int     `json:"paidPeriods,omitempty"`
	FirstPaymentDate        string   `json:"firstPaymentDate,omitempty"`
	PrepayAmount            float64  `json:"prepayAmount"`
	InvestAnnualRatePercent *float64 `json:"investAnnualRatePercent,omitempty"`
}

type combinedRequest struct {
	FundPrincipal               float64 `json:"fundPrincipal"`
	FundAnnualRatePercent       float64 `json:"fundAnnualRatePercent"`
	CommercialPrincipal         float64 `json:"commercialPrincipal"`
	CommercialAnnualRatePercent float64 `json:"commercialAnnualRatePercent"`
	TermMonths                  int     `json:"termMonths"`
	Method                      string  `json:"method"`
}

type calcResponse struct {
	SavingsShortenInterest       float64                  `json:"savingsShortenInterest"`
	SavingsReducePaymentInterest float64                  `json:"savingsReducePaymentInterest"`
	Invest                       *prepay.InvestComparison `json:"invest,omitempty"`
}

type exportResponse struct {
	PaidPeriods            int     `json:"paidPeriods"`
	RemainingMonths        int     `json:"remainingMonths"`
	RemainingPrincipal     float64 `json:"remainingPrincipal"`
	OriginalMonthlyPayment float64 `json:"originalMonthlyPayment"`
	ReducedMonthlyPayment  float64 `json:"reducedMonthlyPayment"`
	ShortenMonths          int     `json:"shortenMonths"`

	SavingsShortenInterest       float64 `json:"savingsShortenInterest"`
	SavingsReducePaymentInterest float64 `json:"savingsReducePaymentInterest"`

	BaseSchedule    schedule.Schedule `json:"baseSchedule"`
	ReduceSchedule  schedule.Schedule `json:"reduceSchedule"`
	ShortenSchedule schedule.Schedule `json:"shortenSchedule"`

	InterestByYear map[int]float64          `json:"interestByYear"`
	CriticalPoint  *prepay.CriticalPoint    `json:"criticalPoint,omitempty"`
	Invest         *prepay.InvestComparison `json:"invest,omitempty"`
}

type combinedResponse struct {
	Rows          []combined.Row `json:"rows"`
	TotalInterest float64        `json:"totalInterest"`
	TotalPayment  float64        `json:"totalPayment"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleCalc(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleCalc"
	body, req, ok := h.decodeLoanRequest(w, r, op)
	if !ok {
		return
	}

	terms, prepayReq, vErr := h.resolveLoan(req)
	if vErr == nil {
		vErr = h.checkPrepayment(terms, prepayReq)
	}
	if vErr != nil {
		h.respondGuard(w, vErr, op)
		return
	}

	cacheKey := cache.Key("calc", body)
	if h.cache != nil {
		if cached, hit := h.cache.Get(r.Context(), cacheKey); hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, cached)
			return
		}
	}

	result, err := prepay.Simulate(terms, prepayReq)
	if err != nil {
		h.respondInternal(w, err, op)
		return
	}

	response := calcResponse{
		SavingsShortenInterest:       result.SavingsShortenInterest,
		SavingsReducePaymentInterest: result.SavingsReducePaymentInterest,
		Invest:                       result.Invest,
	}

	h.logger.Info("prepayment calculated",
		zap.String("op", op),
		zap.Int("paidPeriods", result.PaidPeriods),
		zap.String("savingsShorten", format.NumericCurrency(result.SavingsShortenInterest)),
		zap.String("savingsReduce", format.NumericCurrency(result.SavingsReducePaymentInterest)),
	)

	h.writeJSONCached(r.Context(), w, http.StatusOK, response, cacheKey)
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleExport"
	_, req, ok := h.decodeLoanRequest(w, r, op)
	if !ok {
		return
	}

	terms, prepayReq, vErr := h.resolveLoan(req)
	if vErr == nil {
		vErr = h.checkPrepayment(terms, prepayReq)
	}
	if vErr != nil {
		h.respondGuard(w, vErr, op)
		return
	}

	result, err := prepay.Simulate(terms, prepayReq)
	if err != nil {
		h.respondInternal(w, err, op)
		return
	}

	estimate := guard.EstimateExport([]int{
		len(result.BaseSchedule),
		len(result.ReduceSchedule),
		len(result.ShortenSchedule),
	}, 0)
	if vErr := h.limits.CheckExport(estimate); vErr != nil {
		h.respondGuard(w, vErr, op)
		return
	}

	response := exportResponse{
		PaidPeriods:                  result.PaidPeriods,
		RemainingMonths:              result.RemainingMonths,
		RemainingPrincipal:           result.RemainingPrincipal,
		OriginalMonthlyPayment:       result.OriginalMonthlyPayment,
		ReducedMonthlyPayment:        result.ReducedMonthlyPayment,
		ShortenMonths:                result.ShortenMonths,
		SavingsShortenInterest:       result.SavingsShortenInterest,
		SavingsReducePaymentInterest: result.SavingsReducePaymentInterest,
		BaseSchedule:                 result.BaseSchedule,
		ReduceSchedule:               result.ReduceSchedule,
		ShortenSchedule:              result.ShortenSchedule,
		InterestByYear:               result.InterestByYear,
		CriticalPoint:                result.CriticalPoint,
		Invest:                       result.Invest,
	}

	h.logger.Info("schedules exported",
		zap.String("op", op),
		zap.Int("rows", estimate.Rows),
		zap.Int64("estimatedBytes", estimate.Bytes),
	)

	w.Header().Set("X-Savings-Reduce", format.Amount(result.SavingsReducePaymentInterest))
	w.Header().Set("X-Savings-Shorten", format.Amount(result.SavingsShortenInterest))
	h.writeJSON(w, http.StatusOK, response)
}

func (h *handler) handleCombined(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleCombined"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req combinedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondGuard(w, &guard.ValidationError{
			Code:    guard.CodeInvalidInput,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}, op)
		return
	}

	terms, vErr := h.resolveCombined(req)
	if vErr == nil {
		vErr = h.limits.CheckCombined(terms.Fund, terms.Commercial)
	}
	if vErr != nil {
		h.respondGuard(w, vErr, op)
		return
	}

	result, err := combined.Merge(terms)
	if err != nil {
		h.respondInternal(w, err, op)
		return
	}

	columns := 0
	if terms.Commercial != nil {
		columns++
	}
	if terms.Fund != nil {
		columns++
	}
	estimate := guard.EstimateExport([]int{len(result.Rows)}, columns)
	if vErr := h.limits.CheckExport(estimate); vErr != nil {
		h.respondGuard(w, vErr, op)
		return
	}

	h.logger.Info("combined schedule exported",
		zap.String("op", op),
		zap.Int("rows", len(result.Rows)),
		zap.Int("columns", columns),
		zap.String("totalInterest", format.NumericCurrency(result.TotalInterest)),
	)

	w.Header().Set("X-Total-Interest", format.Amount(result.TotalInterest))
	h.writeJSON(w, http.StatusOK, combinedResponse{
		Rows:          result.Rows,
		TotalInterest: result.TotalInterest,
		TotalPayment:  result.TotalPayment,
	})
}

// decodeLoanRequest reads and decodes the shared loan payload, returning the
// raw body for cache keying.
func (h *handler) decodeLoanRequest(w http.ResponseWriter, r *http.Request, op string) ([]byte, loanRequest, bool) {
	var req loanRequest
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil, req, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondGuard(w, &guard.ValidationError{
			Code:    guard.CodeInvalidInput,
			Message: fmt.Sprintf("failed to read request body: %v", err),
		}, op)
		return nil, req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondGuard(w, &guard.ValidationError{
			Code:    guard.CodeInvalidInput,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}, op)
		return nil, req, false
	}
	return body, req, true
}

// resolveLoan turns the wire payload into validated engine inputs. Paid
// periods come from the explicit field when present, otherwise they are
// inferred from the first payment date.
func (h *handler) resolveLoan(req loanRequest) (schedule.LoanTerms, prepay.Request, *guard.ValidationError) {
	var terms schedule.LoanTerms
	var prepayReq prepay.Request

	method, err := schedule.NormalizeMethod(req.Method)
	if err != nil {
		return terms, prepayReq, &guard.ValidationError{Code: guard.CodeInvalidInput, Message: err.Error()}
	}

	terms = schedule.LoanTerms{
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		TermMonths:        req.TermMonths,
		Method:            method,
	}

	paidPeriods := 0
	switch {
	case req.PaidPeriods != nil:
		paidPeriods = *req.PaidPeriods
	case req.FirstPaymentDate != "":
		paidPeriods, err = datetime.ElapsedPeriods(req.FirstPaymentDate, h.now(), req.TermMonths)
		if err != nil {
			return terms, prepayReq, &guard.ValidationError{
				Code:    guard.CodeInvalidInput,
				Message: fmt.Sprintf("invalid first payment date: %v", err),
			}
		}
	}

	if req.InvestAnnualRatePercent != nil && *req.InvestAnnualRatePercent < 0 {
		return terms, prepayReq, &guard.ValidationError{
			Code:    guard.CodeInvalidInput,
			Message: "investment rate must not be negative",
		}
	}

	prepayReq = prepay.Request{
		PaidPeriods:             paidPeriods,
		Amount:                  req.PrepayAmount,
		InvestAnnualRatePercent: req.InvestAnnualRatePercent,
	}
	return terms, prepayReq, nil
}

func (h *handler) checkPrepayment(terms schedule.LoanTerms, req prepay.Request) *guard.ValidationError {
	if vErr := h.limits.CheckLoan(terms); vErr != nil {
		return vErr
	}
	return h.limits.CheckPrepayment(terms, req.PaidPeriods, req.Amount)
}

// resolveCombined maps the wire payload onto optional loan terms. A zero
// principal means the loan is absent and contributes no column.
func (h *handler) resolveCombined(req combinedRequest) (combined.Terms, *guard.ValidationError) {
	var terms combined.Terms

	methodRaw := req.Method
	if methodRaw == "" {
		methodRaw = string(schedule.MethodEqualPayment)
	}
	method, err := schedule.NormalizeMethod(methodRaw)
	if err != nil {
		return terms, &guard.ValidationError{Code: guard.CodeInvalidInput, Message: err.Error()}
	}

	if req.FundPrincipal < 0 || req.CommercialPrincipal < 0 {
		return terms, &guard.ValidationError{
			Code:    guard.CodeInvalidInput,
			Message: "loan principals must not be negative",
		}
	}

	if req.FundPrincipal > 0 {
		terms.Fund = &schedule.LoanTerms{
			Principal:         req.FundPrincipal,
			AnnualRatePercent: req.FundAnnualRatePercent,
			TermMonths:        req.TermMonths,
			Method:            method,
		}
	}
	if req.CommercialPrincipal > 0 {
		terms.Commercial = &schedule.LoanTerms{
			Principal:         req.CommercialPrincipal,
			AnnualRatePercent: req.CommercialAnnualRatePercent,
			TermMonths:        req.TermMonths,
			Method:            method,
		}
	}
	return terms, nil
}

func statusForCode(code guard.Code) int {
	switch code {
	case guard.CodeRowsExceeded, guard.CodeExportTooLarge:
		return http.StatusRequestEntityTooLarge
	case guard.CodeThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func (h *handler) respondGuard(w http.ResponseWriter, vErr *guard.ValidationError, op string) {
	status := statusForCode(vErr.Code)
	h.logger.Warn("request rejected by guardrail",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("code", string(vErr.Code)),
		zap.String("reason", vErr.Message),
	)
	h.writeJSON(w, status, vErr)
}

// respondInternal handles compute errors: unreachable given upstream
// guardrails, so they are logged as defects and surface as a plain 500.
func (h *handler) respondInternal(w http.ResponseWriter, err error, op string) {
	h.logger.Error("internal computation failure",
		zap.String("op", op),
		zap.Error(err),
	)
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"code":    "INTERNAL",
		"message": "internal computation failure",
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("failed to encode response",
			zap.String("op", "server.writeJSON"),
			zap.Error(err),
		)
	}
}

// writeJSONCached writes the payload and stores the serialized form for
// identical future requests. Cache failures are not fatal.
func (h *handler) writeJSONCached(ctx context.Context, w http.ResponseWriter, status int, payload interface{}, cacheKey string) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.respondInternal(w, err, "server.writeJSONCached")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, string(data)+"\n", h.cacheTTL); err != nil {
			h.logger.Warn("failed to store cached response",
				zap.String("op", "server.writeJSONCached"),
				zap.Error(err),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
