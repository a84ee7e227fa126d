package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/interestplan/mortgage-agent/internal/cache"
	"github.com/interestplan/mortgage-agent/internal/ratelimit"
	"github.com/interestplan/mortgage-agent/pkg/datetime"
	"github.com/interestplan/mortgage-agent/pkg/guard"
	"github.com/interestplan/mortgage-agent/pkg/schedule"
	"go.uber.org/zap"
)

func newTestHandler(mutate func(*Options)) http.Handler {
	opts := Options{
		Limits:         guard.DefaultLimits(),
		DefaultLimiter: ratelimit.NewLimiterWithClock(1000, time.Minute, time.Now),
		ExportLimiter:  ratelimit.NewLimiterWithClock(1000, time.Minute, time.Now),
		CacheTTL:       time.Minute,
		Now: func() time.Time {
			return datetime.MustParseTime(datetime.DateLayout, "2025-08-25")
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewHandler(zap.NewNop(), opts)
}

func postJSON(handler http.Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeGuardError(t *testing.T, recorder *httptest.ResponseRecorder) guard.ValidationError {
	t.Helper()
	var vErr guard.ValidationError
	if err := json.Unmarshal(recorder.Body.Bytes(), &vErr); err != nil {
		t.Fatalf("failed to decode error body %q: %v", recorder.Body.String(), err)
	}
	return vErr
}

func standardLoan() map[string]interface{} {
	return map[string]interface{}{
		"principal":         1_000_000.0,
		"annualRatePercent": 3.5,
		"termMonths":        360,
		"method":            "equal_payment",
		"paidPeriods":       24,
		"prepayAmount":      200_000.0,
	}
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", recorder.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, expected ok", body["status"])
	}

	post := httptest.NewRecorder()
	handler.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/health", nil))
	if post.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health status = %d, expected 405", post.Code)
	}
}

func TestCalcPrepayment(t *testing.T) {
	handler := newTestHandler(nil)

	recorder := postJSON(handler, "/v1/mortgages/prepayment:calc", standardLoan())
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var response calcResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if response.SavingsReducePaymentInterest <= 0 {
		t.Errorf("reduce-payment savings = %.2f, expected positive", response.SavingsReducePaymentInterest)
	}
	if response.SavingsShortenInterest < response.SavingsReducePaymentInterest {
		t.Errorf("shorten savings %.2f below reduce savings %.2f",
			response.SavingsShortenInterest, response.SavingsReducePaymentInterest)
	}
	if response.Invest != nil {
		t.Error("invest block present without an investment rate")
	}
}

func TestCalcMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/mortgages/prepayment:calc", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, expected 405", recorder.Code)
	}
}

func TestCalcGuardrailCodes(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(map[string]interface{})
		expectedCode guard.Code
	}{
		{"Zero principal", func(m map[string]interface{}) { m["principal"] = 0.0 }, guard.CodeInvalidInput},
		{"Principal above cap", func(m map[string]interface{}) { m["principal"] = 2e8 }, guard.CodePrincipalTooLarge},
		{"Rate above cap", func(m map[string]interface{}) { m["annualRatePercent"] = 30.0 }, guard.CodeRateTooHigh},
		{"Term above cap", func(m map[string]interface{}) { m["termMonths"] = 700 }, guard.CodeTermTooLong},
		{"Prepayment above ratio cap", func(m map[string]interface{}) { m["prepayAmount"] = 900_000.0 }, guard.CodePrepayTooLarge},
		{"Unknown method", func(m map[string]interface{}) { m["method"] = "balloon" }, guard.CodeInvalidInput},
		{"Negative paid periods", func(m map[string]interface{}) { m["paidPeriods"] = -1 }, guard.CodeInvalidInput},
	}

	handler := newTestHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := standardLoan()
			tt.mutate(payload)

			recorder := postJSON(handler, "/v1/mortgages/prepayment:calc", payload)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
			}
			if vErr := decodeGuardError(t, recorder); vErr.Code != tt.expectedCode {
				t.Errorf("code = %s, expected %s", vErr.Code, tt.expectedCode)
			}
		})
	}
}

func TestCalcMalformedBody(t *testing.T) {
	handler := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/mortgages/prepayment:calc",
		bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", recorder.Code)
	}
	if vErr := decodeGuardError(t, recorder); vErr.Code != guard.CodeInvalidInput {
		t.Errorf("code = %s, expected INVALID_INPUT", vErr.Code)
	}
}

func TestCalcInvestRecommendation(t *testing.T) {
	tests := []struct {
		name           string
		rate           float64
		recommendation string
	}{
		{"Low return favors prepaying", 0.5, "prepay"},
		{"High return favors investing", 12.0, "invest"},
	}

	handler := newTestHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := standardLoan()
			payload["investAnnualRatePercent"] = tt.rate

			recorder := postJSON(handler, "/v1/mortgages/prepayment:calc", payload)
			if recorder.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
			}

			var response calcResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if response.Invest == nil {
				t.Fatal("expected invest comparison in response")
			}
			if response.Invest.Recommendation != tt.recommendation {
				t.Errorf("recommendation = %q, expected %q", response.Invest.Recommendation, tt.recommendation)
			}
		})
	}
}

func TestCalcServesCachedResponse(t *testing.T) {
	memory := cache.NewMemory()
	handler := newTestHandler(func(opts *Options) {
		opts.Cache = memory
	})

	body, err := json.Marshal(standardLoan())
	if err != nil {
		t.Fatal(err)
	}

	const sentinel = `{"cached":true}`
	if err := memory.Set(context.Background(), cache.Key("calc", body), sentinel, time.Minute); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/mortgages/prepayment:calc", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if recorder.Body.String() != sentinel {
		t.Errorf("body = %q, expected cached sentinel", recorder.Body.String())
	}
}

func TestCalcPopulatesCache(t *testing.T) {
	memory := cache.NewMemory()
	handler := newTestHandler(func(opts *Options) {
		opts.Cache = memory
	})

	first := postJSON(handler, "/v1/mortgages/prepayment:calc", standardLoan())
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d", first.Code)
	}
	second := postJSON(handler, "/v1/mortgages/prepayment:calc", standardLoan())
	if second.Code != http.StatusOK {
		t.Fatalf("status = %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached response differs from the computed one")
	}
}

func TestExportSchedulesAndHeaders(t *testing.T) {
	handler := newTestHandler(nil)

	recorder := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var response exportResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if response.PaidPeriods != 24 {
		t.Errorf("paidPeriods = %d, expected 24", response.PaidPeriods)
	}
	if len(response.BaseSchedule) != 336 || len(response.ReduceSchedule) != 336 {
		t.Errorf("schedule lengths = %d/%d, expected 336/336",
			len(response.BaseSchedule), len(response.ReduceSchedule))
	}
	if len(response.ShortenSchedule) >= 336 {
		t.Errorf("shorten schedule has %d rows, expected fewer than 336", len(response.ShortenSchedule))
	}
	if len(response.InterestByYear) == 0 {
		t.Error("expected interest-by-year aggregation")
	}

	for _, header := range []string{"X-Savings-Reduce", "X-Savings-Shorten"} {
		raw := recorder.Header().Get(header)
		if raw == "" {
			t.Fatalf("missing %s header", header)
		}
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			t.Errorf("%s = %q is not numeric: %v", header, raw, err)
		}
	}
}

func TestExportPaidPeriodsFromFirstPaymentDate(t *testing.T) {
	handler := newTestHandler(nil)

	payload := standardLoan()
	delete(payload, "paidPeriods")
	payload["firstPaymentDate"] = "2023-08-01"

	recorder := postJSON(handler, "/v1/mortgages/prepayment:export", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var response exportResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	// Injected clock sits at 2025-08-25, two years after the first payment.
	if response.PaidPeriods != 24 {
		t.Errorf("paidPeriods = %d, expected 24", response.PaidPeriods)
	}
}

func TestExportRowsExceeded(t *testing.T) {
	handler := newTestHandler(func(opts *Options) {
		opts.Limits.MaxScheduleRows = 100
	})

	recorder := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, expected 413", recorder.Code)
	}
	if vErr := decodeGuardError(t, recorder); vErr.Code != guard.CodeRowsExceeded {
		t.Errorf("code = %s, expected ROWS_EXCEEDED", vErr.Code)
	}
}

func TestExportBytesExceeded(t *testing.T) {
	handler := newTestHandler(func(opts *Options) {
		opts.Limits.MaxExportBytes = 10 * 1024
	})

	recorder := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, expected 413", recorder.Code)
	}
	if vErr := decodeGuardError(t, recorder); vErr.Code != guard.CodeExportTooLarge {
		t.Errorf("code = %s, expected EXPORT_TOO_LARGE", vErr.Code)
	}
}

func TestCombinedExport(t *testing.T) {
	handler := newTestHandler(nil)

	payload := map[string]interface{}{
		"fundPrincipal":               500_000.0,
		"fundAnnualRatePercent":       3.1,
		"commercialPrincipal":         500_000.0,
		"commercialAnnualRatePercent": 3.9,
		"termMonths":                  360,
	}

	recorder := postJSON(handler, "/v1/mortgages/combined:export", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var response combinedResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(response.Rows) != 360 {
		t.Fatalf("rows = %d, expected 360", len(response.Rows))
	}

	expected := schedule.MonthlyPayment(500_000, 3.1, 360) + schedule.MonthlyPayment(500_000, 3.9, 360)
	first := response.Rows[0]
	if diff := first.Payment - expected; diff > 0.02 || diff < -0.02 {
		t.Errorf("first payment = %.2f, expected %.2f", first.Payment, expected)
	}
	if first.Fund == nil || first.Commercial == nil {
		t.Fatal("expected both loan columns in the merged row")
	}

	raw := recorder.Header().Get("X-Total-Interest")
	if raw == "" {
		t.Fatal("missing X-Total-Interest header")
	}
	headerTotal, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("X-Total-Interest = %q is not numeric: %v", raw, err)
	}
	if diff := headerTotal - response.TotalInterest; diff > 0.01 || diff < -0.01 {
		t.Errorf("header total %.2f differs from body total %.2f", headerTotal, response.TotalInterest)
	}
}

func TestCombinedSingleLoan(t *testing.T) {
	handler := newTestHandler(nil)

	payload := map[string]interface{}{
		"fundPrincipal":         600_000.0,
		"fundAnnualRatePercent": 3.1,
		"termMonths":            240,
	}

	recorder := postJSON(handler, "/v1/mortgages/combined:export", payload)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}

	var response combinedResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(response.Rows) != 240 {
		t.Fatalf("rows = %d, expected 240", len(response.Rows))
	}
	if response.Rows[0].Commercial != nil {
		t.Error("absent commercial loan must not produce a column")
	}
	if response.Rows[0].Fund == nil {
		t.Error("expected fund column")
	}
}

func TestCombinedBothAbsent(t *testing.T) {
	handler := newTestHandler(nil)

	recorder := postJSON(handler, "/v1/mortgages/combined:export", map[string]interface{}{
		"termMonths": 360,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", recorder.Code)
	}
	if vErr := decodeGuardError(t, recorder); vErr.Code != guard.CodeCombinedBothAbsent {
		t.Errorf("code = %s, expected COMBINED_BOTH_ABSENT", vErr.Code)
	}
}

func TestExportThrottled(t *testing.T) {
	handler := newTestHandler(func(opts *Options) {
		opts.ExportLimiter = ratelimit.NewLimiterWithClock(1, time.Minute, time.Now)
	})

	first := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	second := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, expected 429", second.Code)
	}
	if vErr := decodeGuardError(t, second); vErr.Code != guard.CodeThrottled {
		t.Errorf("code = %s, expected THROTTLED", vErr.Code)
	}
}

func TestThrottlingIsPerClient(t *testing.T) {
	handler := newTestHandler(func(opts *Options) {
		opts.DefaultLimiter = ratelimit.NewLimiterWithClock(1, time.Minute, time.Now)
	})

	send := func(client string) int {
		body, _ := json.Marshal(standardLoan())
		req := httptest.NewRequest(http.MethodPost, "/v1/mortgages/prepayment:calc", bytes.NewReader(body))
		req.Header.Set("X-Forwarded-For", client)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		return recorder.Code
	}

	if code := send("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first client status = %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("second client status = %d, expected independent budget", code)
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat client status = %d, expected 429", code)
	}
}

func TestCalcAndExportShareSavings(t *testing.T) {
	handler := newTestHandler(nil)

	calc := postJSON(handler, "/v1/mortgages/prepayment:calc", standardLoan())
	export := postJSON(handler, "/v1/mortgages/prepayment:export", standardLoan())
	if calc.Code != http.StatusOK || export.Code != http.StatusOK {
		t.Fatalf("statuses = %d/%d", calc.Code, export.Code)
	}

	var calcBody calcResponse
	var exportBody exportResponse
	if err := json.Unmarshal(calc.Body.Bytes(), &calcBody); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(export.Body.Bytes(), &exportBody); err != nil {
		t.Fatal(err)
	}

	if calcBody.SavingsShortenInterest != exportBody.SavingsShortenInterest {
		t.Errorf("shorten savings differ: calc %.2f, export %.2f",
			calcBody.SavingsShortenInterest, exportBody.SavingsShortenInterest)
	}
	if calcBody.SavingsReducePaymentInterest != exportBody.SavingsReducePaymentInterest {
		t.Errorf("reduce savings differ: calc %.2f, export %.2f",
			calcBody.SavingsReducePaymentInterest, exportBody.SavingsReducePaymentInterest)
	}

	header := export.Header().Get("X-Savings-Shorten")
	if header != fmt.Sprintf("%.2f", exportBody.SavingsShortenInterest) {
		t.Errorf("X-Savings-Shorten = %q, body savings = %.2f", header, exportBody.SavingsShortenInterest)
	}
}
