package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/transfa/card-ledger-service/internal/app"
	"github.com/transfa/card-ledger-service/internal/domain"
	"github.com/transfa/card-ledger-service/internal/ledger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, opts RouterOptions) http.Handler {
	t.Helper()
	engine, err := ledger.NewEngine(domain.MustParseMoney("1000"))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	svc := app.NewService(engine, nil, nil, "", quietLogger())
	opts.Logger = quietLogger()
	return NewRouter(NewHandler(svc, quietLogger()), opts)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeSummary(t *testing.T, rr *httptest.ResponseRecorder) domain.Summary {
	t.Helper()
	var summary domain.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary %q: %v", rr.Body.String(), err)
	}
	return summary
}

func TestGetSummary_InitialState(t *testing.T) {
	router := newTestRouter(t, RouterOptions{})

	rr := doRequest(t, router, http.MethodGet, "/summary", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`"availableCredit":1000.00`,
		`"payableBalance":0.00`,
		`"pendingTransactions":[]`,
		`"settledTransactions":[]`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got %s", want, body)
		}
	}
}

func TestSubmitEvent_DashboardFlow(t *testing.T) {
	router := newTestRouter(t, RouterOptions{})

	events := []string{
		`{"eventType":"TXN_AUTHED","eventTime":"2024-05-01T10:00","txnId":"t1","amount":"123.45"}`,
		`{"eventType":"TXN_AUTHED","eventTime":"2024-05-01T09:00","txnId":"t2","amount":50}`,
		`{"eventType":"TXN_SETTLED","eventTime":"2024-05-02T10:00","txnId":"t1","amount":"123.45"}`,
		`{"eventType":"PAYMENT_INITIATED","eventTime":"2024-05-03T10:00","amount":""}`,
	}
	var rr *httptest.ResponseRecorder
	for _, ev := range events {
		rr = doRequest(t, router, http.MethodPost, "/events", ev, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d: %s", ev, rr.Code, rr.Body.String())
		}
	}

	summary := decodeSummary(t, rr)
	if summary.AvailableCredit != domain.MustParseMoney("826.55") {
		t.Fatalf("expected 826.55 available, got %s", summary.AvailableCredit)
	}
	if summary.PayableBalance != domain.MustParseMoney("123.45") {
		t.Fatalf("expected 123.45 payable, got %s", summary.PayableBalance)
	}
	if len(summary.PendingTransactions) != 1 || summary.PendingTransactions[0].ID != "t2" {
		t.Fatalf("unexpected pending list: %+v", summary.PendingTransactions)
	}
	if len(summary.SettledTransactions) != 1 || summary.SettledTransactions[0].FinalTime != "2024-05-02T10:00" {
		t.Fatalf("unexpected settled list: %+v", summary.SettledTransactions)
	}

	rr = doRequest(t, router, http.MethodPost, "/events", `{"eventType":"PAYMENT_POSTED","eventTime":"2024-05-04T10:00"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected full-balance payment to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	summary = decodeSummary(t, rr)
	if summary.PayableBalance != 0 || summary.AvailableCredit != domain.MustParseMoney("950") {
		t.Fatalf("unexpected totals after payment: %+v", summary)
	}
}

func TestSubmitEvent_RejectionStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  domain.RejectionCode
	}{
		{"invalid json", `{"eventType":`, http.StatusBadRequest, domain.CodeMalformedEvent},
		{"unknown type", `{"eventType":"CHARGEBACK","eventTime":"2024-05-01"}`, http.StatusBadRequest, domain.CodeUnknownEventType},
		{"missing time", `{"eventType":"TXN_AUTHED","txnId":"x","amount":1}`, http.StatusBadRequest, domain.CodeMalformedEvent},
		{"bad amount", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"x","amount":"abc"}`, http.StatusBadRequest, domain.CodeMalformedEvent},
		{"duplicate", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":1}`, http.StatusConflict, domain.CodeDuplicateTransaction},
		{"unknown txn", `{"eventType":"TXN_SETTLED","eventTime":"2024-05-01","txnId":"nope","amount":1}`, http.StatusNotFound, domain.CodeUnknownTransaction},
		{"mismatch", `{"eventType":"TXN_SETTLED","eventTime":"2024-05-01","txnId":"t1","amount":2}`, http.StatusUnprocessableEntity, domain.CodeAmountMismatch},
		{"over limit", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"big","amount":1000}`, http.StatusUnprocessableEntity, domain.CodeCreditLimitExceeded},
		{"overpayment", `{"eventType":"PAYMENT_POSTED","eventTime":"2024-05-01","amount":5}`, http.StatusUnprocessableEntity, domain.CodeOverpaymentRejected},
	}

	router := newTestRouter(t, RouterOptions{})
	seed := doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":1}`, nil)
	if seed.Code != http.StatusOK {
		t.Fatalf("seed event failed: %d %s", seed.Code, seed.Body.String())
	}
	before := doRequest(t, router, http.MethodGet, "/summary", "", nil).Body.String()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPost, "/events", tt.body, nil)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if resp.Error != string(tt.wantErr) || resp.Reason == "" {
				t.Fatalf("expected %s with a reason, got %+v", tt.wantErr, resp)
			}
		})
	}

	after := doRequest(t, router, http.MethodGet, "/summary", "", nil).Body.String()
	if before != after {
		t.Fatalf("rejected events changed state:\nbefore %s\nafter  %s", before, after)
	}
}

func TestValidateEvent_DoesNotApply(t *testing.T) {
	router := newTestRouter(t, RouterOptions{})

	rr := doRequest(t, router, http.MethodPost, "/events/validate", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":10}`, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"valid":true`) {
		t.Fatalf("expected valid response, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, router, http.MethodPost, "/events/validate", `{"eventType":"TXN_SETTLED","eventTime":"2024-05-01","txnId":"t1","amount":10}`, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected validate to see no t1, got %d", rr.Code)
	}

	summary := decodeSummary(t, doRequest(t, router, http.MethodGet, "/summary", "", nil))
	if len(summary.PendingTransactions) != 0 {
		t.Fatalf("validate must not apply events, got %+v", summary)
	}
}

func TestReset_RequiresInternalKeyWhenConfigured(t *testing.T) {
	router := newTestRouter(t, RouterOptions{InternalAPIKey: "secret"})
	doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":10}`, nil)

	if rr := doRequest(t, router, http.MethodPost, "/reset", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/reset", "", map[string]string{"X-Internal-API-Key": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rr.Code)
	}

	for i := 0; i < 2; i++ {
		rr := doRequest(t, router, http.MethodPost, "/reset", "", map[string]string{"X-Internal-API-Key": "secret"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 with key, got %d", rr.Code)
		}
		summary := decodeSummary(t, rr)
		if summary.AvailableCredit != domain.MustParseMoney("1000") || len(summary.PendingTransactions) != 0 {
			t.Fatalf("unexpected summary after reset: %+v", summary)
		}
	}
}

func TestGetTransaction(t *testing.T) {
	router := newTestRouter(t, RouterOptions{})

	if rr := doRequest(t, router, http.MethodGet, "/transactions/t1", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01T08:30","txnId":"t1","amount":"19.99"}`, nil)
	rr := doRequest(t, router, http.MethodGet, "/transactions/t1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var txn domain.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &txn); err != nil {
		t.Fatalf("failed to decode transaction: %v", err)
	}
	if txn.Amount != domain.MustParseMoney("19.99") || txn.Status != domain.StatusPending || txn.AuthorizedAt != "2024-05-01T08:30" {
		t.Fatalf("unexpected transaction: %+v", txn)
	}
}

func TestListPayments(t *testing.T) {
	router := newTestRouter(t, RouterOptions{})

	rr := doRequest(t, router, http.MethodGet, "/payments", "", nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", rr.Code, rr.Body.String())
	}

	doRequest(t, router, http.MethodPost, "/events", `{"eventType":"PAYMENT_INITIATED","eventTime":"2024-05-01","txnId":"p1","amount":"25"}`, nil)
	rr = doRequest(t, router, http.MethodGet, "/payments", "", nil)
	var payments []domain.PaymentIntent
	if err := json.Unmarshal(rr.Body.Bytes(), &payments); err != nil {
		t.Fatalf("failed to decode payments: %v", err)
	}
	if len(payments) != 1 || payments[0].Reference != "p1" || payments[0].Status != domain.PaymentInitiated {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}

type limiterStub struct {
	decision   app.RateDecision
	err        error
	submitters []string
}

func (l *limiterStub) Allow(ctx context.Context, submitter string) (app.RateDecision, error) {
	l.submitters = append(l.submitters, submitter)
	return l.decision, l.err
}

func TestSubmitEvent_RateLimited(t *testing.T) {
	limiter := &limiterStub{decision: app.RateDecision{Limit: 2, RetryAfter: 41500 * time.Millisecond}}
	router := newTestRouter(t, RouterOptions{Limiter: limiter})

	rr := doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":1}`, map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", rr.Header().Get("Retry-After"))
	}
	if rr.Header().Get("X-RateLimit-Limit") != "2" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected rate limit headers: %v", rr.Header())
	}
	if len(limiter.submitters) != 1 || limiter.submitters[0] != "ip:10.0.0.1" {
		t.Fatalf("expected limiter keyed by first forwarded hop, got %v", limiter.submitters)
	}

	summary := decodeSummary(t, doRequest(t, router, http.MethodGet, "/summary", "", nil))
	if len(summary.PendingTransactions) != 0 {
		t.Fatalf("throttled event must not be applied, got %+v", summary)
	}
}

func TestSubmitEvent_AllowedReportsRemaining(t *testing.T) {
	limiter := &limiterStub{decision: app.RateDecision{Allowed: true, Limit: 5, Remaining: 3}}
	router := newTestRouter(t, RouterOptions{Limiter: limiter})

	rr := doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":1}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "3" {
		t.Fatalf("expected remaining 3, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestSubmitEvent_RateLimiterFailsOpen(t *testing.T) {
	limiter := &limiterStub{err: errors.New("redis down")}
	router := newTestRouter(t, RouterOptions{Limiter: limiter})

	rr := doRequest(t, router, http.MethodPost, "/events", `{"eventType":"TXN_AUTHED","eventTime":"2024-05-01","txnId":"t1","amount":1}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected request to pass when limiter errors, got %d", rr.Code)
	}
}

func TestSubmitterKey_PrefersOperator(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	if got := submitterKey(req); got != "ip:192.0.2.1" {
		t.Fatalf("expected ip key, got %q", got)
	}

	req = req.WithContext(context.WithValue(req.Context(), OperatorContextKey, "ops-7"))
	if got := submitterKey(req); got != "operator:ops-7" {
		t.Fatalf("expected operator key, got %q", got)
	}
}

type lookupFailingService struct {
	LedgerService
	err error
}

func (s lookupFailingService) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	return nil, s.err
}

func TestGetTransaction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"wrapped not found", fmt.Errorf("lookup t1: %w", app.ErrTransactionNotFound), http.StatusNotFound},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(lookupFailingService{err: tt.err}, quietLogger()), RouterOptions{Logger: quietLogger()})
			rr := doRequest(t, router, http.MethodGet, "/transactions/t1", "", nil)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}
