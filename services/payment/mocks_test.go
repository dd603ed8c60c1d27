package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nutrify/config"
	paymentRepo "nutrify/database/repository/payment"
	"nutrify/models"
	"nutrify/services/audit"
	"nutrify/services/mpesa"
)

// memoryRepo is an in-memory PaymentRepository with the same compare-and-swap semantics as Mongo.
type memoryRepo struct {
	mu           sync.Mutex
	bookings     map[string]models.Booking
	correlations map[string]models.CheckoutCorrelation

	// hiddenLookups makes the first n GetCorrelation calls miss.
	hiddenLookups int
	lookups       int
	saveErr       error
	applied       int
}

func newMemoryRepo(bookings ...models.Booking) *memoryRepo {
	r := &memoryRepo{
		bookings:     map[string]models.Booking{},
		correlations: map[string]models.CheckoutCorrelation{},
	}
	for _, b := range bookings {
		r.bookings[b.Reference] = b
		if id := b.Payment.CheckoutRequestID; id != "" {
			r.correlations[id] = models.CheckoutCorrelation{CheckoutRequestID: id, BookingReference: b.Reference}
		}
	}
	return r
}

func (r *memoryRepo) GetBooking(_ context.Context, reference string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[reference]
	if !ok {
		return nil, paymentRepo.ErrNotFound
	}
	return &b, nil
}

func (r *memoryRepo) SaveCorrelation(_ context.Context, corr *models.CheckoutCorrelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.correlations[corr.CheckoutRequestID]; !ok {
		r.correlations[corr.CheckoutRequestID] = *corr
	}
	return nil
}

func (r *memoryRepo) GetCorrelation(_ context.Context, id string) (*models.CheckoutCorrelation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups <= r.hiddenLookups {
		return nil, paymentRepo.ErrNotFound
	}
	c, ok := r.correlations[id]
	if !ok {
		return nil, paymentRepo.ErrNotFound
	}
	return &c, nil
}

func (r *memoryRepo) ListCorrelations(_ context.Context, reference string) ([]models.CheckoutCorrelation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CheckoutCorrelation
	for _, c := range r.correlations {
		if c.BookingReference == reference {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryRepo) AppendCallback(_ context.Context, id string, rec models.CallbackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.correlations[id]
	if !ok {
		return paymentRepo.ErrNotFound
	}
	c.Callbacks = append(c.Callbacks, rec)
	r.correlations[id] = c
	return nil
}

func (r *memoryRepo) TransitionPayment(_ context.Context, reference string, tr models.PaymentTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[reference]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range tr.From {
		if b.Payment.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	if tr.ExpectCheckoutID != "" && b.Payment.CheckoutRequestID != tr.ExpectCheckoutID {
		return false, nil
	}
	b.Payment = tr.Outcome
	b.UpdatedAt = tr.Outcome.UpdatedAt
	r.bookings[reference] = b
	r.applied++
	return true, nil
}

func (r *memoryRepo) FindStaleInitiated(_ context.Context, before time.Time, limit int64) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.Payment.Status == models.PaymentInitiated && b.Payment.InitiatedAt != nil && b.Payment.InitiatedAt.Before(before) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) booking(reference string) models.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[reference]
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Record(e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) has(step string, outcome audit.Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Step == step && e.Outcome == outcome {
			return true
		}
	}
	return false
}

// fakeGateway serves the token and STK push endpoints and counts every call.
type fakeGateway struct {
	srv         *httptest.Server
	tokenCalls  int32
	pushCalls   int32
	tokenStatus int
	push        http.HandlerFunc
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{tokenStatus: http.StatusOK}
	g.push = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			atomic.AddInt32(&g.tokenCalls, 1)
			if g.tokenStatus != http.StatusOK {
				w.WriteHeader(g.tokenStatus)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case config.STKPushPath:
			atomic.AddInt32(&g.pushCalls, 1)
			g.push(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) calls() (int32, int32) {
	return atomic.LoadInt32(&g.tokenCalls), atomic.LoadInt32(&g.pushCalls)
}

func (g *fakeGateway) config() config.MpesaConfig {
	return config.MpesaConfig{
		BaseURL:          g.srv.URL,
		ConsumerKey:      "key",
		ConsumerSecret:   "secret",
		Shortcode:        "174379",
		Passkey:          "passkey",
		STKPushURL:       g.srv.URL + config.STKPushPath,
		CallbackURL:      "https://example.com/api/payments/mpesa/callback",
		AccountReference: "Nutrify",
		TransactionDesc:  "Nutrition consultation booking",
		RequestTimeout:   time.Second,
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	svc   *DefaultPaymentService
	repo  *memoryRepo
	gw    *fakeGateway
	audit *recordingAudit
}

func newHarness(t *testing.T, bookings ...models.Booking) *harness {
	t.Helper()
	gw := newFakeGateway(t)
	return newHarnessWithConfig(t, gw, gw.config(), bookings...)
}

func newHarnessWithConfig(t *testing.T, gw *fakeGateway, cfg config.MpesaConfig, bookings ...models.Booking) *harness {
	t.Helper()
	repo := newMemoryRepo(bookings...)
	rec := &recordingAudit{}
	tokens := mpesa.NewTokenManager(cfg, gw.srv.Client(), mpesa.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     mpesa.ExponentialBackoff(time.Second, 5*time.Second),
		Sleep:       noSleep,
	}, rec, nil)
	svc := newPaymentService(cfg, repo, tokens, mpesa.NewSTKClient(cfg, gw.srv.Client()), rec, nil).
		WithClock(func() time.Time { return fixedNow }).
		WithLookupPolicy(mpesa.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     func(int) time.Duration { return 200 * time.Millisecond },
			Sleep:       noSleep,
		})
	return &harness{svc: svc, repo: repo, gw: gw, audit: rec}
}

func pendingBooking(ref string) models.Booking {
	return models.Booking{
		Reference:   ref,
		ClientName:  "Wanjiku",
		ServiceName: "Initial consultation",
		Date:        "2024-05-02",
		TotalPrice:  1500,
		Payment:     models.PaymentOutcome{Status: models.PaymentPending},
	}
}

func initiatedBooking(ref, checkoutID string, at time.Time) models.Booking {
	b := pendingBooking(ref)
	b.Payment = models.PaymentOutcome{
		Status:            models.PaymentInitiated,
		CheckoutRequestID: checkoutID,
		PhoneNumber:       "254712345678",
		Amount:            1500,
		InitiatedAt:       &at,
		UpdatedAt:         at,
	}
	return b
}

func callback(checkoutID string, code int, desc string) models.STKCallback {
	return models.STKCallback{
		MerchantRequestID: "m-1",
		CheckoutRequestID: checkoutID,
		ResultCode:        code,
		ResultDesc:        desc,
	}
}

func successCallback(checkoutID, receipt string) models.STKCallback {
	cb := callback(checkoutID, mpesa.ResultSuccess, "The service request is processed successfully.")
	cb.CallbackMetadata = &models.CallbackMetadata{Item: []models.CallbackItem{
		{Name: "Amount", Value: float64(1500)},
		{Name: "MpesaReceiptNumber", Value: receipt},
		{Name: "TransactionDate", Value: float64(20240501123015)},
		{Name: "PhoneNumber", Value: float64(254712345678)},
	}}
	return cb
}
