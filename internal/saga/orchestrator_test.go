package saga

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/guard"
	"github.com/ariefcatur/go-flash-sale.git/internal/ledger"
	"github.com/ariefcatur/go-flash-sale.git/internal/payment"
	"github.com/ariefcatur/go-flash-sale.git/internal/reservation"
)

type fakeOrders struct {
	mu     sync.Mutex
	err    error
	calls  int
	orders map[string]string
}

func newFakeOrders() *fakeOrders { return &fakeOrders{orders: map[string]string{}} }

func (f *fakeOrders) CreateOrder(ctx context.Context, attemptID, userID, itemID string, priceCents int, paymentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.orders[attemptID]; ok {
		return id, nil
	}
	id := "order-" + attemptID
	f.orders[attemptID] = id
	return id, nil
}

func (f *fakeOrders) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []flashsale.PurchaseAttempt
	failed    []flashsale.PurchaseAttempt
	escalated []string
}

func (r *recordingNotifier) OrderConfirmed(ctx context.Context, a flashsale.PurchaseAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, a)
}

func (r *recordingNotifier) PurchaseFailed(ctx context.Context, a flashsale.PurchaseAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, a)
}

func (r *recordingNotifier) CompensationEscalated(ctx context.Context, a flashsale.PurchaseAttempt, action, cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalated = append(r.escalated, action)
}

func (r *recordingNotifier) counts() (confirmed, failed, escalated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed), len(r.failed), len(r.escalated)
}

type fixture struct {
	clk    *clock.Manual
	led    *ledger.Memory
	cat    *flashsale.Catalog
	coord  *reservation.Coordinator
	pay    *payment.Stub
	orders *fakeOrders
	notes  *recordingNotifier
	orch   *Orchestrator
}

func newFixture(t *testing.T, units int) *fixture {
	return newFixtureWith(t, units, nil, time.Minute)
}

// newFixtureWith wires a full saga stack against the in-memory ledger. pay nil
// means use the stub.
func newFixtureWith(t *testing.T, units int, pay payment.Client, escalateAfter time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		clk:    clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		orders: newFakeOrders(),
		notes:  &recordingNotifier{},
	}
	f.cat = flashsale.NewCatalog(f.clk)
	f.led = ledger.NewMemory(f.cat.MarkSoldOut)

	now := f.clk.Now()
	f.cat.Put(flashsale.SaleItem{
		ID:         "sale-1",
		Name:       "Widget Drop",
		TotalUnits: units,
		PriceCents: 1999,
		StartsAt:   now.Add(-time.Minute),
		EndsAt:     now.Add(time.Hour),
	})
	if err := f.led.Register(context.Background(), "sale-1", units); err != nil {
		t.Fatalf("register: %v", err)
	}

	f.coord = reservation.NewCoordinator(f.led, 30*time.Second, f.clk, func(id, reason string) {
		f.orch.OnHoldExpired(id, reason)
	})

	if pay == nil {
		f.pay = payment.NewStub()
		pay = f.pay
	}

	fast := guard.Retry{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	f.orch = New(Deps{
		Reservations:  f.coord,
		Payments:      pay,
		Orders:        f.orders,
		Catalog:       f.cat,
		PayGuard:      &guard.Guard{Breaker: guard.NewBreaker("payments", 3, 30*time.Second, 10*time.Second, f.clk), Retry: fast},
		OrderGuard:    &guard.Guard{Breaker: guard.NewBreaker("orders", 1, 30*time.Second, 10*time.Second, f.clk), Retry: fast},
		ReserveRetry:  fast,
		EscalateAfter: escalateAfter,
		Notifier:      f.notes,
		Clock:         f.clk,
	})
	return f
}

func (f *fixture) snapshot(t *testing.T) ledger.Snapshot {
	t.Helper()
	snap, err := f.led.Snapshot(context.Background(), "sale-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func TestSagaHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if a.Step != flashsale.StepAdmitted {
		t.Fatalf("step = %s, want ADMITTED", a.Step)
	}

	f.orch.Run(ctx, a.ID)

	got, ok := f.orch.Lookup(a.ID)
	if !ok {
		t.Fatal("attempt vanished")
	}
	if got.Step != flashsale.StepConfirmed {
		t.Fatalf("step = %s (%s), want CONFIRMED", got.Step, got.FailReason)
	}
	if got.PaymentID == "" || got.OrderID != "order-"+a.ID {
		t.Fatalf("attempt = %+v", got)
	}
	if f.pay.ChargeCalls != 1 {
		t.Fatalf("charge calls = %d, want 1", f.pay.ChargeCalls)
	}

	snap := f.snapshot(t)
	if snap.Sold != 1 || snap.Available != 0 || snap.Holds != 0 {
		t.Fatalf("snapshot = %+v, want sold=1 avail=0 holds=0", snap)
	}

	// Last unit sold: the catalog flips to sold out.
	if status, _ := f.cat.Status("sale-1"); status != flashsale.SaleSoldOut {
		t.Fatalf("catalog status = %s, want SOLD_OUT", status)
	}

	confirmed, failed, _ := f.notes.counts()
	if confirmed != 1 || failed != 0 {
		t.Fatalf("notifications = %d confirmed %d failed", confirmed, failed)
	}
}

func TestSagaConcurrentAttemptsNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	const attempts = 10
	ids := make([]string, attempts)
	for i := 0; i < attempts; i++ {
		a, err := f.orch.Begin(ctx, "u"+string(rune('a'+i)), "sale-1", "tok", "")
		if err != nil {
			t.Fatalf("begin %d: %v", i, err)
		}
		ids[i] = a.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			f.orch.Run(ctx, id)
		}(id)
	}
	wg.Wait()

	var confirmed, exhausted, other int
	for _, id := range ids {
		a, ok := f.orch.Lookup(id)
		if !ok {
			t.Fatalf("attempt %s vanished", id)
		}
		if !a.Step.Terminal() {
			t.Fatalf("attempt %s not terminal: %s", id, a.Step)
		}
		switch {
		case a.Step == flashsale.StepConfirmed:
			confirmed++
		case a.Step == flashsale.StepFailed && a.FailReason == ReasonExhausted:
			exhausted++
		default:
			other++
			t.Errorf("attempt %s ended %s (%s)", id, a.Step, a.FailReason)
		}
	}
	if confirmed != 3 || exhausted != 7 || other != 0 {
		t.Fatalf("confirmed=%d exhausted=%d other=%d, want 3/7/0", confirmed, exhausted, other)
	}

	snap := f.snapshot(t)
	if snap.Sold != 3 || snap.Available != 0 || snap.Holds != 0 {
		t.Fatalf("snapshot = %+v, want sold=3 avail=0 holds=0", snap)
	}
	if snap.Frozen {
		t.Fatal("ledger frozen")
	}
}

func TestSagaPaymentDeclined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.pay.ChargeErr = func(string) error { return payment.ErrDeclined }

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.orch.Run(ctx, a.ID)

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	if !strings.HasPrefix(got.FailReason, ReasonPaymentFailed) {
		t.Fatalf("fail reason = %q", got.FailReason)
	}

	// Declines are permanent: exactly one charge try, and nothing to refund.
	if f.pay.ChargeCalls != 1 {
		t.Fatalf("charge calls = %d, want 1", f.pay.ChargeCalls)
	}
	if f.pay.RefundCalls != 0 {
		t.Fatalf("refund calls = %d, want 0", f.pay.RefundCalls)
	}

	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 || snap.Sold != 0 {
		t.Fatalf("snapshot = %+v, want unit released", snap)
	}
}

func TestSagaPaymentUnavailableRetriesThenCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.pay.ChargeErr = func(string) error { return payment.ErrUnavailable }

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.orch.Run(ctx, a.ID)

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	// Transient failures burn the retry budget first.
	if f.pay.ChargeCalls != 3 {
		t.Fatalf("charge calls = %d, want 3", f.pay.ChargeCalls)
	}
	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 {
		t.Fatalf("snapshot = %+v, want unit released", snap)
	}
}

func TestSagaOrderCreateFailureRefundsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	f.orders.err = errors.New("orders db down")

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.orch.Run(ctx, a.ID)

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	if !strings.HasPrefix(got.FailReason, ReasonOrderFailed) {
		t.Fatalf("fail reason = %q", got.FailReason)
	}

	// Money was captured: exactly one refund against the minted payment.
	pid, ok := f.pay.PaymentIDFor(a.ID)
	if !ok {
		t.Fatal("no payment recorded")
	}
	if n := f.pay.Refunds(pid); n != 1 {
		t.Fatalf("refunds = %d, want 1", n)
	}
	if f.orders.callCount() != 3 {
		t.Fatalf("order create calls = %d, want 3", f.orders.callCount())
	}

	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 || snap.Sold != 0 {
		t.Fatalf("snapshot = %+v, want unit released and nothing sold", snap)
	}
}

func TestSagaCompensationEscalatesThenLands(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, 1, nil, 0)
	f.orders.err = errors.New("orders db down")

	var fails int
	var mu sync.Mutex
	f.pay.RefundErr = func(string) error {
		mu.Lock()
		defer mu.Unlock()
		fails++
		if fails == 1 {
			return payment.ErrUnavailable
		}
		return nil
	}

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	f.orch.Run(ctx, a.ID)

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	pid, _ := f.pay.PaymentIDFor(a.ID)
	if n := f.pay.Refunds(pid); n != 1 {
		t.Fatalf("refunds = %d, want 1", n)
	}
	_, _, escalated := f.notes.counts()
	if escalated != 1 {
		t.Fatalf("escalations = %d, want 1", escalated)
	}
}

func TestSagaBeginRejectsUnsellableItems(t *testing.T) {
	ctx := context.Background()

	t.Run("sold out", func(t *testing.T) {
		f := newFixture(t, 1)
		a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		f.orch.Run(ctx, a.ID)

		if _, err := f.orch.Begin(ctx, "u2", "sale-1", "tok", ""); !errors.Is(err, flashsale.ErrExhausted) {
			t.Fatalf("begin after sell-out = %v, want ErrExhausted", err)
		}
	})

	t.Run("not yet started", func(t *testing.T) {
		f := newFixture(t, 1)
		now := f.clk.Now()
		f.cat.Put(flashsale.SaleItem{ID: "sale-2", TotalUnits: 1, PriceCents: 100, StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour)})
		if _, err := f.orch.Begin(ctx, "u1", "sale-2", "tok", ""); !errors.Is(err, flashsale.ErrSaleNotActive) {
			t.Fatalf("begin before start = %v, want ErrSaleNotActive", err)
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		f := newFixture(t, 1)
		if _, err := f.orch.Begin(ctx, "u1", "nope", "tok", ""); !errors.Is(err, flashsale.ErrSaleNotFound) {
			t.Fatalf("begin unknown = %v, want ErrSaleNotFound", err)
		}
	})
}

// blockingPayments parks every charge until its context dies, standing in for
// a provider that hangs mid-flight.
type blockingPayments struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingPayments) Charge(ctx context.Context, attemptID string, amountCents int, paymentToken string) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingPayments) Refund(ctx context.Context, paymentID string) error { return nil }

func TestSagaCancelDuringPayment(t *testing.T) {
	ctx := context.Background()
	bp := &blockingPayments{started: make(chan struct{})}
	f := newFixtureWith(t, 1, bp, time.Minute)

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx, a.ID)
		close(done)
	}()

	<-bp.started
	if err := f.orch.Cancel(a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	<-done

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	if !strings.HasPrefix(got.FailReason, ReasonCanceled) {
		t.Fatalf("fail reason = %q, want CANCELED prefix", got.FailReason)
	}
	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 {
		t.Fatalf("snapshot = %+v, want unit released", snap)
	}

	if err := f.orch.Cancel(a.ID); !errors.Is(err, flashsale.ErrAttemptTerminal) {
		t.Fatalf("cancel terminal = %v, want ErrAttemptTerminal", err)
	}
	if err := f.orch.Cancel("nope"); !errors.Is(err, flashsale.ErrAttemptNotFound) {
		t.Fatalf("cancel unknown = %v, want ErrAttemptNotFound", err)
	}
}

func TestSagaHoldExpiryDuringPayment(t *testing.T) {
	ctx := context.Background()
	bp := &blockingPayments{started: make(chan struct{})}
	f := newFixtureWith(t, 1, bp, time.Minute)

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx, a.ID)
		close(done)
	}()

	<-bp.started
	f.clk.Advance(31 * time.Second)
	if n := f.coord.ExpireSweep(ctx); n != 1 {
		t.Fatalf("sweep = %d, want 1", n)
	}
	<-done

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	if !strings.HasPrefix(got.FailReason, ReasonReservationTimeout) {
		t.Fatalf("fail reason = %q, want RESERVATION_TIMEOUT prefix", got.FailReason)
	}

	// The sweeper already released the unit; compensation must not double it.
	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 || snap.Frozen {
		t.Fatalf("snapshot = %+v, want exactly one release", snap)
	}
}

// blockingLedger parks TryReserve until the context dies, standing in for a
// ledger backend that hangs mid-flight.
type blockingLedger struct {
	*ledger.Memory
	started chan struct{}
	once    sync.Once
}

func (b *blockingLedger) TryReserve(ctx context.Context, itemID string) (ledger.Result, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestSagaCancelDuringReserve(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cat := flashsale.NewCatalog(clk)
	led := &blockingLedger{
		Memory:  ledger.NewMemory(cat.MarkSoldOut),
		started: make(chan struct{}),
	}

	now := clk.Now()
	cat.Put(flashsale.SaleItem{
		ID:         "sale-1",
		Name:       "Widget Drop",
		TotalUnits: 1,
		PriceCents: 1999,
		StartsAt:   now.Add(-time.Minute),
		EndsAt:     now.Add(time.Hour),
	})
	if err := led.Register(ctx, "sale-1", 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	var orch *Orchestrator
	coord := reservation.NewCoordinator(led, 30*time.Second, clk, func(id, reason string) {
		orch.OnHoldExpired(id, reason)
	})
	fast := guard.Retry{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	notes := &recordingNotifier{}
	orch = New(Deps{
		Reservations:  coord,
		Payments:      payment.NewStub(),
		Orders:        newFakeOrders(),
		Catalog:       cat,
		PayGuard:      &guard.Guard{Breaker: guard.NewBreaker("payments", 3, 30*time.Second, 10*time.Second, clk), Retry: fast},
		OrderGuard:    &guard.Guard{Breaker: guard.NewBreaker("orders", 1, 30*time.Second, 10*time.Second, clk), Retry: fast},
		ReserveRetry:  fast,
		EscalateAfter: time.Minute,
		Notifier:      notes,
		Clock:         clk,
	})

	a, err := orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	done := make(chan struct{})
	go func() {
		orch.Run(ctx, a.ID)
		close(done)
	}()

	<-led.started
	if err := orch.Cancel(a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	<-done

	// No unit was held yet, so the attempt fails outright rather than
	// compensating, and the reason names the cancellation.
	got, _ := orch.Lookup(a.ID)
	if got.Step != flashsale.StepFailed {
		t.Fatalf("step = %s, want FAILED", got.Step)
	}
	if got.FailReason != ReasonCanceled {
		t.Fatalf("fail reason = %q, want %q", got.FailReason, ReasonCanceled)
	}
}

func TestSagaWaitCoversCompensation(t *testing.T) {
	ctx := context.Background()
	bp := &blockingPayments{started: make(chan struct{})}
	f := newFixtureWith(t, 1, bp, time.Minute)

	a, err := f.orch.Begin(ctx, "u1", "sale-1", "tok", "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	f.orch.Go(ctx, a.ID)

	<-bp.started
	if err := f.orch.Cancel(a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Wait must hold until the saga has landed, compensation included.
	f.orch.Wait()

	got, _ := f.orch.Lookup(a.ID)
	if got.Step != flashsale.StepCompensated {
		t.Fatalf("step = %s, want COMPENSATED", got.Step)
	}
	snap := f.snapshot(t)
	if snap.Available != 1 || snap.Holds != 0 {
		t.Fatalf("snapshot = %+v, want unit released", snap)
	}
}
