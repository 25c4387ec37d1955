// Package saga drives the reserve -> pay -> confirm pipeline for one purchase
// attempt, compensating on any step failure. There is no cross-service event
// choreography: this orchestrator owns step sequencing and idempotency keys.
package saga

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/guard"
	"github.com/ariefcatur/go-flash-sale.git/internal/orderstore"
	"github.com/ariefcatur/go-flash-sale.git/internal/payment"
	"github.com/ariefcatur/go-flash-sale.git/internal/reservation"
)

const (
	ReasonExhausted          = "EXHAUSTED"
	ReasonReserveFailed      = "RESERVE_FAILED"
	ReasonPaymentFailed      = "PAYMENT_FAILED"
	ReasonOrderFailed        = "ORDER_CREATE_FAILED"
	ReasonReservationTimeout = "RESERVATION_TIMEOUT"
	ReasonCanceled           = "CANCELED"
)

// Notifier publishes fire-and-forget events to the notification collaborator.
// Delivery is best-effort and never on the critical path.
type Notifier interface {
	OrderConfirmed(ctx context.Context, a flashsale.PurchaseAttempt)
	PurchaseFailed(ctx context.Context, a flashsale.PurchaseAttempt)
	CompensationEscalated(ctx context.Context, a flashsale.PurchaseAttempt, action, cause string)
}

// Archiver stores terminal attempts durably.
type Archiver interface {
	ArchiveAttempt(ctx context.Context, a flashsale.PurchaseAttempt) error
}

// StatusCache mirrors attempt status for fast polling.
type StatusCache interface {
	SetStatus(ctx context.Context, a flashsale.PurchaseAttempt) error
}

type Deps struct {
	Reservations *reservation.Coordinator
	Payments     payment.Client
	Orders       orderstore.Creator
	Catalog      *flashsale.Catalog
	PayGuard     *guard.Guard
	OrderGuard   *guard.Guard
	ReserveRetry guard.Retry
	// EscalateAfter bounds how long a failing compensation retries before an
	// operator alert goes out. Retrying continues after escalation.
	EscalateAfter time.Duration
	Notifier      Notifier    // optional
	Archive       Archiver    // optional
	StatusCache   StatusCache // optional
	Clock         clock.Clock
}

type Orchestrator struct {
	d     Deps
	store *Store
	wg    sync.WaitGroup

	mu            sync.Mutex
	cancels       map[string]context.CancelFunc
	cancelReasons map[string]string
}

func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	return &Orchestrator{
		d:             d,
		store:         NewStore(d.Clock),
		cancels:       map[string]context.CancelFunc{},
		cancelReasons: map[string]string{},
	}
}

// Begin creates the attempt for an admitted request. attemptID may be a
// waiting-room ticket id; empty means mint a fresh one.
func (o *Orchestrator) Begin(ctx context.Context, userID, itemID, paymentToken, attemptID string) (flashsale.PurchaseAttempt, error) {
	status, err := o.d.Catalog.Status(itemID)
	if err != nil {
		return flashsale.PurchaseAttempt{}, err
	}
	switch status {
	case flashsale.SaleActive:
	case flashsale.SaleSoldOut:
		return flashsale.PurchaseAttempt{}, flashsale.ErrExhausted
	default:
		return flashsale.PurchaseAttempt{}, flashsale.ErrSaleNotActive
	}

	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	a, err := o.store.Create(flashsale.PurchaseAttempt{
		ID:           attemptID,
		UserID:       userID,
		SaleItemID:   itemID,
		PaymentToken: paymentToken,
	})
	if err != nil {
		return flashsale.PurchaseAttempt{}, err
	}
	o.cacheStatus(ctx, a)
	return a, nil
}

// Lookup returns the attempt's current state.
func (o *Orchestrator) Lookup(id string) (flashsale.PurchaseAttempt, bool) {
	return o.store.Get(id)
}

// Cancel aborts a running attempt: immediate release if only reserved,
// immediate compensation if payment or confirmation is in flight.
func (o *Orchestrator) Cancel(attemptID string) error {
	a, ok := o.store.Get(attemptID)
	if !ok {
		return flashsale.ErrAttemptNotFound
	}
	if a.Step.Terminal() {
		return flashsale.ErrAttemptTerminal
	}
	o.abort(attemptID, ReasonCanceled)
	return nil
}

// abort cancels the attempt's run context, recording why.
func (o *Orchestrator) abort(attemptID, reason string) {
	o.mu.Lock()
	cancel, ok := o.cancels[attemptID]
	if ok {
		o.cancelReasons[attemptID] = reason
	}
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// abortReason consumes the recorded cancel reason, falling back to def.
func (o *Orchestrator) abortReason(attemptID, def string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.cancelReasons[attemptID]; ok {
		delete(o.cancelReasons, attemptID)
		return r
	}
	return def
}

// OnHoldExpired is wired as the sweeper callback. The sweeper has already
// released the ledger slot; here the owning attempt is failed or, when an
// external call is mid-flight, its saga is aborted into compensation.
func (o *Orchestrator) OnHoldExpired(attemptID, reason string) {
	a, ok := o.store.Get(attemptID)
	if !ok {
		return
	}
	switch a.Step {
	case flashsale.StepReserved, flashsale.StepReserving:
		o.fail(context.Background(), attemptID, ReasonReservationTimeout)
	case flashsale.StepPaying, flashsale.StepConfirming, flashsale.StepPaid:
		o.abort(attemptID, ReasonReservationTimeout)
	}
}

// Go runs the saga in its own goroutine, tracked so Wait can hold shutdown
// until every in-flight attempt (including its compensation) has landed.
func (o *Orchestrator) Go(ctx context.Context, attemptID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Run(ctx, attemptID)
	}()
}

// Wait blocks until every saga started through Go has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Run executes the saga to a terminal state. Intended to run in its own
// goroutine, one per attempt.
func (o *Orchestrator) Run(ctx context.Context, attemptID string) {
	a, ok := o.store.Get(attemptID)
	if !ok {
		log.Printf("saga: unknown attempt %s", attemptID)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancels[attemptID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, attemptID)
		delete(o.cancelReasons, attemptID)
		o.mu.Unlock()
	}()

	// Reserve.
	if !o.step(ctx, attemptID, flashsale.StepReserving, "") {
		return
	}
	err := o.d.ReserveRetry.Do(runCtx, func(ctx context.Context) error {
		_, err := o.d.Reservations.Reserve(ctx, a.ID, a.UserID, a.SaleItemID)
		if errors.Is(err, flashsale.ErrExhausted) {
			return guard.Permanent(err)
		}
		return err
	})
	if err != nil {
		// Nothing was reserved; terminal failure, no compensation.
		reason := ReasonReserveFailed
		switch {
		case errors.Is(err, flashsale.ErrExhausted):
			reason = ReasonExhausted
		case runCtx.Err() != nil && ctx.Err() == nil:
			reason = o.abortReason(attemptID, ReasonCanceled)
		}
		o.fail(ctx, attemptID, reason)
		return
	}
	if !o.step(ctx, attemptID, flashsale.StepReserved, "") {
		return
	}

	item, ok := o.d.Catalog.Get(a.SaleItemID)
	if !ok {
		o.compensate(ctx, attemptID, "", ReasonOrderFailed+": item vanished")
		return
	}

	// Pay.
	if !o.step(ctx, attemptID, flashsale.StepPaying, "") {
		return
	}
	var paymentID string
	err = o.d.PayGuard.Call(runCtx, func(ctx context.Context) error {
		id, err := o.d.Payments.Charge(ctx, a.ID, item.PriceCents, a.PaymentToken)
		if errors.Is(err, payment.ErrDeclined) {
			return guard.Permanent(err)
		}
		if err != nil {
			return err
		}
		paymentID = id
		return nil
	})
	if err != nil {
		reason := ReasonPaymentFailed
		if runCtx.Err() != nil && ctx.Err() == nil {
			reason = o.abortReason(attemptID, ReasonCanceled)
		}
		o.compensate(ctx, attemptID, "", reason+": "+err.Error())
		return
	}
	o.store.Update(attemptID, func(pa *flashsale.PurchaseAttempt) { pa.PaymentID = paymentID })
	if !o.step(ctx, attemptID, flashsale.StepPaid, "") {
		return
	}

	// Confirm.
	if !o.step(ctx, attemptID, flashsale.StepConfirming, "") {
		return
	}
	var orderID string
	err = o.d.OrderGuard.Call(runCtx, func(ctx context.Context) error {
		id, err := o.d.Orders.CreateOrder(ctx, a.ID, a.UserID, a.SaleItemID, item.PriceCents, paymentID)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		// The severe branch: money is captured. Refund, then release.
		reason := ReasonOrderFailed
		if runCtx.Err() != nil && ctx.Err() == nil {
			reason = o.abortReason(attemptID, ReasonCanceled)
		}
		o.compensate(ctx, attemptID, paymentID, reason+": "+err.Error())
		return
	}
	o.store.Update(attemptID, func(pa *flashsale.PurchaseAttempt) { pa.OrderID = orderID })

	if err := o.d.Reservations.Commit(ctx, attemptID); err != nil {
		log.Printf("saga: commit hold attempt=%s: %v", attemptID, err)
	}

	final, err := o.store.Transition(attemptID, flashsale.StepConfirmed, "")
	if err != nil {
		log.Printf("saga: confirm transition attempt=%s: %v", attemptID, err)
		return
	}
	o.cacheStatus(ctx, final)
	if o.d.Notifier != nil {
		o.d.Notifier.OrderConfirmed(ctx, final)
	}
	o.archive(ctx, final)
}

// step transitions and reports whether the saga may continue. A false return
// means another actor (sweeper, cancel) already moved the attempt.
func (o *Orchestrator) step(ctx context.Context, attemptID string, to flashsale.Step, reason string) bool {
	a, err := o.store.Transition(attemptID, to, reason)
	if err != nil {
		log.Printf("saga: transition to %s attempt=%s: %v", to, attemptID, err)
		return false
	}
	o.cacheStatus(ctx, a)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, attemptID, reason string) {
	a, err := o.store.Transition(attemptID, flashsale.StepFailed, reason)
	if err != nil {
		return
	}
	o.cacheStatus(ctx, a)
	if o.d.Notifier != nil {
		o.d.Notifier.PurchaseFailed(ctx, a)
	}
	o.archive(ctx, a)
}

// compensate reverses completed steps: refund when paymentID is set, then
// release the hold. Each action retries until it lands; neither is ever
// silently dropped, since both represent money or inventory in flight.
func (o *Orchestrator) compensate(ctx context.Context, attemptID, paymentID, cause string) {
	a, err := o.store.Transition(attemptID, flashsale.StepCompensating, cause)
	if err != nil {
		log.Printf("saga: compensating transition attempt=%s: %v", attemptID, err)
		return
	}
	o.cacheStatus(ctx, a)

	// Cancellation of the saga must not cancel the cleanup.
	compCtx := context.WithoutCancel(ctx)

	if paymentID != "" {
		o.compensateAction(compCtx, a, "refund", cause, func(ctx context.Context) error {
			return o.d.Payments.Refund(ctx, paymentID)
		})
	}
	o.compensateAction(compCtx, a, "release", cause, func(ctx context.Context) error {
		err := o.d.Reservations.ReleaseHold(ctx, attemptID)
		if errors.Is(err, flashsale.ErrReservationNotFound) {
			return nil
		}
		return err
	})

	final, err := o.store.Transition(attemptID, flashsale.StepCompensated, cause)
	if err != nil {
		return
	}
	o.cacheStatus(ctx, final)
	if o.d.Notifier != nil {
		o.d.Notifier.PurchaseFailed(ctx, final)
	}
	o.archive(ctx, final)
}

// compensateAction retries fn with backoff until it succeeds or ctx dies.
// After EscalateAfter an operator alert is emitted once; retrying continues.
func (o *Orchestrator) compensateAction(ctx context.Context, a flashsale.PurchaseAttempt, action, cause string, fn func(ctx context.Context) error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	start := o.d.Clock.Now()
	escalated := false

	for {
		err := fn(ctx)
		if err == nil {
			return
		}
		log.Printf("saga: compensation %s attempt=%s: %v", action, a.ID, err)
		if !escalated && o.d.Clock.Now().Sub(start) >= o.d.EscalateAfter {
			escalated = true
			log.Printf("ALERT compensation %s stuck attempt=%s cause=%s", action, a.ID, cause)
			if o.d.Notifier != nil {
				o.d.Notifier.CompensationEscalated(ctx, a, action, cause)
			}
		}
		select {
		case <-ctx.Done():
			log.Printf("saga: compensation %s abandoned attempt=%s: %v", action, a.ID, ctx.Err())
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (o *Orchestrator) cacheStatus(ctx context.Context, a flashsale.PurchaseAttempt) {
	if o.d.StatusCache == nil {
		return
	}
	if err := o.d.StatusCache.SetStatus(ctx, a); err != nil {
		log.Printf("saga: status cache attempt=%s: %v", a.ID, err)
	}
}

func (o *Orchestrator) archive(ctx context.Context, a flashsale.PurchaseAttempt) {
	if o.d.Archive == nil {
		return
	}
	if err := o.d.Archive.ArchiveAttempt(context.WithoutCancel(ctx), a); err != nil {
		log.Printf("saga: archive attempt=%s: %v", a.ID, err)
	}
}
