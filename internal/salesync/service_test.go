package salesync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/ledger"
)

func scheduledMessage(t *testing.T, eventType string, p flashsale.SaleScheduledPayload) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := flashsale.Envelope{
		EventID:      "evt-1",
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		Producer:     "sale-scheduler",
		Payload:      payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return kafkago.Message{Key: []byte(p.ItemID), Value: value}
}

func TestHandleSaleScheduled(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cat := flashsale.NewCatalog(clk)
	led := ledger.NewMemory(nil)
	svc := &Service{Catalog: cat, Ledger: led, ServiceName: "flash-sale-api"}

	p := flashsale.SaleScheduledPayload{
		ItemID:     "sale-1",
		Name:       "Widget Drop",
		TotalUnits: 50,
		PriceCents: 4999,
		StartsAt:   clk.Now().Add(time.Hour),
		EndsAt:     clk.Now().Add(2 * time.Hour),
	}
	if err := svc.HandleSaleScheduled(ctx, scheduledMessage(t, flashsale.EventSaleScheduled, p)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	item, ok := cat.Get("sale-1")
	if !ok {
		t.Fatal("item not in catalog")
	}
	if item.Status != flashsale.SaleScheduled || item.TotalUnits != 50 {
		t.Fatalf("item = %+v", item)
	}

	snap, err := led.Snapshot(ctx, "sale-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Total != 50 || snap.Available != 50 {
		t.Fatalf("snapshot = %+v, want 50 units registered", snap)
	}

	// Replaying the same event must not reset the counters.
	if _, err := led.TryReserve(ctx, "sale-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := svc.HandleSaleScheduled(ctx, scheduledMessage(t, flashsale.EventSaleScheduled, p)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	snap, _ = led.Snapshot(ctx, "sale-1")
	if snap.Available != 49 || snap.Holds != 1 {
		t.Fatalf("snapshot after replay = %+v, want avail=49 holds=1", snap)
	}
}

func TestHandleSaleScheduledIgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cat := flashsale.NewCatalog(clk)
	svc := &Service{Catalog: cat, Ledger: ledger.NewMemory(nil), ServiceName: "flash-sale-api"}

	msg := scheduledMessage(t, "SomethingElse", flashsale.SaleScheduledPayload{ItemID: "sale-1"})
	if err := svc.HandleSaleScheduled(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := cat.Get("sale-1"); ok {
		t.Fatal("unexpected item registered from foreign event")
	}
}

func TestHandleSaleScheduledBadMessage(t *testing.T) {
	svc := &Service{
		Catalog:     flashsale.NewCatalog(clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))),
		Ledger:      ledger.NewMemory(nil),
		ServiceName: "flash-sale-api",
	}
	if err := svc.HandleSaleScheduled(context.Background(), kafkago.Message{Value: []byte("{not json")}); err == nil {
		t.Fatal("expected decode error")
	}
}
