package flashsale

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
)

func testItem(clk clock.Clock) SaleItem {
	now := clk.Now()
	return SaleItem{
		ID:         "sale-1",
		Name:       "Widget Drop",
		TotalUnits: 100,
		PriceCents: 4999,
		StartsAt:   now.Add(time.Minute),
		EndsAt:     now.Add(time.Hour),
	}
}

func TestCatalogTimeTransitions(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCatalog(clk)
	c.Put(testItem(clk))

	status, err := c.Status("sale-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != SaleScheduled {
		t.Fatalf("status = %s, want SCHEDULED", status)
	}

	clk.Advance(2 * time.Minute)
	if status, _ = c.Status("sale-1"); status != SaleActive {
		t.Fatalf("status after start = %s, want ACTIVE", status)
	}

	clk.Advance(2 * time.Hour)
	if status, _ = c.Status("sale-1"); status != SaleEnded {
		t.Fatalf("status after end = %s, want ENDED", status)
	}
}

func TestCatalogMarkSoldOut(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCatalog(clk)
	it := testItem(clk)
	it.StartsAt = clk.Now().Add(-time.Minute)
	c.Put(it)

	if status, _ := c.Status("sale-1"); status != SaleActive {
		t.Fatalf("status = %s, want ACTIVE", status)
	}

	c.MarkSoldOut("sale-1")
	if status, _ := c.Status("sale-1"); status != SaleSoldOut {
		t.Fatalf("status = %s, want SOLD_OUT", status)
	}

	// Sold out still ends on schedule.
	clk.Advance(2 * time.Hour)
	if status, _ := c.Status("sale-1"); status != SaleEnded {
		t.Fatalf("status = %s, want ENDED", status)
	}
}

func TestCatalogEndedIsImmutable(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCatalog(clk)
	it := testItem(clk)
	c.Put(it)
	clk.Advance(2 * time.Hour)
	c.Refresh()

	c.MarkSoldOut("sale-1")
	if status, _ := c.Status("sale-1"); status != SaleEnded {
		t.Fatalf("status = %s, want ENDED", status)
	}

	// Replacing an ended item is ignored.
	fresh := testItem(clk)
	fresh.EndsAt = clk.Now().Add(time.Hour)
	c.Put(fresh)
	if status, _ := c.Status("sale-1"); status != SaleEnded {
		t.Fatalf("status after re-put = %s, want ENDED", status)
	}
}

func TestCatalogUnknownItem(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCatalog(clk)
	if _, err := c.Status("nope"); err == nil {
		t.Fatal("expected error for unknown item")
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected Get miss for unknown item")
	}
}

func TestCatalogListSorted(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := NewCatalog(clk)
	for _, id := range []string{"c", "a", "b"} {
		it := testItem(clk)
		it.ID = id
		c.Put(it)
	}
	got := c.List()
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("list order wrong: %+v", got)
	}
}
