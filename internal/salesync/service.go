// Package salesync ingests sale lifecycle events from the external scheduling
// collaborator and registers the items with the catalog and the ledger.
package salesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale.git/internal/kafka"
	"github.com/ariefcatur/go-flash-sale.git/internal/ledger"
	"github.com/ariefcatur/go-flash-sale.git/internal/redisx"
)

type Service struct {
	Catalog     *flashsale.Catalog
	Ledger      ledger.Ledger
	Repo        *flashsale.SaleRepo // optional; nil skips persistence
	Redis       *redis.Client       // optional; nil skips dedup
	ServiceName string
}

// HandleSaleScheduled is installed as the consumer handler for sale.scheduled.
func (s *Service) HandleSaleScheduled(ctx context.Context, m kafkago.Message) error {
	var env flashsale.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != flashsale.EventSaleScheduled {
		return nil
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[flashsale.SaleScheduledPayload](env.Payload)
	if err != nil {
		return err
	}

	item := flashsale.SaleItem{
		ID:         p.ItemID,
		Name:       p.Name,
		TotalUnits: p.TotalUnits,
		PriceCents: p.PriceCents,
		StartsAt:   p.StartsAt,
		EndsAt:     p.EndsAt,
		Status:     flashsale.SaleScheduled,
	}

	if err := s.Ledger.Register(ctx, item.ID, item.TotalUnits); err != nil {
		return err
	}
	s.Catalog.Put(item)

	if s.Repo != nil {
		if err := s.Repo.UpsertSale(ctx, item); err != nil {
			return err
		}
	}

	log.Printf("salesync: scheduled item=%s units=%d window=[%s, %s)", item.ID, item.TotalUnits, item.StartsAt, item.EndsAt)
	return nil
}

// LoadExisting replays persisted sales into the catalog and ledger at boot.
func (s *Service) LoadExisting(ctx context.Context) error {
	if s.Repo == nil {
		return nil
	}
	items, err := s.Repo.ListSales(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := s.Ledger.Register(ctx, it.ID, it.TotalUnits); err != nil {
			return err
		}
		it.Status = flashsale.SaleScheduled
		s.Catalog.Put(it)
	}
	log.Printf("salesync: loaded %d sale items", len(items))
	return nil
}
