// The notifier is the demo consumer for the notification collaborator: it
// drains the purchase event topics and logs them. A real deployment would
// fan these out to email/push providers.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-flash-sale.git/internal/config"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale.git/internal/kafka"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group := getenv("NOTIFIER_GROUP", "flashsale-notifier")
	workers := getint("NOTIFIER_WORKERS", 4)

	topics := []string{
		flashsale.TopicPurchaseConfirmed,
		flashsale.TopicPurchaseFailed,
		flashsale.TopicPurchaseEscalated,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		topic := topic
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers)
		g.Go(func() error {
			log.Printf("notifier consumer started: group=%s topic=%s workers=%d", group, topic, workers)
			return cons.Start(gctx, handle)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("notifier: %v", err)
	}
}

func handle(ctx context.Context, m kafkago.Message) error {
	var env flashsale.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	switch env.EventType {
	case flashsale.EventOrderConfirmed:
		p, err := kafkax.UnwrapPayload[flashsale.OrderConfirmedPayload](env.Payload)
		if err != nil {
			return err
		}
		log.Printf("notify user=%s: order %s confirmed (attempt %s)", p.UserID, p.OrderID, p.AttemptID)
	case flashsale.EventPurchaseFailed:
		p, err := kafkax.UnwrapPayload[flashsale.PurchaseFailedPayload](env.Payload)
		if err != nil {
			return err
		}
		log.Printf("notify user=%s: purchase failed (%s)", p.UserID, p.Reason)
	case flashsale.EventCompensationEscalated:
		p, err := kafkax.UnwrapPayload[flashsale.CompensationEscalatedPayload](env.Payload)
		if err != nil {
			return err
		}
		log.Printf("OPERATOR ALERT: compensation %s stuck for attempt %s: %s", p.Action, p.AttemptID, p.Cause)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
