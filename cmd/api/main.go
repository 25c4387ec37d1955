package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-flash-sale.git/internal/admission"
	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/config"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/guard"
	"github.com/ariefcatur/go-flash-sale.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-flash-sale.git/internal/kafka"
	"github.com/ariefcatur/go-flash-sale.git/internal/ledger"
	"github.com/ariefcatur/go-flash-sale.git/internal/orderstore"
	"github.com/ariefcatur/go-flash-sale.git/internal/payment"
	"github.com/ariefcatur/go-flash-sale.git/internal/postgres"
	"github.com/ariefcatur/go-flash-sale.git/internal/redisx"
	"github.com/ariefcatur/go-flash-sale.git/internal/reservation"
	"github.com/ariefcatur/go-flash-sale.git/internal/saga"
	"github.com/ariefcatur/go-flash-sale.git/internal/salesync"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	clk := clock.NewSystem()
	catalog := flashsale.NewCatalog(clk)

	var led ledger.Ledger
	switch cfg.LedgerBackend {
	case "memory":
		led = ledger.NewMemory(catalog.MarkSoldOut)
	default:
		led = ledger.NewRedis(rdb, catalog.MarkSoldOut)
	}

	// Kafka producers for the notification collaborator.
	pConfirmed := kafkax.NewProducer(cfg.KafkaBrokers, flashsale.TopicPurchaseConfirmed, 1024)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, flashsale.TopicPurchaseFailed, 1024)
	pEscalated := kafkax.NewProducer(cfg.KafkaBrokers, flashsale.TopicPurchaseEscalated, 256)
	pConfirmed.Start()
	pFailed.Start()
	pEscalated.Start()

	// Payment capability: HTTP gateway adapter, or the stub for local runs.
	var payments payment.Client
	if cfg.PaymentURL != "" {
		payments = payment.NewHTTPClient(cfg.PaymentURL, cfg.PaymentTimeout)
	} else {
		log.Printf("PAYMENT_URL empty, using in-memory payment stub")
		payments = payment.NewStub()
	}

	retry := guard.Retry{
		MaxRetries:      uint64(cfg.RetryMax),
		InitialInterval: cfg.RetryInitial,
	}
	payRetry := retry
	payRetry.PerTryTimeout = cfg.PaymentTimeout
	orderRetry := retry
	orderRetry.PerTryTimeout = cfg.OrderTimeout

	statusCache := &redisx.StatusCache{RDB: rdb}

	// The sweeper callback is wired after the orchestrator exists.
	var orch *saga.Orchestrator
	coord := reservation.NewCoordinator(led, cfg.HoldTTL, clk, func(attemptID, reason string) {
		orch.OnHoldExpired(attemptID, reason)
	})

	orch = saga.New(saga.Deps{
		Reservations: coord,
		Payments:     payments,
		Orders:       &orderstore.PG{DB: db},
		Catalog:      catalog,
		PayGuard: &guard.Guard{
			Breaker: guard.NewBreaker("payment", cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown, clk),
			Retry:   payRetry,
		},
		OrderGuard: &guard.Guard{
			Breaker: guard.NewBreaker("order-store", cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerCooldown, clk),
			Retry:   orderRetry,
		},
		ReserveRetry:  guard.Retry{MaxRetries: 2, InitialInterval: 20 * time.Millisecond},
		EscalateAfter: cfg.EscalateAfter,
		Notifier: &saga.KafkaNotifier{
			Confirmed: pConfirmed,
			Failed:    pFailed,
			Escalated: pEscalated,
			Service:   cfg.ServiceName,
		},
		Archive:     &flashsale.ArchiveRepo{DB: db},
		StatusCache: statusCache,
		Clock:       clk,
	})

	// Admission gate with a shared counter store and a waiting room that
	// starts sagas for released tickets.
	room := admission.NewWaitingRoom(cfg.QueueCapacity, cfg.TicketTTL, cfg.QueueDripEvery, clk,
		func(ctx context.Context, t flashsale.AdmissionTicket) {
			a, err := orch.Begin(ctx, t.UserID, t.SaleItemID, t.PaymentToken, t.ID)
			if err != nil {
				log.Printf("waiting room: ticket %s not admitted: %v", t.ID, err)
				return
			}
			orch.Go(ctx, a.ID)
		})
	gate := admission.NewGate(&redisx.Counters{RDB: rdb}, room, admission.Limits{
		GlobalPerWindow: cfg.GlobalPerWindow,
		Window:          cfg.AdmissionWindow,
		UserCooldown:    cfg.UserCooldown,
	}, nil, clk)

	// Sale lifecycle input.
	saleRepo := &flashsale.SaleRepo{DB: db}
	sales := &salesync.Service{
		Catalog:     catalog,
		Ledger:      led,
		Repo:        saleRepo,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
	}
	if err := sales.LoadExisting(ctx); err != nil {
		log.Fatalf("load sales: %v", err)
	}
	group := getenv("SALE_SYNC_GROUP", "flashsale-api")
	workers := getint("SALE_SYNC_WORKERS", 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, flashsale.TopicSaleScheduled, workers)

	// HTTP
	router := httpx.NewRouter()
	ph := &httpx.PurchaseHandler{
		Gate:    gate,
		Room:    room,
		Saga:    orch,
		Catalog: catalog,
		Status:  statusCache,
		Archive: &flashsale.ArchiveRepo{DB: db},
		RunCtx:  ctx,
	}
	ph.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return room.Run(gctx) })
	g.Go(func() error { return coord.RunSweeper(gctx, cfg.SweepEvery) })
	g.Go(func() error {
		log.Printf("sale sync consumer started: group=%s topic=%s workers=%d", group, flashsale.TopicSaleScheduled, workers)
		return cons.Start(gctx, sales.HandleSaleScheduled)
	})
	g.Go(func() error {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tick.C:
				catalog.Refresh()
			}
		}
	})
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// In-flight sagas (including compensation) finish before the producers
	// stop taking messages, so no terminal notification is lost.
	orch.Wait()

	pConfirmed.Close()
	pFailed.Close()
	pEscalated.Close()
	pConfirmed.WaitClosed()
	pFailed.WaitClosed()
	pEscalated.WaitClosed()
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
