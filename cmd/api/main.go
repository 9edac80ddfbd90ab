package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-agent-checkout.git/internal/checkout"
	"github.com/ariefcatur/go-agent-checkout.git/internal/config"
	"github.com/ariefcatur/go-agent-checkout.git/internal/events"
	"github.com/ariefcatur/go-agent-checkout.git/internal/httpx"
	"github.com/ariefcatur/go-agent-checkout.git/internal/idempotency"
	kafkax "github.com/ariefcatur/go-agent-checkout.git/internal/kafka"
	"github.com/ariefcatur/go-agent-checkout.git/internal/merchant"
	"github.com/ariefcatur/go-agent-checkout.git/internal/metrics"
	"github.com/ariefcatur/go-agent-checkout.git/internal/orders"
	"github.com/ariefcatur/go-agent-checkout.git/internal/postgres"
	"github.com/ariefcatur/go-agent-checkout.git/internal/redisx"
	"github.com/ariefcatur/go-agent-checkout.git/internal/webhooks"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Postgres when a DSN is configured, in-process maps otherwise.
	var (
		db           *pgxpool.Pool
		checkoutRepo checkout.Repo
		orderRepo    orders.Repo
		eventLog     webhooks.EventLog
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		checkoutRepo = &checkout.PostgresRepo{DB: db}
		orderRepo = &orders.PostgresRepo{DB: db}
		eventLog = webhooks.NewPostgresEventLog(db)
	} else {
		checkoutRepo = checkout.NewMemoryRepo()
		orderRepo = orders.NewMemoryRepo()
		eventLog = webhooks.NewMemoryEventLog()
	}

	// Idempotency backend. One replica can keep claims in process; more
	// than one needs Redis or Postgres so retries land on shared state.
	var idemStore idempotency.Store
	switch cfg.IdempotencyBackend {
	case "redis":
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		idemStore = idempotency.NewRedisStore(rdb, redisx.TTLIdempotency)
		if db == nil {
			// webhook dedup must be shared across replicas too
			eventLog = webhooks.NewRedisEventLog(rdb)
		}
	case "postgres":
		if db == nil {
			log.Fatalf("IDEMPOTENCY_BACKEND=postgres requires POSTGRES_DSN")
		}
		idemStore = idempotency.NewPostgresStore(db, idempotency.DefaultTTL)
	default:
		idemStore = idempotency.NewMemoryStore(0)
	}

	// Merchant registry
	mcfgs := make([]merchant.Config, 0, len(cfg.MerchantURLs))
	for id, url := range cfg.MerchantURLs {
		secret := cfg.MerchantSecrets[id]
		if secret == "" {
			secret = cfg.WebhookSecret
		}
		mcfgs = append(mcfgs, merchant.Config{ID: id, URL: url, WebhookSecret: secret})
	}
	registry := merchant.NewRegistry(mcfgs, 10*time.Second)
	log.Printf("merchants configured: %v", registry.IDs())

	// Event bus: nop unless brokers are configured.
	var bus events.Publisher = events.Nop{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024)
		prod.Start(ctx)
		bus = &events.KafkaPublisher{Producer: prod, Service: cfg.ServiceName}
	}

	// Services & handlers
	orderSvc := orders.NewService(orderRepo, bus)
	checkoutSvc := checkout.NewService(checkoutRepo, registry, orderSvc, bus)
	processor := webhooks.NewProcessor(registry, eventLog, checkoutSvc, orderSvc, bus)

	m := metrics.NewServerMetrics("api")
	srv := &httpx.Server{
		Checkouts: &httpx.CheckoutsHandler{Service: checkoutSvc, Orders: orderSvc},
		Orders:    &httpx.OrdersHandler{Service: orderSvc},
		Webhooks:  &httpx.WebhooksHandler{Processor: processor},
		Idem:      idemStore,
		Metrics:   m,
	}
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}

	// Periodic cleanup. The memory backends have no TTL machinery of their
	// own and the Postgres store only expires rows lazily; Redis TTLs make
	// this a no-op there.
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ms, ok := idemStore.(*idempotency.MemoryStore); ok {
					ms.Sweep()
				}
				if ps, ok := idemStore.(*idempotency.PostgresStore); ok {
					if _, err := ps.Sweep(ctx); err != nil {
						log.Printf("idempotency sweep: %v", err)
					}
				}
				if ml, ok := eventLog.(*webhooks.MemoryEventLog); ok {
					ml.Sweep(redisx.TTLWebhookDedup)
				}
			}
		}
	}()

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = httpSrv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()      // close inbox -> flush & close writer
		prod.WaitClosed() // drain before the deferred cancel stops the loop
	}
}
