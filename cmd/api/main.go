package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/KayaSend/remit-backend/internal/api"
	"github.com/KayaSend/remit-backend/internal/audit"
	"github.com/KayaSend/remit-backend/internal/catalog"
	"github.com/KayaSend/remit-backend/internal/config"
	"github.com/KayaSend/remit-backend/internal/idem"
	"github.com/KayaSend/remit-backend/internal/ledger"
	"github.com/KayaSend/remit-backend/internal/onramp"
	"github.com/KayaSend/remit-backend/internal/payment"
	"github.com/KayaSend/remit-backend/internal/reconcile"
	"github.com/KayaSend/remit-backend/internal/settle"
	"github.com/KayaSend/remit-backend/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer st.Close()

	dir, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Unable to load merchant catalog: %v", err)
	}

	led := ledger.NewPostgresLedger(st.Db)
	auditLog := audit.NewPostgresLog(st.Db)

	// External channels are env-driven and fail-soft: no endpoint means the
	// simulated channel, never a hardcoded address.
	var payoutChannel settle.PayoutChannel
	if cfg.Settlement.PayoutURL != "" {
		payoutChannel = settle.NewHTTPChannel(cfg.Settlement.PayoutURL, cfg.Settlement.Timeout.Std())
	} else {
		log.Println("Warning: PAYOUT_URL not set, using simulated disbursement channel")
		payoutChannel = settle.SimulatedChannel{}
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	inline := settle.NewInlineDispatcher(payoutChannel, auditLog, led)
	var dispatcher settle.Dispatcher = inline
	var queued *settle.QueuedDispatcher
	if cfg.Settlement.Mode == "queued" {
		queued = settle.NewQueuedDispatcher(inline, cfg.Settlement.QueueSize, cfg.Settlement.Timeout.Std())
		queued.Start(workerCtx)
		dispatcher = queued
	}
	log.Printf("Settlement dispatcher: %s", cfg.Settlement.Mode)

	protocol := payment.NewProtocol(dir, led, auditLog, dispatcher, payment.Terms{
		Network: cfg.Settlement.Network,
		Asset:   cfg.Settlement.Asset,
		PayTo:   cfg.Settlement.PayToWallet,
	})

	gate := idem.NewGate(idem.NewPostgresStore(st.Db), idem.DefaultTTL)
	reconciler := reconcile.NewReconciler(st.Db)

	rate, err := decimal.NewFromString(cfg.OnRamp.FXRate)
	if err != nil {
		log.Fatalf("Invalid FX rate %q: %v", cfg.OnRamp.FXRate, err)
	}
	var onrampChannel onramp.Channel
	if cfg.OnRamp.URL != "" {
		onrampChannel = onramp.NewHTTPChannel(cfg.OnRamp.URL, cfg.OnRamp.Timeout.Std())
	} else {
		log.Println("Warning: ONRAMP_URL not set, using simulated on-ramp channel")
		onrampChannel = onramp.SimulatedChannel{}
	}
	funding := onramp.NewService(onrampChannel, st, rate)

	handler := api.NewHandler(protocol, gate, reconciler, funding, st, auditLog)

	// Background jobs: idempotency retention and the settling audit sweep.
	jobs := cron.New()
	jobs.AddFunc(cfg.Jobs.IdempotencyPurgeCron, func() {
		gate.Purge(context.Background())
	})
	jobs.AddFunc(cfg.Jobs.StuckSettlingCron, func() {
		n, err := st.CountStuckSettling(context.Background(), "24 hours")
		if err != nil {
			log.Printf("stuck-settling sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("ALERT: %d transactions settling for more than 24h, reconcile manually", n)
		}
	})
	jobs.Start()
	defer jobs.Stop()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")

	r.HandleFunc("/merchant/{merchantId}/order", handler.OrderHandler).Methods("POST")
	r.HandleFunc("/webhooks/{provider}", handler.WebhookHandler).Methods("POST")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/funding", handler.FundingHandler).Methods("POST")
	apiV1.HandleFunc("/authorizations", handler.CreateAuthorizationHandler).Methods("POST")
	apiV1.HandleFunc("/authorizations/{id}", handler.GetAuthorizationHandler).Methods("GET")
	apiV1.HandleFunc("/escrows/{id}", handler.GetEscrowHandler).Methods("GET")
	apiV1.HandleFunc("/transactions/{id}", handler.GetTransactionHandler).Methods("GET")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	log.Printf("Server starting on :%s (%s)", cfg.Port, cfg.Env)

	<-ctx.Done()
	log.Println("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if queued != nil {
		// Drain queued payouts before the worker context dies; dropping
		// them would strand transactions in settling.
		queued.Wait()
	}
}
