package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coronasafe/care-abdm/internal/apitoken"
	"github.com/coronasafe/care-abdm/internal/consent"
	"github.com/coronasafe/care-abdm/internal/correlation"
	"github.com/coronasafe/care-abdm/internal/dataflow"
	"github.com/coronasafe/care-abdm/internal/gateway"
	"github.com/coronasafe/care-abdm/internal/platform/config"
	"github.com/coronasafe/care-abdm/internal/platform/httpserver"
	"github.com/coronasafe/care-abdm/internal/platform/logger"
	"github.com/coronasafe/care-abdm/internal/platform/metrics"
	"github.com/coronasafe/care-abdm/internal/platform/postgres"
	"github.com/coronasafe/care-abdm/internal/platform/redis"
	httptransport "github.com/coronasafe/care-abdm/internal/transport/http"
	"github.com/coronasafe/care-abdm/pkg/audit"
)

// staticKeySource advertises the key material configured at startup. Key
// rotation happens by restarting with new material.
type staticKeySource struct {
	cfg config.KeyMaterialConfig
}

func (s staticKeySource) PublicMaterial(_ context.Context) (dataflow.KeyMaterial, error) {
	return dataflow.KeyMaterial{
		CryptoAlg:  s.cfg.CryptoAlg,
		Curve:      s.cfg.Curve,
		PublicKey:  s.cfg.PublicKey,
		Parameters: s.cfg.Parameters,
		Expiry:     time.Now().Add(s.cfg.Expiry),
		Nonce:      s.cfg.Nonce,
	}, nil
}

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres setup failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis setup failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var correlations correlation.Store
	if redisClient != nil {
		correlations = correlation.NewRedisStore(redisClient.Client)
	} else {
		correlations = correlation.NewInMemoryStore()
	}

	var (
		consentStore  consent.Store
		dataflowStore dataflow.Store
		recordStore   dataflow.RecordStore
	)
	if pool != nil {
		consentStore = consent.NewPostgresStore(pool)
		dataflowStore = dataflow.NewPostgresStore(pool)
		recordStore = dataflow.NewPostgresRecordStore(pool)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		consentStore = consent.NewInMemoryStore()
		dataflowStore = dataflow.NewInMemoryStore()
		recordStore = dataflow.NewInMemoryRecordStore()
	}

	auditRecorder := audit.NewRecorder(audit.NewInMemoryStore(), 0)

	gatewayClient := gateway.NewHTTPClient(gateway.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		CMID:         cfg.Gateway.CMID,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		Timeout:      cfg.Gateway.Timeout,
	}, log)

	consentService := consent.NewService(consentStore, correlations, gatewayClient, consent.Options{
		HIUID:            cfg.HIUID,
		Requester:        cfg.Requester,
		CallbackDeadline: cfg.ConsentCallbackDeadline,
		Logger:           log,
		Metrics:          m,
		Audit:            auditRecorder,
	})

	orchestrator := dataflow.NewOrchestrator(
		dataflowStore,
		recordStore,
		consentService,
		correlations,
		gatewayClient,
		staticKeySource{cfg: cfg.KeyMaterial},
		nil,
		dataflow.Options{
			TransferDeadline: cfg.TransferDeadline,
			DataPushURL:      cfg.DataPushURL,
			Logger:           log,
			Metrics:          m,
			Audit:            auditRecorder,
		},
	)

	sweeper := correlation.NewSweeper(correlations, cfg.SweepInterval, log)
	sweeper.Register(correlation.KindConsentRequest, consentService)
	sweeper.Register(correlation.KindConsentFetch, consentService)
	sweeper.Register(correlation.KindDataFlowRequest, orchestrator)

	tokens := apitoken.NewService(cfg.APISigningKey, "care-abdm", "local-api")

	router := httptransport.NewRouter(log, m,
		httptransport.NewConsentHandler(consentService, log, tokens),
		httptransport.NewDataFlowHandler(orchestrator, log, tokens),
		httptransport.NewAuditHandler(auditRecorder, log, tokens),
	)
	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting care-abdm engine", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		auditRecorder.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		sweeper.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				for _, id := range orchestrator.KeyTracker().Expire(time.Now()) {
					log.Info("purged expired key material", "transaction_id", id)
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-auditRecorder.Done()
}
