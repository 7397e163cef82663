package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	httpapi "github.com/execution-hub/dsp-connector/internal/api/http"
	appNegotiation "github.com/execution-hub/dsp-connector/internal/application/negotiation"
	"github.com/execution-hub/dsp-connector/internal/application/retry"
	"github.com/execution-hub/dsp-connector/internal/application/statemachine"
	appTransfer "github.com/execution-hub/dsp-connector/internal/application/transfer"
	"github.com/execution-hub/dsp-connector/internal/config"
	"github.com/execution-hub/dsp-connector/internal/domain/negotiation"
	"github.com/execution-hub/dsp-connector/internal/domain/protocol"
	"github.com/execution-hub/dsp-connector/internal/domain/transfer"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/dataplane"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/dispatcher"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/keystore"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/memory"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/postgres"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/sqlite"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/sse"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/token"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the protocol endpoints, management API and state machines",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.LogLevel))
		},
	}
}

type stores struct {
	negotiations appNegotiation.Store
	transfers    appTransfer.Store
	agreements   negotiation.AgreementStore
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	holder, lease := cfg.InstanceID, cfg.LeaseDuration
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool, postgres.Migrations()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
		return &stores{
			negotiations: postgres.NewNegotiationStore(pool, holder, lease),
			transfers:    postgres.NewTransferStore(pool, holder, lease),
			agreements:   postgres.NewAgreementStore(pool),
			close:        pool.Close,
		}, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		return &stores{
			negotiations: db.Negotiations(holder, lease),
			transfers:    db.Transfers(holder, lease),
			agreements:   db.Agreements(),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error().Err(err).Msg("failed to close sqlite")
				}
			},
		}, nil
	default:
		logger.Warn().Msg("using the in-memory store; processes are lost on restart")
		return &stores{
			negotiations: memory.NewStore[*negotiation.ContractNegotiation](holder, lease),
			transfers:    memory.NewStore[*transfer.Process](holder, lease),
			agreements:   memory.NewAgreementStore(),
			close:        func() {},
		}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// identity
	signingKey, err := keystore.SigningKey(cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("SIGNING_KEY: %w", err)
	}
	trusted, err := keystore.Parse(cfg.TrustedParticipants)
	if err != nil {
		return err
	}
	issuer := token.NewIssuer(cfg.ParticipantID, signingKey, cfg.TokenTTL)
	verifier := token.NewVerifier(trusted, 30*time.Second)

	// outbound
	client := &http.Client{Timeout: cfg.DispatchTimeout}
	dispatchers := protocol.NewRegistry()
	dispatchers.Register(protocol.DSP, dispatcher.NewHTTPDispatcher(client, issuer, logger))
	var flow transfer.DataFlowController = dataplane.Noop{}
	if cfg.DataPlaneURL != "" {
		flow = dataplane.NewHTTPController(cfg.DataPlaneURL, client, logger)
	}

	// observers
	hub := sse.NewHub()
	defer hub.Stop()
	negListeners := appNegotiation.NewListeners(logger)
	negListeners.Register(sse.NewNegotiationListener(hub, logger))
	tpListeners := appTransfer.NewListeners(logger)
	tpListeners.Register(sse.NewTransferListener(hub, logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := statemachine.NewMetrics(registry)

	policy := retry.Policy{
		Wait:           retry.ExponentialWait{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay, Jitter: 0.2},
		Limit:          cfg.RetryLimit,
		AttemptTimeout: cfg.DispatchTimeout,
	}

	negOpts := []statemachine.Option[*negotiation.ContractNegotiation]{statemachine.WithMetrics[*negotiation.ContractNegotiation](metrics)}
	negGuard, err := statemachine.NewExpressionGuard[*negotiation.ContractNegotiation](cfg.PendingGuardNegotiation, func(s int) string { return negotiation.State(s).String() })
	if err != nil {
		return fmt.Errorf("PENDING_GUARD_NEGOTIATION: %w", err)
	}
	if negGuard != nil {
		negOpts = append(negOpts, statemachine.WithGuard[*negotiation.ContractNegotiation](negGuard))
	}
	tpOpts := []statemachine.Option[*transfer.Process]{statemachine.WithMetrics[*transfer.Process](metrics)}
	tpGuard, err := statemachine.NewExpressionGuard[*transfer.Process](cfg.PendingGuardTransfer, func(s int) string { return transfer.State(s).String() })
	if err != nil {
		return fmt.Errorf("PENDING_GUARD_TRANSFER: %w", err)
	}
	if tpGuard != nil {
		tpOpts = append(tpOpts, statemachine.WithGuard[*transfer.Process](tpGuard))
	}

	negManager := appNegotiation.NewManager(appNegotiation.ManagerConfig{
		ParticipantID:        cfg.ParticipantID,
		ParticipantContextID: cfg.ParticipantContextID,
		CallbackAddress:      cfg.ProtocolAddress,
		BatchSize:            cfg.BatchSize,
		MaxInFlight:          cfg.MaxInFlight,
		IterationWait:        retry.FixedWait(cfg.IterationWait),
		Retry:                policy,
	}, st.negotiations, dispatchers, st.agreements, negListeners, logger, negOpts...)
	tpManager := appTransfer.NewManager(appTransfer.ManagerConfig{
		ParticipantContextID: cfg.ParticipantContextID,
		CallbackAddress:      cfg.ProtocolAddress,
		BatchSize:            cfg.BatchSize,
		MaxInFlight:          cfg.MaxInFlight,
		IterationWait:        retry.FixedWait(cfg.IterationWait),
		Retry:                policy,
	}, st.transfers, dispatchers, flow, tpListeners, logger, tpOpts...)

	// API server
	apiServer := httpapi.NewServer(httpapi.Dependencies{
		NegotiationProtocol: appNegotiation.NewProtocolService(cfg.ParticipantID, st.negotiations, verifier, st.agreements, negListeners, logger),
		TransferProtocol:    appTransfer.NewProtocolService(cfg.ParticipantID, st.transfers, verifier, st.agreements, flow, tpListeners, logger),
		Negotiations:        appNegotiation.NewService(st.negotiations, negListeners, logger),
		Transfers:           appTransfer.NewService(st.transfers, st.agreements, tpListeners, logger),
		Agreements:          st.agreements,
		Hub:                 hub,
		Gatherer:            registry,
		ManagementKeyHash:   cfg.ManagementAPIKeyHash,
		Logger:              logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the management event stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	negManager.Start(ctx)
	tpManager.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("participant_id", cfg.ParticipantID).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	// graceful shutdown
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceDuration)
	defer cancel()
	shutdownErr := httpServer.Shutdown(ctxShutdown)
	negManager.Stop()
	tpManager.Stop()
	logger.Info().Msg("connector stopped")
	return shutdownErr
}
