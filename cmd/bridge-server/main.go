package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/admin"
	"github.com/onebridge/evm-bridge/pkg/auth"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/config"
	"github.com/onebridge/evm-bridge/pkg/evmclient"
	"github.com/onebridge/evm-bridge/pkg/httpserver"
	"github.com/onebridge/evm-bridge/pkg/keys"
	"github.com/onebridge/evm-bridge/pkg/ledger"
	"github.com/onebridge/evm-bridge/pkg/pgutil"
	"github.com/onebridge/evm-bridge/pkg/rpc"
	"github.com/onebridge/evm-bridge/pkg/store"
	"github.com/onebridge/evm-bridge/pkg/txbuilder"
)

// restartTickDelay is how long after a restart the finalization
// engine is re-armed with the last known round.
const restartTickDelay = 3 * time.Second

// registryClients adapts the shared client registry to the
// finalization engine's lookup interface.
type registryClients struct{ reg *evmclient.Registry }

func (r registryClients) Client(chain string) (bridge.EVMClient, bool) {
	c, ok := r.reg.Get(chain)
	if !ok {
		return nil, false
	}
	return c, true
}

// builderClients adapts the same registry to the transaction
// builder's lookup interface.
type builderClients struct{ reg *evmclient.Registry }

func (r builderClients) Client(chain string) (txbuilder.EVMClient, bool) {
	c, ok := r.reg.Get(chain)
	if !ok {
		return nil, false
	}
	return c, true
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bridge-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting bridge server",
		zap.String("config", configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	durable := store.NewStore(db)

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	state, err := buildState(ctx, cfg, durable, signer, logger)
	if err != nil {
		return err
	}

	ledgerClient, err := ledger.Dial(cfg.Ledger.Target, cfg.Ledger.TLSEnabled, cfg.Ledger.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("dial native ledger: %w", err)
	}
	defer func() { _ = ledgerClient.Close() }()

	registry := evmclient.NewRegistry()
	defer registry.Close()
	dialConfiguredChains(state, registry, logger)

	builder := txbuilder.NewBuilder(state, builderClients{reg: registry}, signer, logger)

	scheduler := bridge.NewTimerScheduler()
	controller := bridge.NewController(
		state, ledgerClient, registryClients{reg: registry}, signer, builder,
		durable, scheduler, bridge.RealClock, logger, cfg.Bridge.CanisterPrincipal,
	)
	scheduler.Bind(ctx, controller)

	adminSvc := &admin.Service{
		State:  state,
		Store:  durable,
		Ledger: ledgerClient,
		Signer: signer,
		Factory: func(chain string, urls []string, maxConfirmations int) (admin.EVMClient, error) {
			client, err := evmclient.NewClient(chain, urls, maxConfirmations, logger)
			if err != nil {
				return nil, err
			}
			registry.Set(chain, client)
			return client, nil
		},
		Logger:            logger,
		CanisterPrincipal: cfg.Bridge.CanisterPrincipal,
		Governance:        auth.Principal(cfg.Bridge.GovernancePrincipal),
		PaginationMin:     cfg.Bridge.PaginationMin,
		PaginationMax:     cfg.Bridge.PaginationMax,
	}

	var jwtValidator *auth.JWTValidator
	if cfg.Auth.JWKSURL != "" {
		jwtValidator = auth.NewJWTValidator(cfg.Auth.JWKSURL, cfg.Auth.Issuer)
	}

	rpcServer := rpc.NewServer(controller, adminSvc, builder, signer, cfg.KeyManagement.KeyName, jwtValidator, logger)
	router := httpserver.NewRouter(rpcServer, logger)

	// Re-arm the engine shortly after restart with the last known
	// round so pending intents restored from the checkpoint resume.
	scheduler.After(restartTickDelay, state.CurrentRound())

	err = httpserver.ServeAndWait(ctx, router, logger, &cfg.Server)

	checkpointCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := durable.CheckpointState(checkpointCtx, state.Checkpoint()); cerr != nil {
		logger.Error("failed to checkpoint state on shutdown", zap.Error(cerr))
	} else {
		logger.Info("state checkpointed")
	}

	logger.Info("Server stopped")
	return err
}

// buildSigner selects the threshold-ECDSA service when configured and
// the local derived-key signer otherwise.
func buildSigner(cfg *config.Config) (keys.Signer, error) {
	if cfg.KeyManagement.ThresholdSignerEndpoint != "" {
		return keys.NewThresholdSigner(cfg.KeyManagement.ThresholdSignerEndpoint, cfg.KeyManagement.KeyName), nil
	}

	masterKeyStr := os.Getenv(cfg.KeyManagement.MasterKeyEnv)
	if masterKeyStr == "" {
		return nil, fmt.Errorf(
			"master key not set: env=%s (hint: openssl rand -base64 32)",
			cfg.KeyManagement.MasterKeyEnv,
		)
	}
	masterKey, err := keys.MasterKeyFromBase64(masterKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid master key: %w", err)
	}
	return keys.NewLocalSigner(masterKey)
}

// buildState restores the checkpointed state when one exists and
// initializes a fresh one from configuration otherwise. Either way
// the bridge's own key material is re-derived: the master key, not
// the checkpoint, owns identity.
func buildState(ctx context.Context, cfg *config.Config, durable *store.Store, signer keys.Signer, logger *zap.Logger) (*bridge.State, error) {
	state := bridge.NewState(bridge.TokenMeta{
		Name:     cfg.Token.Name,
		Symbol:   cfg.Token.Symbol,
		Decimals: cfg.Token.Decimals,
		LogoURL:  cfg.Token.Logo,
		Fee:      cfg.Token.BridgeFee,
	}, cfg.Bridge.MinThresholdToBridge)

	snap, err := durable.RestoreState(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore state checkpoint: %w", err)
	}
	if snap != nil {
		state.Restore(*snap)
		logger.Info("restored state checkpoint",
			zap.Uint64("round", snap.CurrentRound),
			zap.Int("pending", len(snap.Pending)))
	}

	pub, chainCode, err := signer.DeriveSubkey(ctx, cfg.Bridge.CanisterPrincipal)
	if err != nil {
		return nil, fmt.Errorf("derive canister subkey: %w", err)
	}
	addr, err := keys.PubkeyToEVMAddress(pub)
	if err != nil {
		return nil, fmt.Errorf("derive canister EVM address: %w", err)
	}

	state.Lock()
	state.MasterPubKey = pub
	state.MasterChainCode = chainCode
	state.CanisterEVMAddress = addr.Hex()
	state.Unlock()

	logger.Info("bridge identity ready", zap.String("evm_address", addr.Hex()))
	return state, nil
}

// dialConfiguredChains dials a quorum client for every chain with a
// restored provider set. A chain that fails to dial stays absent from
// the registry; tasks targeting it error and retry rather than
// blocking startup.
func dialConfiguredChains(state *bridge.State, registry *evmclient.Registry, logger *zap.Logger) {
	snap := state.Checkpoint()
	for chain, providers := range snap.EvmProviders {
		client, err := evmclient.NewClient(chain, providers.URLs, providers.MaxConfirmations, logger)
		if err != nil {
			logger.Error("failed to dial providers for chain",
				zap.String("chain", chain), zap.Error(err))
			continue
		}
		registry.Set(chain, client)
		logger.Info("dialed EVM providers",
			zap.String("chain", chain),
			zap.Int("provider_count", len(providers.URLs)))
	}
}
