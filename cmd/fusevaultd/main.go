// Command fusevaultd starts FuseVault's HTTP service: it wires the
// database, Redis, chain client, and content store into every
// orchestrator and serves the API surface in spec.md §6. Wiring follows
// the teacher's cmd/validator main — load config, dial every backing
// store, construct the handler set, serve — generalized from a consensus
// validator daemon to an asset-registry daemon.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusevault/core/internal/apikey"
	"github.com/fusevault/core/internal/assetstore"
	"github.com/fusevault/core/internal/auth"
	"github.com/fusevault/core/internal/chainclient"
	"github.com/fusevault/core/internal/config"
	"github.com/fusevault/core/internal/contentstore"
	"github.com/fusevault/core/internal/database"
	"github.com/fusevault/core/internal/delegation"
	"github.com/fusevault/core/internal/delete"
	"github.com/fusevault/core/internal/httpapi"
	"github.com/fusevault/core/internal/pending"
	"github.com/fusevault/core/internal/retrieval"
	"github.com/fusevault/core/internal/transfer"
	"github.com/fusevault/core/internal/txlog"
	"github.com/fusevault/core/internal/upload"
)

// noSessionValidator rejects every session token. The wallet-session/login
// flow is explicitly out of this system's scope (spec.md §2 Non-goals);
// a real deployment plugs its session verifier in here via
// auth.SessionValidator.
type noSessionValidator struct{}

func (noSessionValidator) ValidateSession(ctx context.Context, token string) (string, bool) {
	return "", false
}

func main() {
	logger := log.New(os.Stdout, "[fusevaultd] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.NewClient(database.Params{
		URL: cfg.DatabaseURL, MaxConns: cfg.DatabaseMaxConns, MinConns: cfg.DatabaseMinConns,
		MaxIdleTime: cfg.DatabaseMaxIdleTime, MaxLifetime: cfg.DatabaseMaxLifetime,
	})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	if err := dbClient.MigrateUp(ctx); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to reach redis: %v", err)
	}
	defer redisClient.Close()

	chain, err := chainclient.NewClient(ctx, cfg.EthereumURL, cfg.EthChainID, cfg.AssetRegistryContract, cfg.EthPrivateKey)
	if err != nil {
		logger.Fatalf("failed to connect to chain: %v", err)
	}

	content := contentstore.NewClient(cfg.ContentStoreGatewayURL,
		contentstore.WithLogger(logger),
		contentstore.WithTimeout(cfg.ContentStoreTimeout),
	)

	assets := assetstore.NewRepository(dbClient)
	logs := txlog.NewRepository(dbClient)
	delegates := delegation.NewRegistry(dbClient)
	delegateCursor := delegation.NewCursor(dbClient)
	pendingCoord := pending.New(redisClient, cfg.PendingTxTTL)

	delegateSyncer := delegation.NewSyncer(chain, delegation.NewStore(delegates, delegateCursor), 30*time.Second, logger)
	go delegateSyncer.Start(ctx)
	defer delegateSyncer.Stop()

	signer := apikey.NewSigner(cfg.APIKeySecret)
	apiKeyStore := apikey.NewStore(dbClient)
	rateLimiter := apikey.NewRateLimiter(redisClient, cfg.APIKeyRateLimitPerMin, time.Minute)
	apiKeyValidator := apikey.NewValidator(signer, apiKeyStore, rateLimiter)
	dispatcher := auth.NewDispatcher(noSessionValidator{}, apiKeyValidator)

	uploadOp := upload.New(assets, content, chain, logs, pendingCoord, logger)
	deleteOp := delete.New(assets, chain, logs, pendingCoord, logger)
	retrieveOp := retrieval.New(assets, content, chain, logs, logger)
	transferOp := transfer.New(assets, chain, logs, pendingCoord, logger)

	server := httpapi.NewServer(httpapi.Deps{
		Upload: uploadOp, Delete: deleteOp, Retrieve: retrieveOp, Transfer: transferOp,
		Delegates: delegates, Chain: chain, Assets: assets, TxLogs: logs, PendingTx: pendingCoord,
		APIKeys: apiKeyStore, Signer: signer, Dispatcher: dispatcher,
		MaxBatch: cfg.MaxBatchSize, Logger: logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
