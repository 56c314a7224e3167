package cli

import (
	"context"
	"fmt"
	"time"

	"credential-registry/internal/app"
	"credential-registry/internal/authz"
	"credential-registry/internal/blockchain"
	"credential-registry/internal/config"
	"credential-registry/internal/keymanager"
	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"
	"credential-registry/internal/repository"
	"credential-registry/internal/repository/mongodb"
	"credential-registry/internal/repository/sqlite"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type services struct {
	logger *zap.Logger
	store  repository.Store
	client *blockchain.Client
	engine *reconcile.Engine
	app    *app.App
}

func openStore(ctx context.Context, logger *zap.Logger) (repository.Store, error) {
	switch driver := config.GetDbDriver(); driver {
	case config.DriverMongo:
		repo, err := mongodb.NewConnection(ctx, logger, config.GetDbConnectionURI(), config.GetDatabaseName())
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverSqlite:
		store, err := sqlite.Open(logger, config.GetSqlitePath())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// deploymentBlock prefers the configured value and falls back to the
// on-chain setting. Without either the sync starts at the genesis block.
func deploymentBlock(ctx context.Context, logger *zap.Logger, client *blockchain.Client) uint64 {
	if block := config.GetDeploymentBlock(); block > 0 {
		return block
	}
	block, err := client.DeploymentBlock(ctx)
	if err != nil {
		if !model.IsNotFound(err) {
			logger.Warn("failed to read the deployment block setting", zap.Error(err))
		}
		return 0
	}
	return block
}

func openServices(ctx context.Context, logger *zap.Logger) (*services, error) {
	store, err := openStore(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open the replica: %w", err)
	}

	client := blockchain.NewClient(logger, config.GetValidatorRestAPIAddr(), config.GetValidatorAddr(), config.GetRequestTimeout(),
		blockchain.WithFinality(config.GetConfirmations()))

	engine := reconcile.NewEngine(logger.Named("reconcile"), client, store, reconcile.Config{
		BatchBlocks:     config.GetSyncBatchBlocks(),
		Confirmations:   config.GetConfirmations(),
		DeploymentBlock: deploymentBlock(ctx, logger, client),
		Interval:        config.GetSyncInterval(),
		MaxRetries:      config.GetSyncMaxRetries(),
		MaxBackoff:      config.GetSyncMaxBackoff(),
	})

	resolver := authz.NewResolver(logger.Named("authz"), client, store, authz.Config{
		MaxAge:  config.GetRoleCacheMaxAge(),
		Retries: config.GetRoleCheckRetries(),
	})

	keys := keymanager.NewKeyManager(logger)
	keys.LoadHexKeys(config.GetOperatorKeys())

	a := app.NewApp(logger, store, engine, resolver, client, keys, app.WithSubmitWait(config.GetRequestTimeout()))

	return &services{
		logger: logger,
		store:  store,
		client: client,
		engine: engine,
		app:    a,
	}, nil
}

func (s *services) Close() error {
	s.engine.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Combine(s.client.Close(), s.store.Close(ctx))
}
