package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/blockchain/events"
	"credential-registry/internal/config"
	"credential-registry/internal/model"
	"credential-registry/internal/ports/http"
	"credential-registry/internal/ports/http/middleware/auth"
	"credential-registry/internal/reconcile"

	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type ServeOptions struct {
	*RootOptions
	Listen bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation engine and the query API",
		Long: `Run the reconciliation engine on its interval and serve the query API.

With --listen the service also subscribes to block commits and asks for a
resync on every new block, on top of the interval.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Listen, "listen", false, "resync on block commit events, also enabled by "+config.KeyListenerEnabled)
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	logger := opts.logger
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if opts.Listen || config.IsListenerEnabled() {
		listener := events.NewEventListener(logger.Named("listener"), config.GetValidatorAddr())
		listener.SetHandler(credentialfamily.BlockCommit, blockCommitHandler(logger, svc.engine))
		if err := listener.Start(); err != nil {
			// the interval keeps the replica in sync without the listener
			logger.Error("failed to start the block listener", zap.Error(err))
		} else {
			defer listener.Stop()
		}
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- svc.engine.Run(ctx)
	}()

	ser := http.NewServer(logger, svc.app, config.GetPort(), auth.JwtTokenParams{
		Issuer:     config.GetJwtIssuer(),
		Audience:   config.GetJwtAudience(),
		SigningKey: config.GetJwtSigningKey(),
	}, config.GetRequestTimeout())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ser.Run()
	}()

	select {
	case <-ctx.Done():
	case err = <-serverDone:
		logger.Error("http server stopped", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ser.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	<-engineDone

	logger.Info("service stopped")
	return err
}

func blockCommitHandler(logger *zap.Logger, engine *reconcile.Engine) func(*events_pb2.Event) error {
	return func(event *events_pb2.Event) error {
		if block, err := events.BlockNum(event); err == nil {
			logger.Debug("block committed", zap.Uint64("block", block))
		}
		return engine.TriggerResync(model.GlobalScope)
	}
}
