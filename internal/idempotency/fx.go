package idempotency

import (
	"context"

	"go.uber.org/fx"

	"github.com/smallbiznis/orderflow/internal/idempotency/repository"
	"github.com/smallbiznis/orderflow/internal/idempotency/service"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(NewCleanupConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})

			go func() {
				defer close(done)
				worker.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
