package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reeseleonb-crypto/quickpostkit/internal/api"
	"github.com/reeseleonb-crypto/quickpostkit/internal/config"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/observability/metrics"
	"github.com/reeseleonb-crypto/quickpostkit/internal/scheduler"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job processor and scheduler",
		Long: `serve starts the HTTP API, the job processor and the retention scheduler
in one process. It shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("quickpostd")

	deps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("释放资源失败", "error", err)
		}
	}()

	gen, err := buildGenerator(cfg, deps.llm, deps.provider, deps.artifacts)
	if err != nil {
		return err
	}

	lease := seconds(cfg.Jobs.LeaseSeconds)
	processor := job.NewProcessor(gen, deps.store, deps.queue, deps.queue,
		job.WithWorkerCount(cfg.Jobs.Workers),
		job.WithJobTimeout(seconds(cfg.Jobs.TimeoutSeconds)),
		job.WithRetryDelay(millis(cfg.Jobs.RetryDelayMS)),
		job.WithLease(lease),
		job.WithAlertDispatcher(deps.alerts),
	)

	// 上次退出时未完成的任务重新入队。
	if n, err := deps.jobs.ResumePending(ctx, lease, 0); err != nil {
		log.Warn("补投未完成任务失败", "error", err)
	} else if n > 0 {
		log.Info("已补投未完成任务", "count", n)
	}

	sched := scheduler.New(time.Minute)
	sweep := &scheduler.SweepJob{
		Artifacts: deps.artifacts,
		Jobs:      deps.jobs,
		Retention: time.Duration(cfg.Jobs.RetentionHours) * time.Hour,
	}
	if err := sched.AddJob(ctx, cfg.Scheduler.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}
	if err := sched.AddJob(ctx, cfg.Scheduler.SweepSchedule, &scheduler.ResumeJob{Service: deps.jobs, Lease: lease}); err != nil {
		return fmt.Errorf("注册补投任务失败: %w", err)
	}

	server := api.NewServer(api.Options{
		Address:         cfg.Server.Address,
		PublicURL:       cfg.Server.PublicURL,
		StaticDir:       cfg.Server.StaticDir,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ReadTimeout:     seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout:    seconds(cfg.Server.WriteTimeoutSeconds),
		ShutdownTimeout: seconds(cfg.Server.ShutdownTimeoutSeconds),
	}, api.Deps{
		Payments:  deps.payments,
		Jobs:      deps.jobs,
		Artifacts: deps.artifacts,
		Limiter:   deps.limiter,
		Admin:     deps.admin,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if addr := cfg.Server.MetricsAddress; addr != "" {
		g.Go(func() error { return metrics.StartServer(gctx, addr) })
	}

	log.Info("quickpostd 已启动",
		"address", cfg.Server.Address,
		"payment", cfg.Payment.Driver,
		"llm", deps.provider,
		"store", cfg.Jobs.Store.Driver,
		"queue", cfg.Jobs.Queue.Driver,
		"artifacts", cfg.Artifacts.Driver,
	)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("quickpostd 已退出")
	return nil
}
