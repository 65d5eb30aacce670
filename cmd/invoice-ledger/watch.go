package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-ledger/internal/async"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/ingest"
	"github.com/joseph-ayodele/invoice-ledger/internal/metrics"
	"github.com/joseph-ayodele/invoice-ledger/internal/pipeline"
	"github.com/joseph-ayodele/invoice-ledger/internal/server"
)

func newWatchCmd(a *app) *cobra.Command {
	flags := &pipelineFlags{}
	var grpcAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process invoices as they appear in the input directory",
		Long: `watch processes existing files, then every file created or modified under
the input directory until interrupted. The memory bank is saved after each
file and the workbook is rebuilt from the memory bank on shutdown. gRPC
health and Prometheus metrics are served while watching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.apply(a, cmd.Flags())
			if cmd.Flags().Changed("grpc-addr") {
				a.cfg.Server.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Server.MetricsAddr = metricsAddr
			}
			if err := a.validate(); err != nil {
				return err
			}
			if _, _, err := ingest.Discover(a.cfg.Pipeline.InputDir, a.cfg.Pipeline.Pattern, a.logger); err != nil {
				return err
			}
			return a.watch(cmd.Context())
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health address, empty disables (default $GRPC_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics address, empty disables (default $METRICS_ADDR)")
	return cmd
}

func (a *app) watch(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}

	orch, err := a.newOrchestrator(pipeline.WithObserver(recorder))
	if err != nil {
		return err
	}
	if err := a.openLedger(ctx); err != nil {
		return err
	}

	srv := server.New(a.cfg.Server, reg, a.logger)
	if err := srv.Start(); err != nil {
		return err
	}

	p := a.cfg.Pipeline
	session := orch.StartSession(a.bank, p.OutputPath)
	queue := async.NewProcessorQueue(session, a.logger,
		async.WithWorkers(p.Workers),
		async.WithQueueSize(p.QueueSize),
		async.WithProcessTimeout(processTimeout(p.CallTimeout)),
	)

	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{p.InputDir},
		InitialScan: true,
		Debounce:    p.WatchDebounce,
		Logger:      a.logger,
	})
	if err != nil {
		queue.Shutdown(context.Background())
		srv.Shutdown(context.Background())
		return errors.Join(common.ErrConfig, err)
	}

	a.logger.Info("watch.start", "dir", p.InputDir, "run_id", session.RunID())
	for paths != nil || errs != nil {
		select {
		case path, ok := <-paths:
			if !ok {
				paths = nil
				continue
			}
			if err := queue.Enqueue(ctx, async.Job{Path: path}); err != nil && ctx.Err() == nil {
				a.logger.Warn("watch.enqueue.error", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.logger.Warn("watch.error", "error", err)
		}
	}

	a.logger.Info("watch.stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*processTimeout(p.CallTimeout))
	defer cancel()
	queue.Shutdown(shutdownCtx)
	closeErr := session.Close(shutdownCtx)
	srv.Shutdown(shutdownCtx)
	return closeErr
}

// processTimeout bounds one queued file: text extraction plus up to two
// extractor calls.
func processTimeout(call time.Duration) time.Duration {
	if call <= 0 {
		return 5 * time.Minute
	}
	return 3*call + 30*time.Second
}
