package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/contestfeed/internal/archive"
	"github.com/alfredjeanlab/contestfeed/internal/clock"
	"github.com/alfredjeanlab/contestfeed/internal/config"
	"github.com/alfredjeanlab/contestfeed/internal/eventlog"
	"github.com/alfredjeanlab/contestfeed/internal/events"
	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/presence"
	"github.com/alfredjeanlab/contestfeed/internal/server"
	"github.com/alfredjeanlab/contestfeed/internal/store"
	"github.com/alfredjeanlab/contestfeed/internal/store/memory"
	"github.com/alfredjeanlab/contestfeed/internal/store/postgres"
	"github.com/alfredjeanlab/contestfeed/internal/synth"
)

// shutdownTimeout bounds graceful shutdown of each listener.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the contest feed server",
	GroupID: "system",
	// The server does not need a client connection.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		useMemory, _ := cmd.Flags().GetBool("memory")
		fixture, _ := cmd.Flags().GetString("fixture")
		if fixture != "" {
			useMemory = true
		}

		cfg, err := config.Load(!useMemory)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, useMemory, fixture, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logger.Error("error closing store", "error", err)
			}
		}()

		// Announcements wake idle sessions; without NATS they poll.
		var (
			publisher events.Publisher = &events.NoopPublisher{}
			waker     feed.Waker
		)
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				pub.Close()
				return err
			}
			defer sub.Close()
			waker = events.NewWaker(sub)
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (CFD_NATS_URL not set)", "poll_interval", cfg.PollInterval)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "error", err)
			}
		}()

		tracker := presence.New()
		tracker.StartReaper(&presence.ReaperConfig{StallThreshold: cfg.StallThreshold})
		defer tracker.Stop()

		eventLog := eventlog.New(st, publisher, logger)
		dispatcher := feed.NewDispatcher(st, synth.New(eventLog, logger), feed.Options{
			PollInterval:      cfg.PollInterval,
			KeepaliveInterval: cfg.KeepaliveInterval,
			Waker:             waker,
			Presence:          tracker,
			Logger:            logger,
		})
		controller := clock.New(eventLog, clock.WithLocation(cfg.Location), clock.WithLogger(logger))

		srv := server.New(server.Config{
			Store:        st,
			Dispatcher:   dispatcher,
			Clock:        controller,
			Auth:         server.NewAuthenticator(cfg.ReaderTokens, cfg.WriterTokens),
			Logger:       logger,
			WriteTimeout: cfg.WriteTimeout,
		})

		// Start gRPC listener.
		grpcServer := server.NewGRPCServer(srv)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
		}()

		// Start HTTP server. Feed responses stream indefinitely, so there is
		// no server-wide write timeout; each write carries its own deadline.
		// Request contexts derive from ctx so open feeds end on shutdown.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()

		scheduler := startArchive(ctx, st, cfg, logger)

		storeKind := "postgres"
		if useMemory {
			storeKind = "memory"
		}
		logger.Info("contestfeed server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"store", storeKind,
		)

		<-ctx.Done()
		logger.Info("received signal, shutting down")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			grpcServer.Stop()
		}
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore connects to Postgres, or builds an in-memory store seeded from
// an optional YAML fixture.
func openStore(ctx context.Context, useMemory bool, fixture string, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if !useMemory {
		return postgres.New(cfg.DatabaseURL)
	}
	mem := memory.New()
	if fixture != "" {
		f, err := os.Open(fixture)
		if err != nil {
			return nil, fmt.Errorf("opening fixture: %w", err)
		}
		defer f.Close()
		if err := memory.LoadFixture(ctx, mem, f); err != nil {
			return nil, fmt.Errorf("loading fixture %s: %w", fixture, err)
		}
		logger.Info("memory store seeded", "fixture", fixture)
	} else {
		logger.Warn("memory store is empty; pass --fixture to seed contests")
	}
	return mem, nil
}

// startArchive starts the archive scheduler when an interval and at least
// one destination are configured.
func startArchive(ctx context.Context, st store.Store, cfg *config.Config, logger *slog.Logger) *archive.Scheduler {
	if !cfg.ArchiveEnabled() {
		return nil
	}
	var dests []archive.Destination

	if cfg.ArchiveS3Bucket != "" {
		s3Dest, err := archive.NewS3Destination(ctx,
			cfg.ArchiveS3Bucket,
			cfg.ArchiveS3Prefix,
			cfg.ArchiveS3Region,
			cfg.ArchiveS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 archive destination", "error", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
		}
	}

	if cfg.ArchiveGitRepo != "" {
		dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitDir, cfg.ArchiveGitBranch))
		logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "dir", cfg.ArchiveGitDir)
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := archive.NewScheduler(st, dests, cfg.ArchiveInterval, logger)
	scheduler.Start()
	logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
	return scheduler
}

func init() {
	serveCmd.Flags().Bool("memory", false, "use the in-memory store instead of Postgres")
	serveCmd.Flags().String("fixture", "", "YAML fixture to seed the in-memory store (implies --memory)")
}
