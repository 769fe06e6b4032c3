// Package trackerd runs the relay socket server.
package trackerd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"cabtrack/internal/domain/geo"
	"cabtrack/internal/general/config"
	"cabtrack/internal/general/contracts"
	"cabtrack/internal/general/jwt"
	"cabtrack/internal/general/logger"
	"cabtrack/internal/general/postgres"
	"cabtrack/internal/general/rabbitmq"
	"cabtrack/internal/relay"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Run starts the relay and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, configPath string) error {
	log := logger.New("trackerd")
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := relay.Options{}

	if cfg.Relay.JWTSecret != "" {
		opts.Auth = jwt.NewManager(cfg.Relay.JWTSecret, 2*time.Hour)
		log.Info(ctx, "relay_auth_enabled", "Register token verification enabled", nil)
	}

	var repo *postgres.SnapshotRepo
	if cfg.Relay.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Relay.DatabaseURL, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()
		repo = postgres.NewSnapshotRepo(pool)
	}

	var rmq *rabbitmq.Client
	if cfg.Relay.RabbitMQ.Enabled {
		rmq, err = rabbitmq.ConnectRabbitMQ(ctx, cfg.Relay.RabbitMQ, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()
		opts.Fanout = rabbitmq.NewSnapshotPublisher(rmq)
	}

	// snapshot archiving: when the bus is up the archive consumer drains the
	// queue into Postgres, so every fanout consumer and the archive see the
	// same stream; without the bus the relay inserts directly
	switch {
	case repo != nil && rmq != nil:
		go runArchiveConsumer(ctx, rmq, repo, log)
	case repo != nil:
		opts.Archive = repo
	}

	server := relay.NewServer(log, opts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Relay started on port %d", cfg.Relay.Port),
		map[string]any{
			"port":     cfg.Relay.Port,
			"auth":     opts.Auth != nil,
			"archive":  repo != nil,
			"rabbitmq": rmq != nil,
		},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down relay", err, nil)
		}
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "http_server_error", "Relay terminated with error", err, map[string]any{"port": cfg.Relay.Port})
			return err
		}
	}

	return nil
}

// runArchiveConsumer drains the snapshot archive queue into Postgres. It
// retries while the context lives; consume errors surface on reconnects.
func runArchiveConsumer(ctx context.Context, rmq *rabbitmq.Client, repo *postgres.SnapshotRepo, log *logger.Logger) {
	handler := func(hCtx context.Context, d amqp.Delivery) error {
		var msg contracts.SnapshotQueueMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		record, err := geo.NewSnapshotRecord(msg.DriverID, msg.Location.Position(), string(msg.Location.Phase),
			msg.Location.Pickup, msg.Location.Drop, msg.Timestamp)
		if err != nil {
			return err
		}
		return repo.Archive(hCtx, record)
	}

	for ctx.Err() == nil {
		err := rmq.Consume(ctx, contracts.QueueSnapshotArchive, "trackerd-archive", 8, handler)
		if err != nil {
			log.Error(ctx, "archive_consume_failed", "Snapshot archive consumer stopped, retrying", err, nil)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
