// odksync - ODK Central to PostgreSQL synchronization service
// Copyright 2026 Ripplenami
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ripplenami/odksync

// Package main is the entry point for the odksync service.
//
// odksync periodically pulls form submissions from ODK Central, re-hosts
// their image attachments in S3-compatible object storage behind expiring
// signed URLs, and maintains a denormalized unified table in PostgreSQL
// for downstream reporting.
//
// # Application Architecture
//
// Startup wires the components in the following order:
//
//  1. Configuration: environment variables layered over config.yaml and
//     built-in defaults (Koanf v2)
//  2. Database: PostgreSQL pool, schema creation, sync tracking tables
//  3. ODK client: rate-limited, retrying OData client behind a circuit
//     breaker
//  4. Object storage: S3 client for attachment hosting and URL signing
//  5. Sync manager: the periodic pipeline (parents, attachments, URL
//     refresh, children, unified rebuild)
//  6. Ops server: health, sync status, manual trigger, Prometheus metrics
//
// The sync manager and ops server run under a suture supervisor tree, so
// either can crash and restart without taking the other down.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor stops its
// services, in-flight requests get 10 seconds to finish, and the database
// pool is closed last.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ripplenami/odksync/internal/api"
	"github.com/ripplenami/odksync/internal/config"
	"github.com/ripplenami/odksync/internal/database"
	"github.com/ripplenami/odksync/internal/identity"
	"github.com/ripplenami/odksync/internal/logging"
	"github.com/ripplenami/odksync/internal/odk"
	"github.com/ripplenami/odksync/internal/storage"
	"github.com/ripplenami/odksync/internal/supervisor"
	"github.com/ripplenami/odksync/internal/sync"
	"github.com/ripplenami/odksync/internal/unified"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("odk_url", cfg.ODK.BaseURL).
		Str("form", cfg.ODK.FormID).
		Str("bucket", cfg.Storage.Bucket).
		Dur("interval", cfg.Sync.Interval).
		Msg("Starting odksync")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	objects, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	client := odk.NewCircuitBreakerClient(odk.NewClient(cfg.ODK))
	if err := client.Ping(ctx); err != nil {
		// Central may simply be down right now; the sync loop retries.
		logging.Warn().Err(err).Msg("ODK Central not reachable at startup")
	}

	resolver, err := identity.NewResolver(cfg.Sync.LinkStrategy, cfg.Sync.Separator)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid link strategy")
	}

	builder := unified.NewBuilder(
		db,
		unified.NewAggregator(resolver, cfg.Sync.Separator),
		cfg.Database.MainTable,
		cfg.Database.PersonTable,
		cfg.Database.UnifiedTable,
	)

	refresher := storage.NewRefresher(objects, db, cfg.Storage.Bucket,
		cfg.Storage.RefreshThreshold, cfg.Storage.URLTTL)

	manager := sync.New(cfg.Sync, cfg.Storage, client, db, db, objects,
		resolver, builder, refresher)

	server := api.NewServer(cfg.Server, db, manager, db)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(manager)
	tree.AddAPIService(server)

	logging.Info().Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}
	logging.Info().Msg("odksync stopped")
}
