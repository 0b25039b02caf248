// Package bootstrap wires the resolved configuration into live stores and a
// sync coordinator, shared by the triplesyncd daemon and the triplesyncctl
// CLI so both talk to the relational/vector/graph stores the same way.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/triplesync/core/internal/config"
	tserrors "github.com/triplesync/core/internal/errors"
	"github.com/triplesync/core/internal/logging"
	"github.com/triplesync/core/internal/resource"
	storegraph "github.com/triplesync/core/internal/store/graph"
	"github.com/triplesync/core/internal/store/relational"
	storevector "github.com/triplesync/core/internal/store/vector"
	"github.com/triplesync/core/internal/syncsvc"
)

// OpenStores opens the relational, vector and graph stores per cfg, each
// wrapped with the shared resource manager's connection budget (spec §6.5)
// and a dedicated circuit breaker (spec §6.3).
func OpenStores(cfg config.Config, logger logging.Logger) (relational.Store, storevector.Store, storegraph.Store, error) {
	resources := resource.New(resource.Limits{
		RelationalCap:     cfg.ConnectionCapRelational,
		VectorCap:         cfg.ConnectionCapVector,
		GraphCap:          cfg.ConnectionCapGraph,
		RelationalTimeout: cfg.ConnectionTimeout("relational"),
		VectorTimeout:     cfg.ConnectionTimeout("vector"),
		GraphTimeout:      cfg.ConnectionTimeout("graph"),
	}, logger.With("resource-manager"))

	relBreaker := tserrors.NewStoreCircuitBreaker("relational", tserrors.StoreRelational, tserrors.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: 1,
		Timeout:          cfg.RecoveryTimeout(),
	})
	vecBreaker := tserrors.NewStoreCircuitBreaker("vector", tserrors.StoreVector, tserrors.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: 1,
		Timeout:          cfg.RecoveryTimeout(),
	})
	graphBreaker := tserrors.NewStoreCircuitBreaker("graph", tserrors.StoreGraph, tserrors.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: 1,
		Timeout:          cfg.RecoveryTimeout(),
	})

	tasks, err := relational.Open(cfg.RelationalDSN, resources, relBreaker, logger.With("relational-store"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open relational store: %w", err)
	}

	var db *chromem.DB
	if cfg.VectorPath != "" {
		db, err = chromem.NewPersistentDB(cfg.VectorPath, false)
	} else {
		db = chromem.NewDB()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open vector db: %w", err)
	}
	vec, err := storevector.NewChromemStore(db, nil, resources, vecBreaker, logger.With("vector-store"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	graphStore, err := storegraph.Open(context.Background(), cfg.GraphURI, cfg.GraphUsername, cfg.GraphPassword,
		resources, graphBreaker, logger.With("graph-store"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open graph store: %w", err)
	}

	return tasks, vec, graphStore, nil
}

// OpenCoordinator opens the stores per cfg and wraps them in a sync
// coordinator, for callers (triplesyncctl's one-shot commands) that don't
// need the stores individually.
func OpenCoordinator(cfg config.Config, logger logging.Logger) (*syncsvc.Coordinator, error) {
	tasks, vec, graphStore, err := OpenStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	coord := syncsvc.New(syncsvc.Config{
		BatchSize:        cfg.SyncBatchSize,
		BatchWindow:      cfg.SyncBatchTimeout(),
		MaxRetries:       cfg.MaxRetries,
		MaxContentLength: cfg.EmbeddingMaxContentLength,
	}, tasks, vec, graphStore, logger.With("sync-coordinator"))
	return coord, nil
}
