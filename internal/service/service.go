package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/SkynetNext/stagepool/internal/config"
	"github.com/SkynetNext/stagepool/internal/copier"
	"github.com/SkynetNext/stagepool/internal/logger"
	"github.com/SkynetNext/stagepool/internal/pool"
	"github.com/SkynetNext/stagepool/internal/snapshot"
)

// Service wires the buffer pools, the copier and the optional snapshot store,
// and exposes health and metrics endpoints
type Service struct {
	config *config.Config

	// Components
	pools       *pool.Manager
	copier      *copier.Copier
	redisClient *redis.Client
	snapshots   *snapshot.Store

	// Network
	listener      net.Listener
	metricsServer *http.Server

	// State
	draining int32 // Atomic: 0=Running, 1=Draining
	wg       sync.WaitGroup
}

// probe is copied at startup to check the staging path end to end
type probe struct {
	Service string
	Started int64
	Pools   []string
}

// New creates a new service instance
func New(cfg *config.Config) (*Service, error) {
	pools, err := pool.NewManager(cfg.Pools)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pools: %w", err)
	}

	codec, err := copier.CodecByName(cfg.Copier.Codec, cfg.Copier.Compress)
	if err != nil {
		return nil, err
	}
	copyPool, err := pools.MustGet(cfg.Copier.Pool)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config: cfg,
		pools:  pools,
		copier: copier.New(copyPool, codec),
	}

	if cfg.Redis.Addr != "" {
		snapshotPool, err := pools.MustGet(cfg.Snapshot.Pool)
		if err != nil {
			return nil, err
		}
		s.redisClient = snapshot.NewClient(&cfg.Redis)
		s.snapshots = snapshot.NewStore(s.redisClient, snapshotPool, codec, cfg.Snapshot, cfg.Redis.KeyPrefix)

		// Test Redis connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.snapshots.Ping(ctx); err != nil {
			s.redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	return s, nil
}

// Copier returns the service copier
func (s *Service) Copier() *copier.Copier {
	return s.copier
}

// Pools returns the pool manager
func (s *Service) Pools() *pool.Manager {
	return s.pools
}

// Snapshots returns the snapshot store, nil when Redis is not configured
func (s *Service) Snapshots() *snapshot.Store {
	return s.snapshots
}

// Start runs the startup self-check and starts background workers and the metrics server
func (s *Service) Start(ctx context.Context) error {
	// 1. Copy a probe value through the configured pool and codec
	if err := s.selfCheck(ctx); err != nil {
		return fmt.Errorf("staging self-check failed: %w", err)
	}

	// 2. Start pool statistics reporter
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pools.StartStatsReporter(ctx, s.config.StatsInterval)
	}()

	// 3. Start metrics and health check server
	return s.startMetricsServer(ctx)
}

func (s *Service) selfCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	started := time.Now().Unix()
	codec := s.copier.Codec().Name()

	// Protobuf codecs only accept messages
	if strings.HasPrefix(codec, "proto") {
		src := wrapperspb.String(fmt.Sprintf("stagepool:%d", started))
		dst, err := copier.Copy(ctx, s.copier, src)
		if err != nil {
			return err
		}
		if dst.GetValue() != src.GetValue() {
			return errors.New("probe copy does not match source")
		}
	} else {
		src := probe{Service: "stagepool", Started: started, Pools: s.pools.Names()}
		dst, err := copier.Copy(ctx, s.copier, src)
		if err != nil {
			return err
		}
		if dst.Service != src.Service || dst.Started != src.Started || len(dst.Pools) != len(src.Pools) {
			return errors.New("probe copy does not match source")
		}
	}

	logger.InfoWithTrace(ctx, "staging self-check passed", zap.String("codec", codec))
	return nil
}

// Addr returns the address the metrics server listens on, empty before Start
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// startMetricsServer starts the metrics and health check HTTP server
func (s *Service) startMetricsServer(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/debug/pools", s.poolsHandler)
	mux.Handle("/metrics", promhttp.Handler()) // Prometheus metrics endpoint

	var err error
	s.listener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.HealthCheckPort))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port: %w", err)
	}

	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			logger.L.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.L.Info("metrics server started", zap.String("addr", s.Addr()))

	return nil
}

// Shutdown gracefully shuts down the service.
// Every step runs even if an earlier one fails; the first error is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error

	// 1. Enter drain mode
	atomic.StoreInt32(&s.draining, 1)

	// 2. Shutdown metrics server
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			logger.L.Warn("failed to shutdown metrics server", zap.Error(err))
			firstErr = fmt.Errorf("failed to shutdown metrics server: %w", err)
		}
	}

	// 3. Wait for background workers (with timeout)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.L.Warn("shutdown timed out waiting for background workers")
	}

	// 4. Close Redis connection
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close Redis connection: %w", err)
		}
	}

	return firstErr
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler handles readiness probe requests
func (s *Service) readyHandler(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.draining) == 1 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Draining"))
		return
	}
	if s.snapshots != nil {
		if err := s.snapshots.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Redis unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// PoolStats is the JSON shape of one pool in /debug/pools
type PoolStats struct {
	Name   string `json:"name"`
	Slots  int    `json:"slots"`
	InUse  int    `json:"in_use"`
	Unused int    `json:"unused"`
}

// poolsHandler reports occupancy of every pool
func (s *Service) poolsHandler(w http.ResponseWriter, r *http.Request) {
	names := s.pools.Names()
	stats := make([]PoolStats, 0, len(names))
	for _, name := range names {
		p, ok := s.pools.Get(name)
		if !ok {
			continue
		}
		_, inUse, unused := p.Stats()
		stats = append(stats, PoolStats{Name: name, Slots: p.Slots(), InUse: inUse, Unused: unused})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		logger.L.Warn("failed to encode pool stats", zap.Error(err))
	}
}
