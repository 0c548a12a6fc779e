package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-warrant/internal/api"
	"github.com/wonny/aegis-warrant/internal/engine"
	"github.com/wonny/aegis-warrant/internal/strategyconfig"
	"github.com/wonny/aegis-warrant/pkg/database"
	"github.com/wonny/aegis-warrant/pkg/logger"
	"github.com/wonny/aegis-warrant/pkg/metrics"
	"github.com/wonny/aegis-warrant/pkg/redis"
)

// engineCmd represents the engine command
var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "매매 엔진 시작",
	Long: `매매 엔진과 상태 API 서버를 시작합니다.

이 명령어는:
- 전략 파일 로드 및 검증
- 라이프사이클 상태 복원 (Redis)
- 시세 스트림 연결, 매수/매도 큐 처리
- 상태 API 제공

Endpoints:
  GET  /health
  GET  /api/lifecycle | queues | refresh | ratelimit | jobs | seats | risk | quotes | orders
  POST /api/seats/{symbol}/retire
  POST /api/positions/{symbol}/liquidate
  GET  /metrics

Example:
  go run ./cmd/quant engine --paper
  go run ./cmd/quant engine --strategy strategy.yaml --port 8080`,
	RunE: runEngine,
}

var (
	enginePaper    bool
	engineStrategy string
	enginePort     string
)

func init() {
	rootCmd.AddCommand(engineCmd)

	engineCmd.Flags().BoolVar(&enginePaper, "paper", false, "모의 주문 (BROKER_PAPER 무시)")
	engineCmd.Flags().StringVar(&engineStrategy, "strategy", "", "전략 YAML 경로 (기본: STRATEGY_FILE)")
	engineCmd.Flags().StringVar(&enginePort, "port", "", "API 서버 포트")
}

func runEngine(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Warrant Engine ===")

	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("paper") {
		cfg.Broker.Paper = enginePaper
	}
	if engineStrategy != "" {
		cfg.Engine.StrategyFile = engineStrategy
	}
	if enginePort != "" {
		cfg.Port = enginePort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load strategy
	strategy, yamlData, err := strategyconfig.Load(cfg.Engine.StrategyFile)
	if err != nil {
		return fmt.Errorf("load strategy: %w", err)
	}
	for _, w := range strategyconfig.Warn(strategy) {
		log.WithFields(map[string]interface{}{
			"code":    w.Code,
			"message": w.Message,
		}).Warn("Strategy warning")
	}
	snapshot, err := strategyconfig.NewDecisionSnapshot(strategy, yamlData)
	if err != nil {
		return fmt.Errorf("strategy snapshot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Optional stores
	db, err := database.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if db != nil {
		defer db.Close()
		log.Info("Connected to database")
	}

	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	// 5. Engine
	eng, err := engine.New(engine.Deps{
		Config:   cfg,
		Strategy: strategy,
		Logger:   log,
		Metrics:  m,
		DB:       db,
		Redis:    rdb,
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"strategy_id": snapshot.StrategyID,
		"config_hash": snapshot.ConfigHash,
		"paper":       cfg.Broker.Paper,
		"env":         cfg.Env,
	}).Info("Strategy loaded")

	if err := eng.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
		return fmt.Errorf("start engine: %w", err)
	}

	// 6. Status API
	server := api.New(cfg, log, api.NewRouter(eng, log))
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	fmt.Printf("\n✅ Engine running (paper=%v), status on http://localhost:%s\n", cfg.Broker.Paper, cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("API server stopped")
		}
	}

	log.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API server shutdown failed")
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	log.Info("Engine stopped")
	return nil
}
