package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-warrant/internal/engine"
	"github.com/wonny/aegis-warrant/internal/lifecycle"
	"github.com/wonny/aegis-warrant/pkg/redis"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "저장된 라이프사이클 상태 조회",
	Long: `Redis에 저장된 라이프사이클 상태를 표시합니다.
엔진이 실행 중이 아니어도 마지막 상태를 확인할 수 있습니다.

Example:
  go run ./cmd/quant status
  go run ./cmd/quant status --watch 3s`,
	RunE: runStatus,
}

var statusWatch time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().DurationVar(&statusWatch, "watch", 0, "갱신 간격 (0 = 한 번만)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled {
		return fmt.Errorf("status needs REDIS_ENABLED=true")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	store := lifecycle.NewRedisStore(redis.NewCache(rdb, engine.CachePrefix), cfg.Broker.AccountNo)
	if statusWatch <= 0 {
		return displayStatus(ctx, store)
	}

	ticker := time.NewTicker(statusWatch)
	defer ticker.Stop()
	for {
		// Clear screen (ANSI escape code)
		fmt.Print("\033[H\033[2J")
		if err := displayStatus(ctx, store); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func displayStatus(ctx context.Context, store lifecycle.Store) error {
	st, ok, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load lifecycle state: %w", err)
	}

	PrintHeader("Lifecycle State")
	if !ok {
		PrintField("State", "(none saved)")
		PrintFooter()
		return nil
	}
	PrintField("State", st.LifecycleState)
	PrintField("Day", st.CurrentDayKey)
	PrintField("Target Day", st.TargetTradingDayKey)
	PrintField("Trading", st.IsTradingEnabled)
	PrintField("Pending Open", st.PendingOpenRebuild)
	PrintField("Updated", st.UpdatedAt.Format(time.RFC3339))
	PrintFooter()
	return nil
}
