package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-warrant/internal/calendar"
	"github.com/wonny/aegis-warrant/internal/external/hkex"
	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// calendarCmd represents the calendar command
var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "거래일/세션 정보 조회",
	Long: `현재 시각 기준 거래일 정보와 휴장일 목록을 표시합니다.

--fetch 를 주면 거래소 휴장일 페이지를 가져와 반영합니다.

Example:
  go run ./cmd/quant calendar
  go run ./cmd/quant calendar --fetch --at "2026-03-02 10:00"`,
	RunE: runCalendar,
}

var (
	calendarFetch bool
	calendarAt    string
)

func init() {
	rootCmd.AddCommand(calendarCmd)

	calendarCmd.Flags().BoolVar(&calendarFetch, "fetch", false, "거래소 휴장일 가져오기")
	calendarCmd.Flags().StringVar(&calendarAt, "at", "", "기준 시각 (YYYY-MM-DD HH:MM, 시장 시간대)")
}

func runCalendar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg)

	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return fmt.Errorf("calendar: %w", err)
	}

	now := time.Now()
	if calendarAt != "" {
		now, err = time.ParseInLocation("2006-01-02 15:04", calendarAt, cal.Location())
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
	}

	if calendarFetch {
		client := hkex.NewClient(httputil.New(log, cfg.Broker.Timeout), log, cfg.Calendar.HolidayURL)
		refresher := calendar.NewRefresher(cal, client, nil, log)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := refresher.Refresh(ctx, now.In(cal.Location()).Year())
		if err != nil {
			return fmt.Errorf("fetch holidays: %w", err)
		}
		fmt.Printf("✅ Fetched %d holidays\n", n)
	}

	facts := cal.Facts(now)
	PrintHeader("Trading Calendar")
	PrintField("Now", now.In(cal.Location()).Format("2006-01-02 15:04:05 MST"))
	PrintField("Day Key", facts.DayKey)
	PrintField("Trading Day", facts.IsTradingDay)
	PrintField("Can Trade Now", facts.CanTradeNow)
	PrintField("Next Open", cal.NextOpen(now).Format("2006-01-02 15:04 MST"))
	for i, s := range cal.Sessions() {
		PrintField(fmt.Sprintf("Session %d", i+1), s)
	}

	holidays := cal.Holidays()
	fmt.Println("───────────────────────────────────────────────────────────")
	if len(holidays) == 0 {
		PrintField("Holidays", "(none)")
	}
	for _, h := range holidays {
		PrintField(h.Date.Format("2006-01-02"), h.Name)
	}
	PrintFooter()
	return nil
}
