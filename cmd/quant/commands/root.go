package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	env     string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "Aegis Warrant - 홍콩 워런트 자동매매 엔진",
	Long: `Aegis Warrant CLI

지표 시그널 기반 워런트 자동매매 엔진.
일일 라이프사이클(자정 정리 → 개장 재구축)로 캐시를 관리하고,
API 호출 한도 안에서 주문을 실행합니다.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant engine --paper
  go run ./cmd/quant status
  go run ./cmd/quant calendar`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
