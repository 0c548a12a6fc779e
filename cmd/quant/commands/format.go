package commands

import (
	"fmt"
	"os"

	"github.com/wonny/aegis-warrant/pkg/config"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a boxed section title
func PrintHeader(title string) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("  %s\n", title)
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintField prints one aligned "label : value" line
func PrintField(label string, value interface{}) {
	fmt.Printf("  %-16s: %v\n", label, value)
}

// PrintFooter closes a section
func PrintFooter() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// loadConfig applies the global flags on top of the environment
func loadConfig() (*config.Config, error) {
	if env != "" {
		os.Setenv("ENV", env)
	}
	if verbose {
		os.Setenv("LOG_LEVEL", "debug")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
