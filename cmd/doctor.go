package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/store/pg"
	"github.com/nextlevelbuilder/intentrouter/internal/upgrade"
	"github.com/nextlevelbuilder/intentrouter/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and integrations",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("intentrouter doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  Hash:     %s\n", cfg.Hash())

	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(cfg.Database)

	fmt.Println()
	fmt.Println("  Classifier:")
	fmt.Printf("    %-12s %s\n", "Mode:", classifierName(cfg.Classifier))
	if cfg.Classifier.UseLLM() {
		fmt.Printf("    %-12s %s / %s\n", "Model:", cfg.Classifier.Provider, cfg.Classifier.Model)
	}
	checkKey("API key:", cfg.Classifier.APIKey)
	fmt.Printf("    %-12s %s\n", "Spam gate:", cfg.Spam.Mode)

	fmt.Println()
	fmt.Println("  Handlers:")
	for _, t := range dispatch.AllTargets() {
		if h, ok := cfg.Handlers[string(t)]; ok {
			fmt.Printf("    %-16s webhook %s\n", string(t)+":", h.URL)
		} else {
			fmt.Printf("    %-16s placeholder\n", string(t)+":")
		}
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Printf("  Gateway:  %s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token == "" {
		fmt.Println(" (no token, API is open)")
	} else {
		fmt.Println(" (token set)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(cfg config.DatabaseConfig) {
	backend := backendName(cfg)
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	switch backend {
	case "memory":
		fmt.Printf("    %-12s state is lost on restart\n", "Note:")
	case "sqlite":
		path := config.ExpandHome(cfg.SQLitePath)
		if _, err := os.Stat(path); err != nil {
			fmt.Printf("    %-12s %s (will be created)\n", "Path:", path)
		} else {
			fmt.Printf("    %-12s %s (OK)\n", "Path:", path)
		}
	case "postgres":
		db, err := pg.OpenDB(cfg.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		defer db.Close()
		s, err := upgrade.CheckSchema(db)
		switch {
		case err != nil:
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		case s.Dirty:
			fmt.Printf("    %-12s v%d (DIRTY, run: intentrouter migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
		case s.Compatible:
			fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
		case s.CurrentVersion > s.RequiredVersion:
			fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
		default:
			fmt.Printf("    %-12s v%d (upgrade needed, run: intentrouter migrate up)\n", "Schema:", s.CurrentVersion)
		}
	}
}

func checkKey(label, key string) {
	fmt.Printf("    %-12s %s\n", label, maskKey(key))
}

// maskKey keeps the first and last four characters of long keys.
func maskKey(key string) string {
	switch {
	case key == "":
		return "(not configured)"
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
