package main

import (
	"strings"

	goFallback "github.com/MrEthical07/goFallback"
	"github.com/MrEthical07/goFallback/internal/configutil"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fallbackctl",
		Short:        "Operate the fallback verification engine",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "", "Logging format: text|json.")
	cmd.PersistentFlags().String("redis-addr", "", "Redis address for redis backends.")

	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVerifiedCmd())
	cmd.AddCommand(newLoadtestCmd())
	return cmd
}

// loadConfig layers defaults, --config and GOFALLBACK_* variables, then the
// logging flags on top.
func loadConfig(cmd *cobra.Command) (goFallback.Config, error) {
	v := viper.New()
	path, _ := cmd.Flags().GetString("config")
	cfg, err := goFallback.LoadConfigWith(v, path)
	if err != nil {
		return cfg, err
	}
	cfg.Logging.Level = configutil.FlagOrViperString(cmd, v, "log-level", "logging.level")
	cfg.Logging.Format = configutil.FlagOrViperString(cmd, v, "log-format", "logging.format")
	return cfg, cfg.Validate()
}

// redisClient returns nil when no address is configured.
func redisClient(cmd *cobra.Command) redis.UniversalClient {
	addr, _ := cmd.Flags().GetString("redis-addr")
	if addr = strings.TrimSpace(addr); addr == "" {
		return nil
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout())
		},
	})
	return cmd
}
