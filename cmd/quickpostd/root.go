package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reeseleonb-crypto/quickpostkit/internal/config"
	"github.com/reeseleonb-crypto/quickpostkit/pkg/logger"
)

var defaultConfigPath = filepath.Join("configs", "quickpost.yaml")

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "quickpostd",
		Short: "QuickPostKit: paid 30-day social content plans",
		Long: `quickpostd runs the QuickPostKit HTTP service and its background workers,
and ships a few operator commands for rendering and fetching plans.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("QPK_CONFIG"), "path to config file (JSON or YAML)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files loaded before the config")

	cmd.AddCommand(
		newServeCmd(opts),
		newRenderCmd(opts),
		newFetchCmd(),
		newHashTokenCmd(),
	)
	return cmd
}

// load 读取 .env 与配置文件并初始化日志。只有需要配置的子命令才调用。
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func loggerConfig(cfg config.LogConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   true,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}
