// Package cli 实现 promptctl 命令行
//
// 用于离线检查一份配置：组装某句话的提示词、校验内容文件、列出主题。
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/easyops/contextengine/pkg/core/config"
)

// rootOptions 全局参数
type rootOptions struct {
	configPath string
	format     string
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "promptctl",
		Short:         "Inspect the per-turn prompt engine offline",
		Long:          "promptctl loads an engine configuration and lets you compose prompts, validate content files and list topics without running a service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (env "+config.EnvPrefix+"* overrides)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")

	cmd.AddCommand(
		newComposeCmd(opts),
		newValidateCmd(opts),
		newTopicsCmd(opts),
	)
	return cmd
}

// loadConfig 加载配置
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// validateFormat 检查输出格式
func (o *rootOptions) validateFormat() error {
	switch o.format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q, want text or json", o.format)
	}
}

// writeJSON 以缩进 JSON 输出
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
