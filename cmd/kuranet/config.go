package main

import (
	"fmt"

	"github.com/kuranet/kuranet/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, config.yaml, .env and
KURANET_* environment variables. The JWT secret is redacted.

Examples:
  kuranet config show
  kuranet config show --format toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		out, err := renderConfig(cfg, configFormat)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format: yaml or toml")
	configCmd.AddCommand(configShowCmd)
}

func renderConfig(cfg *config.Config, format string) ([]byte, error) {
	shown := *cfg
	if shown.Auth.JWTSecret != "" {
		shown.Auth.JWTSecret = redacted
	}

	switch format {
	case "yaml", "yml":
		return yaml.Marshal(&shown)
	case "toml":
		return toml.Marshal(&shown)
	default:
		return nil, fmt.Errorf("unsupported format %q (use yaml or toml)", format)
	}
}
