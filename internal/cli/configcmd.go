package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"afpbot/internal/config"
)

var configWrite string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after file, .env and environment overrides are
applied, with secrets redacted. With --write the unredacted configuration is
saved to the given path instead.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configWrite, "write", "", "save the effective config to this path")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	if configWrite != "" {
		if err := config.Save(configWrite, appCfg); err != nil {
			return err
		}
		cmd.Printf("Wrote %s\n", configWrite)
		return nil
	}
	data, err := yaml.Marshal(appCfg.Redacted())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	cmd.Print(string(data))
	return nil
}
