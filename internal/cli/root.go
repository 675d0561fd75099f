// Package cli wires configuration, stores and services into the afpbot commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"afpbot/internal/config"
	"afpbot/internal/logger"
)

var (
	cfgFile string
	verbose bool

	// set by loadConfig before any command runs
	appCfg  *config.AppConfig
	cfgUsed string
	appLog  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "afpbot",
	Short: "Retrieval chatbot over a private text corpus",
	Long: `afpbot answers questions about the AFP fund withdrawal from a corpus of
text files. Documents are chunked, embedded and stored in one of three
vector stores: a local flat index, Pinecone or Weaviate.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config (default ./config.yaml or ~/.config/afpbot/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	var err error
	if cfgFile != "" {
		appCfg, err = config.Load(cfgFile)
		cfgUsed = cfgFile
	} else {
		appCfg, cfgUsed, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	appCfg.ApplyEnv(os.Getenv)
	if err := appCfg.Validate(); err != nil {
		return err
	}

	level := appCfg.Log.Level
	if verbose {
		level = "debug"
	}
	appLog = logger.New(cmd.ErrOrStderr(), appCfg.Log.Format, level)
	return nil
}
