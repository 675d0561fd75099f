package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vector store availability",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	retriever, emb, err := openRetriever(cmd.Context())
	if err != nil {
		return err
	}
	defer retriever.Close()

	cfgLabel := cfgUsed
	if cfgLabel == "" {
		cfgLabel = "(built-in defaults)"
	}
	st := retriever.Status()
	cmd.Printf("Config:       %s\n", cfgLabel)
	cmd.Printf("Vector store: %s\n", retriever.Kind())
	cmd.Printf("Embedder:     %s (%d dimensions)\n", emb.Name(), emb.Dimension())
	cmd.Printf("Available:    %t\n", st.Available)
	if !st.Available {
		cmd.Printf("Reason:       %s\n", st.Reason)
	}
	return nil
}
