package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"afpbot/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal search",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	retriever, emb, err := openRetriever(cmd.Context())
	if err != nil {
		return err
	}
	defer retriever.Close()

	subtitle := fmt.Sprintf("embedder %s · listo", emb.Name())
	if st := retriever.Status(); !st.Available {
		subtitle = "no disponible: " + st.Reason
	}
	m := tui.New(retriever, tui.Options{
		TopK:     appCfg.Server.TopK,
		Timeout:  time.Duration(appCfg.Server.RequestTimeoutSecs) * time.Second,
		Subtitle: subtitle,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
