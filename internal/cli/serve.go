package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"afpbot/internal/httpapi"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	Long: `Starts the HTTP API: GET /, POST /afp-query, GET /search and GET /health.
The server starts even when the vector store is empty; queries then answer 503
until ingest has run.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retriever, _, err := openRetriever(ctx)
	if err != nil {
		return err
	}
	defer retriever.Close()

	srv := appCfg.Server
	if serveHost != "" {
		srv.Host = serveHost
	}
	if servePort != 0 {
		srv.Port = servePort
	}
	if st := retriever.Status(); !st.Available {
		appLog.Warn("vector store not available, queries will return 503", "store", string(retriever.Kind()), "reason", st.Reason)
	}

	api := httpapi.NewServer(retriever, httpapi.Options{
		TopK:           srv.TopK,
		RequestTimeout: time.Duration(srv.RequestTimeoutSecs) * time.Second,
	}, appLog)
	if err := api.Run(ctx, srv.Addr()); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
