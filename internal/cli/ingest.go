package cli

import (
	"github.com/spf13/cobra"

	"afpbot/internal/chunker"
	"afpbot/internal/service"
	"afpbot/internal/summarizer"
)

var ingestDataDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load, chunk and index the corpus",
	Long: `Reads every matching text file from the data directory, splits it into
overlapping chunks and replaces the contents of the configured vector store.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDataDir, "data", "", "corpus directory (overrides config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	retriever, emb, err := openRetriever(ctx)
	if err != nil {
		return err
	}
	defer retriever.Close()

	dir := appCfg.Ingest.DataDir
	if ingestDataDir != "" {
		dir = ingestDataDir
	}
	ch := chunker.NewRecursiveChunker(appCfg.Chunker.ChunkSize, appCfg.Chunker.ChunkOverlap)
	in := service.NewIngester(ch, retriever, emb, appCfg.Ingest.Pattern, appLog).
		WithDigest(summarizer.NewFrequencySummarizer(), appCfg.Ingest.DigestSentences)

	cmd.Printf("Ingesting %s into %s...\n", dir, retriever.Kind())
	report, err := in.Run(ctx, dir)
	if err != nil {
		return err
	}
	cmd.Printf("Ingested %d document(s) as %d chunk(s) into %s in %s\n",
		report.Documents, report.Chunks, report.Store, report.Elapsed.Round(1e6))
	if report.Digest != "" {
		cmd.Println()
		cmd.Println("Digest:")
		cmd.Println("  " + report.Digest)
	}
	return nil
}
