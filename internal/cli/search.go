package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"afpbot/internal/domain"
)

var (
	searchK    int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the vector store",
	Long:  `Embeds the query and prints the most similar chunks, best first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 0, "number of results (default from server.top_k)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

type searchHit struct {
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	ChunkID  string  `json:"chunk_id"`
	Source   string  `json:"source,omitempty"`
	Position int     `json:"position"`
	Content  string  `json:"content"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	retriever, _, err := openRetriever(ctx)
	if err != nil {
		return err
	}
	defer retriever.Close()

	k := searchK
	if k <= 0 {
		k = appCfg.Server.TopK
	}
	results, err := retriever.SimilaritySearch(ctx, args[0], k)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		return outputSearchJSON(cmd, results)
	}
	outputSearchText(cmd, results)
	return nil
}

func toHits(results []domain.SearchResult) []searchHit {
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			Rank:     i + 1,
			Score:    r.Score,
			ChunkID:  r.Chunk.ID,
			Source:   r.Chunk.Source(),
			Position: r.Chunk.Position,
			Content:  r.Chunk.Content,
		}
	}
	return hits
}

func outputSearchJSON(cmd *cobra.Command, results []domain.SearchResult) error {
	data, err := json.MarshalIndent(toHits(results), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchText(cmd *cobra.Command, results []domain.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	cmd.Println("Results:")
	cmd.Println()
	for _, h := range toHits(results) {
		cmd.Printf("  [%d] %s (%.3f)\n", h.Rank, h.ChunkID, h.Score)
		if h.Source != "" {
			cmd.Printf("      Source: %s\n", h.Source)
		}
		cmd.Printf("      %s\n", h.Content)
		cmd.Println()
	}
}
