package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"afpbot/internal/bench"
	"afpbot/internal/config"
	"afpbot/internal/domain"
)

var (
	benchIterations int
	benchK          int
	benchStores     []string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure similarity-search latency",
	Long: `Runs a fixed set of representative questions against the configured
vector store and reports mean, min, max and standard deviation per query.

With --stores the same questions run against each listed backend in turn and a
side-by-side comparison is printed. Backends that are unavailable or not
configured are skipped with a note.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 5, "iterations per query")
	benchCmd.Flags().IntVarP(&benchK, "limit", "k", 3, "results per query")
	benchCmd.Flags().StringSliceVar(&benchStores, "stores", nil, "compare several backends, e.g. flat,pinecone,weaviate")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, _ []string) error {
	if len(benchStores) > 0 {
		return runCompare(cmd)
	}

	ctx := cmd.Context()
	retriever, _, err := openRetriever(ctx)
	if err != nil {
		return err
	}
	defer retriever.Close()

	if st := retriever.Status(); !st.Available {
		return fmt.Errorf("%w: %s, run 'afpbot ingest' first", domain.ErrStoreUnavailable, st.Reason)
	}

	cmd.Printf("Benchmarking %s: %d queries x %d iterations\n\n", retriever.Kind(), len(bench.DefaultQueries), benchIterations)
	report, err := bench.Run(ctx, retriever, bench.DefaultQueries, benchIterations, benchK)
	if err != nil {
		return err
	}
	for i, q := range report.Queries {
		cmd.Printf("[%d/%d] %s\n", i+1, len(report.Queries), q.Query)
		cmd.Printf("  mean %s | min %s | max %s | std %s | results %d\n", ms(q.Mean), ms(q.Min), ms(q.Max), ms(q.StdDev), q.Results)
	}
	o := report.Overall
	cmd.Println()
	cmd.Printf("Overall: mean %s | min %s | max %s | std %s\n", ms(o.Mean), ms(o.Min), ms(o.Max), ms(o.StdDev))
	return nil
}

func runCompare(cmd *cobra.Command) error {
	ctx := cmd.Context()
	emb, err := newEmbedder()
	if err != nil {
		return err
	}

	targets := make([]bench.Target, 0, len(benchStores))
	seen := map[config.StoreKind]bool{}
	for _, name := range benchStores {
		kind, err := config.ParseStoreKind(name)
		if err != nil {
			return err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true

		sc := appCfg.Store()
		sc.Type = string(kind)
		r, err := openStore(ctx, sc, emb)
		if err != nil {
			targets = append(targets, bench.Target{Name: string(kind), Skip: err.Error()})
			continue
		}
		defer r.Close()
		t := bench.Target{Name: string(kind), Searcher: r}
		if st := r.Status(); !st.Available {
			t.Skip = "unavailable: " + st.Reason
		}
		targets = append(targets, t)
	}

	cmd.Printf("Comparing %d store(s): %d queries x %d iterations\n", len(targets), len(bench.DefaultQueries), benchIterations)
	cmp, err := bench.CompareStores(ctx, targets, bench.DefaultQueries, benchIterations, benchK)
	if err != nil {
		return err
	}
	printComparison(cmd, cmp)
	if len(cmp.Measured()) == 0 {
		return fmt.Errorf("%w: none of the requested stores could be measured", domain.ErrStoreUnavailable)
	}
	return nil
}

func printComparison(cmd *cobra.Command, cmp bench.Comparison) {
	rule := strings.Repeat("-", 72)
	cmd.Println()
	cmd.Println("Performance")
	cmd.Println(rule)
	cmd.Printf("%-10s %12s %12s %12s %12s\n", "Store", "Mean", "Min", "Max", "Std")
	cmd.Println(rule)
	for _, s := range cmp.Stores {
		if s.Skipped != "" {
			cmd.Printf("%-10s skipped: %s\n", s.Name, s.Skipped)
			continue
		}
		o := s.Report.Overall
		cmd.Printf("%-10s %12s %12s %12s %12s\n", s.Name, ms(o.Mean), ms(o.Min), ms(o.Max), ms(o.StdDev))
	}

	measured := cmp.Measured()
	if len(measured) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Per query")
	cmd.Println(rule)
	for i, q := range cmp.Queries {
		cmd.Printf("%d. %s\n", i+1, q)
		for _, s := range measured {
			qs := s.Report.Queries[i]
			cmd.Printf("   %-10s %10s (min %s, max %s, results %d)\n", s.Name, ms(qs.Mean), ms(qs.Min), ms(qs.Max), qs.Results)
		}
	}
	if len(measured) > 1 {
		fastest := measured[0]
		for _, s := range measured[1:] {
			if s.Report.Overall.Mean < fastest.Report.Overall.Mean {
				fastest = s
			}
		}
		cmd.Println()
		cmd.Printf("Fastest on average: %s\n", fastest.Name)
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2fms", d.Seconds()*1000)
}
