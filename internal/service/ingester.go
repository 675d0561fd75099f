package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/embedding"
	"afpbot/internal/loader"
	"afpbot/internal/logger"
)

// IngestTarget is the write side of a vector store.
type IngestTarget interface {
	Kind() config.StoreKind
	Ingest(ctx context.Context, chunks []domain.Chunk, emb embedding.Embedder) error
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Store     config.StoreKind
	Documents int
	Chunks    int
	Elapsed   time.Duration

	// Digest is a short extractive summary of the corpus, when enabled.
	Digest string
}

// Ingester loads a corpus directory, chunks it and hands the chunks to a store.
type Ingester struct {
	chunker domain.Chunker
	target  IngestTarget
	emb     embedding.Embedder
	pattern string
	log     *slog.Logger

	summarizer      domain.Summarizer
	digestSentences int
}

// NewIngester builds a pipeline. pattern selects files in the corpus directory
// and defaults to *.txt. A nil emb lets the store use its own embedder.
func NewIngester(chunker domain.Chunker, target IngestTarget, emb embedding.Embedder, pattern string, log *slog.Logger) *Ingester {
	if pattern == "" {
		pattern = loader.DefaultPattern
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Ingester{chunker: chunker, target: target, emb: emb, pattern: pattern, log: log}
}

// WithDigest makes Run summarize the corpus into at most sentences sentences.
func (in *Ingester) WithDigest(s domain.Summarizer, sentences int) *Ingester {
	in.summarizer = s
	in.digestSentences = sentences
	return in
}

// Run ingests every matching file under dir, replacing the store contents.
// Store errors are returned unchanged.
func (in *Ingester) Run(ctx context.Context, dir string) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{Store: in.target.Kind()}
	log := in.log.With("store", string(report.Store), "dir", dir)

	docs, err := loader.Load(dir, in.pattern)
	if err != nil {
		return report, err
	}
	if len(docs) == 0 {
		return report, fmt.Errorf("%w: no %s files in %s", domain.ErrNoDocuments, in.pattern, dir)
	}
	for _, d := range docs {
		log.Debug("loaded document", "path", d.Path, "bytes", len(d.Content))
	}
	report.Documents = len(docs)
	log.Info("documents loaded", "documents", len(docs))

	var chunks []domain.Chunk
	for _, d := range docs {
		cs, err := in.chunker.Chunk(d)
		if err != nil {
			return report, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: documents in %s contain no text", domain.ErrNoDocuments, dir)
	}
	report.Chunks = len(chunks)
	log.Info("documents chunked", "chunks", len(chunks))

	if err := in.target.Ingest(ctx, chunks, in.emb); err != nil {
		return report, err
	}
	report.Elapsed = time.Since(start)
	report.Digest = in.digest(docs)
	log.Info("ingest complete", "documents", report.Documents, "chunks", report.Chunks, "elapsed", report.Elapsed)
	return report, nil
}

func (in *Ingester) digest(docs []domain.Document) string {
	if in.summarizer == nil || in.digestSentences <= 0 {
		return ""
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteString("\n")
	}
	out, err := in.summarizer.Summarize(b.String(), in.digestSentences)
	if err != nil {
		in.log.Warn("corpus digest failed", "err", err)
		return ""
	}
	return out
}
