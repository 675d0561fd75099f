package domain

// MetaSource is the metadata key carrying the originating file path.
const MetaSource = "source"

// Document represents a single text file loaded into the system.
type Document struct {
	ID       string
	Path     string
	Content  string
	Metadata map[string]string
}

// Chunk is a bounded slice of a document used as the unit of embedding and retrieval.
// Metadata preserves the provenance of the parent document.
type Chunk struct {
	ID         string
	DocumentID string
	Content    string
	Position   int
	Metadata   map[string]string
}

// Source returns the originating file path recorded in the chunk metadata.
func (c Chunk) Source() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaSource]
}

// SearchResult represents a matching chunk with a relevance score.
// Higher scores are more relevant.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// StoreStatus is the cached availability of a vector store and, when
// unavailable, a human-readable reason.
type StoreStatus struct {
	Available bool
	Reason    string
}

// Summarizer condenses text into at most maxSentences sentences.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
