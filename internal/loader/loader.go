// Package loader reads a corpus directory into documents.
package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"afpbot/internal/domain"
)

// DefaultPattern selects plain text files.
const DefaultPattern = "*.txt"

// Load returns one Document per file in dir matching pattern, ordered by path.
// A missing directory is an error; an empty match set is not.
func Load(dir, pattern string) ([]domain.Document, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path %s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	documents := make([]domain.Document, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			continue
		}
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		documents = append(documents, domain.Document{
			ID:       hashString(m),
			Path:     m,
			Content:  string(data),
			Metadata: map[string]string{domain.MetaSource: m},
		})
	}
	return documents, nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
