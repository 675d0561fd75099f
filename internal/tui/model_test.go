package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afpbot/internal/config"
	"afpbot/internal/domain"
)

type fakeSearcher struct {
	results []domain.SearchResult
	err     error
	k       int
}

func (f *fakeSearcher) Kind() config.StoreKind { return config.KindFlat }

func (f *fakeSearcher) SimilaritySearch(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	f.k = k
	return f.results, f.err
}

func typeQuery(t *testing.T, m Model, q string) Model {
	t.Helper()
	for _, r := range q {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
	}
	return m
}

func TestSearchFlow(t *testing.T) {
	s := &fakeSearcher{results: []domain.SearchResult{
		{Chunk: domain.Chunk{Content: "El retiro es de hasta 4 UIT."}, Score: 0.9},
		{Chunk: domain.Chunk{Content: "Segun el DNI."}, Score: 0.4},
	}}
	var m tea.Model = New(s, Options{TopK: 2})
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = typeQuery(t, m.(Model), "retiro")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.(Model).searching)

	m, _ = m.Update(cmd())
	got := m.(Model)
	assert.False(t, got.searching)
	assert.Equal(t, 2, s.k)
	require.Len(t, got.results, 2)
	assert.Contains(t, got.status, "2 resultado(s)")
	assert.Contains(t, got.View(), "Resultado 1/2")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.(Model).cursor)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.(Model).cursor)
}

func TestSearchUnavailable(t *testing.T) {
	var m tea.Model = New(&fakeSearcher{err: domain.ErrStoreUnavailable}, Options{})
	m = typeQuery(t, m.(Model), "hola")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	m, _ = m.Update(cmd())
	assert.Contains(t, m.(Model).status, "afpbot ingest")
	assert.Empty(t, m.(Model).results)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Hoy llueve. El retiro es de 4 UIT.", "retiro")
	assert.Contains(t, out, "Hoy llueve.")
	assert.Contains(t, out, "El retiro es de 4 UIT.")
	assert.Equal(t, "sin texto", highlightBestSentence("sin texto", ""))
}
