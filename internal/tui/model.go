package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"afpbot/internal/config"
	"afpbot/internal/domain"
)

// Searcher is the TUI-facing subset of the retrieval facade.
type Searcher interface {
	Kind() config.StoreKind
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Options configures a chat session.
type Options struct {
	TopK    int
	Timeout time.Duration
	// Subtitle is shown under the header, e.g. the store status.
	Subtitle string
}

// Model is the Bubble Tea model for the interactive chat.
type Model struct {
	searcher  Searcher
	opts      Options
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.SearchResult
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

type resultsMsg struct {
	query   string
	results []domain.SearchResult
	err     error
}

// New creates a chat model over searcher.
func New(searcher Searcher, opts Options) Model {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Pregunta sobre el retiro AFP y presiona Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		searcher: searcher,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Listo. Escribe tu consulta.",
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) search(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		defer cancel()
		res, err := m.searcher.SimilaritySearch(ctx, q, m.opts.TopK)
		return resultsMsg{query: q, results: res, err: err}
	}
}

// Update handles key, window and search-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+subtitle, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = describeError(msg.err)
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d resultado(s) para %q", len(msg.results), msg.query)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = "Buscando..."
				return m, m.search(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout and the selected result.
func (m Model) View() string {
	if !m.ready {
		return "Cargando..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("AFP Chatbot · " + string(m.searcher.Kind()))
	subtitle := subtleStyle.Render(m.opts.Subtitle)
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + subtitle + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "Sin resultados todavía."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Resultado %d/%d  score=%.3f", m.cursor+1, len(m.results), r.Score)
	if src := r.Chunk.Source(); src != "" {
		title += "  " + subtleStyle.Render(src)
	}
	return title + "\n\n" + highlightBestSentence(r.Chunk.Content, m.lastQuery)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "Vector store no disponible: ejecuta 'afpbot ingest'"
	case errors.Is(err, domain.ErrInvalidInput):
		return "Consulta inválida: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	unicodeWordRe  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
