// Package answer turns retrieved chunks into the reply returned by /afp-query.
package answer

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"afpbot/internal/config"
	"afpbot/internal/domain"
)

// NoInformation is returned when retrieval finds nothing relevant.
const NoInformation = "No se encontró información específica sobre tu consulta en nuestra base de datos. " +
	"Por favor, contacta directamente con tu AFP o la Superintendencia de Banca, Seguros y AFP (SBS)."

// NoSources labels an answer built from zero chunks.
const NoSources = "No se encontraron documentos relevantes"

var answerTemplate = template.Must(template.New("answer").Parse(
	`Basándome en la información oficial disponible sobre el 4to retiro de AFP en Perú:

{{.Context}}

Información adicional importante:
- El retiro es de hasta 4 UIT (S/ 21,400)
- El proceso inicia el 21 de octubre de 2025
- Las fechas dependen del último dígito de tu DNI
- Hay una ventana libre del 4 de diciembre 2025 al 18 de enero 2026

Para consultas específicas sobre tu caso particular, te recomiendo contactar directamente con tu AFP o visitar la página de la SBS: https://servicios.sbs.gob.pe/ReporteSituacionPrevisional`))

// Answer is the assembled reply.
type Answer struct {
	Text   string
	Source string
}

// Build joins the chunk contents in rank order and appends the fixed trailer.
func Build(results []domain.SearchResult, kind config.StoreKind) (Answer, error) {
	if len(results) == 0 {
		return Answer{Text: NoInformation, Source: NoSources}, nil
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Chunk.Content
	}
	var b strings.Builder
	if err := answerTemplate.Execute(&b, struct{ Context string }{strings.Join(parts, "\n\n")}); err != nil {
		return Answer{}, fmt.Errorf("render answer: %w", err)
	}
	return Answer{Text: b.String(), Source: sourceLine(results, kind)}, nil
}

func sourceLine(results []domain.SearchResult, kind config.StoreKind) string {
	var names []string
	seen := map[string]bool{}
	for _, r := range results {
		src := r.Chunk.Source()
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		names = append(names, filepath.Base(src))
	}
	if len(names) == 0 {
		return fmt.Sprintf("Información recuperada (Vector Store: %s)", kind)
	}
	return fmt.Sprintf("Información del archivo %s (Vector Store: %s)", strings.Join(names, ", "), kind)
}
