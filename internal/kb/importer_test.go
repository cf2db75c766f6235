package kb

import (
	"context"
	"strings"
	"testing"

	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
)

type mockCatalog struct {
	saved   []storage.Solution
	maxStep int
}

func (m *mockCatalog) SaveSolution(ctx context.Context, sol storage.Solution) error {
	m.saved = append(m.saved, sol)
	return nil
}

func (m *mockCatalog) MaxStep(ctx context.Context, tag string) (int, error) {
	return m.maxStep, nil
}

type mockVectors struct {
	records []retrieval.Record
}

func (m *mockVectors) Insert(ctx context.Context, records []retrieval.Record) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockVectors) DeleteBySolution(ctx context.Context, solutionID string) error {
	kept := m.records[:0]
	for _, r := range m.records {
		if r.SolutionID != solutionID {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

var fixedEmbedder = embedFunc(func(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
})

const textManual = `# Verificar alimentação
Confira se o cabo de energia está conectado.
- Desconecte o cabo da tomada
- Aguarde 30 segundos
- Reconecte e ligue

# Testar a fonte
Teste a fonte em outra tomada.
`

func TestImportTextManual(t *testing.T) {
	catalog := &mockCatalog{}
	vectors := &mockVectors{}
	imp := New(catalog, fixedEmbedder, vectors)

	report, err := imp.Import(context.Background(), Document{
		ProblemTag: "boot_issue",
		Category:   "hardware",
		Keywords:   "liga boot energia",
		Format:     FormatText,
		Content:    []byte(textManual),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if report.Steps != 2 {
		t.Fatalf("steps = %d, want 2", report.Steps)
	}
	if report.Vectors != 2 {
		t.Errorf("vectors = %d, want 2", report.Vectors)
	}

	first := catalog.saved[0]
	if first.Step != 1 || first.ProblemTag != "boot_issue" {
		t.Errorf("first step = %+v", first)
	}
	if first.Title != "Verificar alimentação" {
		t.Errorf("title = %q", first.Title)
	}
	if !strings.Contains(first.ProceduresJSON, "Desconecte o cabo da tomada") {
		t.Errorf("procedures = %q", first.ProceduresJSON)
	}
	if catalog.saved[1].Step != 2 {
		t.Errorf("second step = %d, want 2", catalog.saved[1].Step)
	}

	if len(vectors.records) == 0 {
		t.Fatal("no vector records inserted")
	}
	if vectors.records[0].SolutionID != first.ID {
		t.Errorf("vector solution id = %q, want %q", vectors.records[0].SolutionID, first.ID)
	}
}

func TestImportContinuesStepNumbering(t *testing.T) {
	catalog := &mockCatalog{maxStep: 3}
	imp := New(catalog, nil, nil)

	report, err := imp.Import(context.Background(), Document{
		ProblemTag: "boot_issue",
		Content:    []byte("# Trocar a bateria\nSubstitua a bateria da placa."),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Steps != 1 {
		t.Fatalf("steps = %d, want 1", report.Steps)
	}
	if catalog.saved[0].Step != 4 {
		t.Errorf("step = %d, want 4 (appended after existing 3)", catalog.saved[0].Step)
	}
	if report.Vectors != 0 {
		t.Errorf("vectors = %d, want 0 without embedder", report.Vectors)
	}
}

func TestImportHTMLManual(t *testing.T) {
	htmlManual := `<html><head><style>body{}</style></head><body>
		<h2>Reiniciar o roteador</h2>
		<p>Desligue o roteador da tomada.</p>
		<ul><li>Aguarde 10 segundos</li><li>Ligue novamente</li></ul>
		<h2>Verificar os cabos</h2>
		<p>Confira o cabo de rede.</p>
	</body></html>`

	catalog := &mockCatalog{}
	imp := New(catalog, nil, nil)

	report, err := imp.Import(context.Background(), Document{
		ProblemTag: "network_issue",
		Format:     FormatHTML,
		Content:    []byte(htmlManual),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if report.Steps != 2 {
		t.Fatalf("steps = %d, want 2: %+v", report.Steps, catalog.saved)
	}
	if !strings.Contains(catalog.saved[0].Title, "Reiniciar o roteador") {
		t.Errorf("title = %q", catalog.saved[0].Title)
	}
	if !strings.Contains(catalog.saved[0].ProceduresJSON, "Aguarde 10 segundos") {
		t.Errorf("procedures = %q", catalog.saved[0].ProceduresJSON)
	}
}

func TestImportRejectsEmptyDocument(t *testing.T) {
	imp := New(&mockCatalog{}, nil, nil)

	if _, err := imp.Import(context.Background(), Document{ProblemTag: "x", Content: []byte("   \n  ")}); err == nil {
		t.Error("empty document accepted")
	}
	if _, err := imp.Import(context.Background(), Document{Content: []byte("conteúdo")}); err == nil {
		t.Error("missing problem tag accepted")
	}
}

func TestImportUnsupportedFormat(t *testing.T) {
	imp := New(&mockCatalog{}, nil, nil)
	if _, err := imp.Import(context.Background(), Document{ProblemTag: "x", Format: "docx", Content: []byte("x")}); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestSplitSectionsHeadingless(t *testing.T) {
	got := splitSections("Limpar o cache\nAbra as configurações e limpe o cache do navegador.")
	if len(got) != 1 {
		t.Fatalf("sections = %d, want 1", len(got))
	}
	if got[0].title != "Limpar o cache" {
		t.Errorf("title = %q", got[0].title)
	}
	if !strings.Contains(got[0].body, "configurações") {
		t.Errorf("body = %q", got[0].body)
	}
}

func TestChunkTextSplitsOnParagraphs(t *testing.T) {
	long := strings.Repeat("parágrafo um com algum texto. ", 20) + "\n\n" +
		strings.Repeat("parágrafo dois com mais texto. ", 20)
	chunks := chunkText(long, 400)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 700 {
			t.Errorf("chunk %d too large: %d runes", i, len([]rune(c)))
		}
	}
}
