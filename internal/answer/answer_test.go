package answer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/database"
)

type staticConcepts []database.Concept

func (s staticConcepts) ListConcepts(context.Context) ([]database.Concept, error) {
	return s, nil
}

type fakeGenerator struct {
	reply   string
	err     error
	related []database.Concept
	calls   int
}

func (g *fakeGenerator) Answer(_ context.Context, _ string, related []database.Concept) (string, error) {
	g.calls++
	g.related = related
	return g.reply, g.err
}

var knowledge = staticConcepts{
	{Question: "¿Cómo se declara una cadena en C?", Answers: []string{"Con un array de char terminado en '\\0'."}},
	{Question: "¿Qué es un puntero?", Answers: []string{"Una variable que guarda una dirección de memoria."}},
	{Question: "¿Cómo se ordena una lista enlazada?", Answers: []string{"Con merge sort.", "Es O(n log n)."}},
}

func newAnswerer(t *testing.T, gen Generator) *Answerer {
	t.Helper()
	a := New(knowledge, gen, nil)
	require.NoError(t, a.Reload(context.Background()))
	return a
}

func TestAnswerFromKnowledgeBase(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "no debería usarse"}
	a := newAnswerer(t, gen)

	tests := []struct {
		question string
		want     string
	}{
		{"¿cómo declaro una cadena?", "Con un array de char terminado en '\\0'."},
		{"que es un PUNTERO", "Una variable que guarda una dirección de memoria."},
		{"ordenar listas enlazadas", "Con merge sort.\nEs O(n log n)."},
	}
	for _, tt := range tests {
		got, ok := a.Answer(context.Background(), tt.question)
		assert.True(t, ok, tt.question)
		assert.Equal(t, tt.want, got, tt.question)
	}
	assert.Zero(t, gen.calls)
}

func TestAnswerFallsBackToGenerator(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "Un struct agrupa campos."}
	a := newAnswerer(t, gen)

	got, ok := a.Answer(context.Background(), "¿para qué sirve un struct con punteros y cadenas?")
	require.True(t, ok)
	assert.Equal(t, "Un struct agrupa campos.", got)
	assert.Equal(t, 1, gen.calls)
	assert.NotEmpty(t, gen.related)
}

func TestAnswerWithoutGenerator(t *testing.T) {
	t.Parallel()
	a := newAnswerer(t, nil)

	_, ok := a.Answer(context.Background(), "¿quién ganó el partido?")
	assert.False(t, ok)
}

func TestAnswerGeneratorFailure(t *testing.T) {
	t.Parallel()
	a := newAnswerer(t, &fakeGenerator{err: errors.New("quota exceeded")})

	_, ok := a.Answer(context.Background(), "¿quién ganó el partido?")
	assert.False(t, ok)
}

func TestQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"profe, ¿cómo se declara una cadena?", "¿cómo se declara una cadena?", true},
		{"Profesor qué es un puntero", "qué es un puntero", true},
		{"PROFE: ayuda", "ayuda", true},
		{"@AulaBot ¿qué es un puntero?", "¿qué es un puntero?", true},
		{"/ask qué es un puntero", "qué es un puntero", true},
		{"/ask@aulabot qué es un puntero", "qué es un puntero", true},
		{"el profe dijo que sí", "", false},
		{"profeta", "", false},
		{"/asking", "", false},
		{"@otrobot hola", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, ok := Question(tt.text, "aulabot")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	raw := `[
		{"question": ["¿Qué es un puntero?", "¿Qué es un apuntador?"], "answer": "Una dirección de memoria."},
		{"question": "¿Qué es un bucle?", "answer": ["Una repetición.", "  "]},
		{"question": "sin respuesta", "answer": []}
	]`
	concepts, err := ParseJSON(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, concepts, 3)
	assert.Equal(t, "¿Qué es un apuntador?", concepts[1].Question)
	assert.Equal(t, []string{"Una dirección de memoria."}, concepts[1].Answers)
	assert.Equal(t, []string{"Una repetición."}, concepts[2].Answers)
	assert.NotEmpty(t, concepts[0].Summary)

	_, err = ParseJSON(strings.NewReader(`{"question": 1}`))
	assert.Error(t, err)
}

const coursePage = `<html><body>
<h2>¿Qué es un puntero?</h2>
<p>Una variable que guarda una dirección.</p>
<ul><li>Se declara con *.</li></ul>
<h2>Vacío</h2>
<h3>¿Qué es un bucle?</h3>
<p>Una repetición de instrucciones.</p>
<ol><li><strong>¿Qué es una función?</strong>: un bloque de código con nombre.</li></ol>
</body></html>`

func TestParseHTML(t *testing.T) {
	t.Parallel()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(coursePage))
	require.NoError(t, err)

	concepts := ParseHTML(doc)
	require.Len(t, concepts, 3)
	assert.Equal(t, "¿Qué es un puntero?", concepts[0].Question)
	assert.Equal(t, []string{"Una variable que guarda una dirección.", "Se declara con *."}, concepts[0].Answers)
	assert.Equal(t, "¿Qué es un bucle?", concepts[1].Question)
	assert.Equal(t, "¿Qué es una función?", concepts[2].Question)
	assert.Equal(t, []string{"un bloque de código con nombre."}, concepts[2].Answers)
}

func TestLoaderSources(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/temario" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(coursePage))
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "faq.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"question": "¿Qué es C?", "answer": "Un lenguaje."}]`), 0o600))

	loader := NewLoader(srv.Client())
	concepts, err := loader.Load(context.Background(), []string{path, srv.URL + "/temario"})
	require.NoError(t, err)
	assert.Len(t, concepts, 4)
	assert.Equal(t, "¿Qué es C?", concepts[0].Question)

	_, err = loader.Load(context.Background(), []string{srv.URL + "/missing"})
	assert.Error(t, err)
}
