// Package answer resolves student questions against the course knowledge
// base, falling back to a generative model when nothing matches.
package answer

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/nlu"
)

// MinOverlap is the share of the question's tokens a concept must cover to
// be accepted as the answer.
const MinOverlap = 0.5

// relatedLimit bounds how many near matches are handed to the generator.
const relatedLimit = 3

var trigger = regexp.MustCompile(`(?i)^\s*(profesor|profe)\b[\s,:;.!?-]*`)

// Concepts reads the knowledge base.
type Concepts interface {
	ListConcepts(ctx context.Context) ([]database.Concept, error)
}

// Generator produces an answer when the knowledge base has none. A nil
// Generator disables the fallback.
type Generator interface {
	Answer(ctx context.Context, question string, related []database.Concept) (string, error)
}

type entry struct {
	concept database.Concept
	tokens  map[string]struct{}
}

// Answerer holds an in-memory index of the knowledge base.
type Answerer struct {
	store  Concepts
	gen    Generator
	logger *slog.Logger

	mu      sync.RWMutex
	entries []entry
}

// New creates an Answerer. Call Reload to build the index.
func New(store Concepts, gen Generator, logger *slog.Logger) *Answerer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Answerer{store: store, gen: gen, logger: logger.With("component", "answerer")}
}

// Reload rebuilds the index from the store.
func (a *Answerer) Reload(ctx context.Context) error {
	concepts, err := a.store.ListConcepts(ctx)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(concepts))
	for _, c := range concepts {
		tokens := tokenSet(c.Question)
		if len(tokens) == 0 {
			continue
		}
		entries = append(entries, entry{concept: c, tokens: tokens})
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "Knowledge base indexed", "concepts", len(entries))
	return nil
}

// Answer returns the answer to question and whether one was found.
func (a *Answerer) Answer(ctx context.Context, question string) (string, bool) {
	ranked := a.rank(question)
	if len(ranked) > 0 && ranked[0].score >= MinOverlap {
		return strings.Join(ranked[0].concept.Answers, "\n"), true
	}
	if a.gen == nil {
		return "", false
	}

	related := make([]database.Concept, 0, relatedLimit)
	for _, r := range ranked {
		if len(related) == relatedLimit {
			break
		}
		related = append(related, r.concept)
	}
	text, err := a.gen.Answer(ctx, question, related)
	if err != nil {
		a.logger.WarnContext(ctx, "Generative answer unavailable", "error", err)
		return "", false
	}
	return text, true
}

type match struct {
	concept database.Concept
	score   float64
}

// rank scores every concept by the share of question tokens it contains,
// best first. Concepts sharing no token are left out.
func (a *Answerer) rank(question string) []match {
	q := tokenSet(question)
	if len(q) == 0 {
		return nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var ranked []match
	for _, e := range a.entries {
		shared := 0
		for t := range q {
			if _, ok := e.tokens[t]; ok {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		ranked = append(ranked, match{concept: e.concept, score: float64(shared) / float64(len(q))})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// Question extracts the question from a message addressed to the bot:
// "profe ...", "profesor ...", "@<username> ..." or "/ask ...". It reports
// false for any other message.
func Question(text, botUsername string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if loc := trigger.FindStringIndex(trimmed); loc != nil {
		return strings.TrimSpace(trimmed[loc[1]:]), true
	}

	lower := strings.ToLower(trimmed)
	prefixes := []string{"/ask"}
	if botUsername != "" {
		mention := "@" + strings.ToLower(botUsername)
		prefixes = append(prefixes, "/ask"+mention, mention)
	}
	// longest first so "/ask@bot" wins over "/ask"
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		rest := trimmed[len(p):]
		if rest != "" && !strings.ContainsAny(rest[:1], " \t\n,:;") {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(rest, " \t\n,:;")), true
	}
	return "", false
}

func tokenSet(text string) map[string]struct{} {
	tokens := nlu.Tokenize(nlu.ReplaceSpokenNumbers(text))
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
