package nlu

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

//go:embed vocabulary_es.txt
var baseVocabulary string

// Vocabulary is a bag of stemmed words learned from documents about the
// subject. It is safe for concurrent use.
type Vocabulary struct {
	mu    sync.RWMutex
	words map[string]struct{}
}

// NewVocabulary returns a vocabulary trained on the built-in word list.
// It panics if the embedded list cannot be read.
func NewVocabulary() *Vocabulary {
	v := &Vocabulary{words: make(map[string]struct{})}
	if err := v.FitReader(strings.NewReader(baseVocabulary)); err != nil {
		panic(fmt.Sprintf("nlu: embedded vocabulary: %v", err))
	}
	return v
}

// Fit learns the words of every document.
func (v *Vocabulary) Fit(documents ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range documents {
		for _, t := range Tokenize(d) {
			v.words[t] = struct{}{}
		}
	}
}

// FitReader learns r line by line. Lines starting with # are skipped.
func (v *Vocabulary) FitReader(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v.Fit(line)
	}
	return sc.Err()
}

// FitFile learns the word list stored in path.
func (v *Vocabulary) FitFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open vocabulary file %q: %w", path, err)
	}
	defer f.Close()

	if err := v.FitReader(f); err != nil {
		return fmt.Errorf("failed to read vocabulary file %q: %w", path, err)
	}
	return nil
}

// Score returns the share of the tokens of text that belong to the
// vocabulary. ok is false when text has nothing scorable.
func (v *Vocabulary) Score(text string) (score float64, ok bool) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0, false
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	hits := 0
	for _, t := range tokens {
		if _, known := v.words[t]; known {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens)), true
}

// Len returns the number of learned words.
func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.words)
}

// WriteTo writes the learned words, sorted, one per line.
func (v *Vocabulary) WriteTo(w io.Writer) (int64, error) {
	v.mu.RLock()
	words := make([]string, 0, len(v.words))
	for word := range v.words {
		words = append(words, word)
	}
	v.mu.RUnlock()
	sort.Strings(words)

	var total int64
	for _, word := range words {
		n, err := io.WriteString(w, word+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
