// Package nlu holds the Spanish natural-language helpers of the bot: the
// tokenizer, the relevance vocabulary and the free-text date and time
// parsers.
package nlu

import (
	"bufio"
	_ "embed"
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/spanish"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed stopwords_es.txt
var stopwordsFile string

var (
	stopwords    = loadStopwords(stopwordsFile)
	onomatopoeia = regexp.MustCompile(`^(wow|uoh?|bua+h|xd|oh|[jakhs]+)$`)
)

func loadStopwords(data string) map[string]struct{} {
	set := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w == "" {
			continue
		}
		set[w] = struct{}{}
		set[Fold(w)] = struct{}{}
	}
	return set
}

// Fold lowercases text and strips diacritics ("Canción" -> "cancion").
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		return strings.ToLower(text)
	}
	return folded
}

// Tokenize normalises text into stemmed content words. Punctuation, digits,
// emoji, stopwords, single letters and common onomatopoeia are dropped, and
// letters repeated three or more times are collapsed ("holaaaa" -> "hola").
func Tokenize(text string) []string {
	folded := Fold(text)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(collapseRepeats(b.String()))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) == 1 || onomatopoeia.MatchString(w) {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		tokens = append(tokens, spanish.Stem(w, true))
	}
	return tokens
}

// collapseRepeats replaces runs of three or more equal letters by one.
func collapseRepeats(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	for i := 0; i < len(rs); {
		j := i
		for j < len(rs) && rs[j] == rs[i] {
			j++
		}
		if j-i >= 3 && unicode.IsLetter(rs[i]) {
			out = append(out, rs[i])
		} else {
			out = append(out, rs[i:j]...)
		}
		i = j
	}
	return string(out)
}
