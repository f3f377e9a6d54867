package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/nlu"
)

const fetchTimeout = 30 * time.Second

// textList accepts either a JSON string or a list of strings.
type textList []string

func (l *textList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = textList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

type jsonConcept struct {
	Question textList `json:"question"`
	Answer   textList `json:"answer"`
}

// Loader reads knowledge base sources.
type Loader struct {
	client *http.Client
}

// NewLoader creates a Loader. A nil client uses a client with a 30s timeout.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Loader{client: client}
}

// Load reads every source in order: http(s) URLs are scraped, anything else
// is read as a JSON file. Each alternative phrasing of a question becomes
// its own concept sharing the answers.
func (l *Loader) Load(ctx context.Context, sources []string) ([]database.Concept, error) {
	var concepts []database.Concept
	for _, src := range sources {
		var loaded []database.Concept
		var err error
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			loaded, err = l.fetch(ctx, src)
		} else {
			loaded, err = readFile(src)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load concepts from %s: %w", src, err)
		}
		concepts = append(concepts, loaded...)
	}
	return concepts, nil
}

func readFile(path string) ([]database.Concept, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseJSON(f)
}

// ParseJSON reads a JSON array of {question, answer} objects.
func ParseJSON(r io.Reader) ([]database.Concept, error) {
	var raw []jsonConcept
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid concepts file: %w", err)
	}

	var concepts []database.Concept
	for _, c := range raw {
		answers := clean(c.Answer)
		if len(answers) == 0 {
			continue
		}
		for _, q := range clean(c.Question) {
			concepts = append(concepts, concept(q, answers))
		}
	}
	return concepts, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]database.Concept, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return ParseHTML(doc), nil
}

// ParseHTML extracts concepts from a course page. Headings are questions
// answered by the paragraphs and lists up to the next heading. List items
// that open with bold text are questions answered by the rest of the item.
func ParseHTML(doc *goquery.Document) []database.Concept {
	const headings = "h1, h2, h3, h4, h5, h6"
	var concepts []database.Concept

	doc.Find(headings).Each(func(_ int, h *goquery.Selection) {
		question := squash(h.Text())
		var answers []string
		h.NextUntil(headings).Each(func(_ int, s *goquery.Selection) {
			if goquery.NodeName(s) == "ul" || goquery.NodeName(s) == "ol" {
				s.Find("li").Each(func(_ int, li *goquery.Selection) {
					answers = append(answers, squash(li.Text()))
				})
				return
			}
			answers = append(answers, squash(s.Text()))
		})
		if answers = clean(answers); question != "" && len(answers) > 0 {
			concepts = append(concepts, concept(question, answers))
		}
	})

	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		bold := li.ChildrenFiltered("strong, b").First()
		if bold.Length() == 0 {
			return
		}
		question := squash(bold.Text())
		answer := squash(strings.TrimPrefix(squash(li.Text()), question))
		answer = strings.TrimLeft(answer, ":.- ")
		if question != "" && answer != "" {
			concepts = append(concepts, concept(question, []string{answer}))
		}
	})
	return concepts
}

func concept(question string, answers []string) database.Concept {
	return database.Concept{
		Question: question,
		Summary:  strings.Join(nlu.Tokenize(question), " "),
		Answers:  answers,
	}
}

func clean(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = squash(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
