// Package retrieval provides fuzzy document search for the document tool
// and snippet.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/sahilm/fuzzy"
)

// Document is a searchable text.
type Document struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Result is a scored search hit.
type Result struct {
	Document
	Score int `json:"score"`
}

// Retriever finds documents relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Index is an in-memory Retriever.
type Index struct {
	mu    sync.RWMutex
	docs  []Document
	words [][]string
}

var _ Retriever = (*Index)(nil)

// NewIndex creates an index over docs.
func NewIndex(docs ...Document) *Index {
	idx := &Index{}
	idx.Add(docs...)
	return idx
}

// Add indexes more documents.
func (i *Index) Add(docs ...Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc_%d", len(i.docs)+1)
		}
		i.docs = append(i.docs, d)
		i.words = append(i.words, tokenize(d.Content))
	}
}

// Len returns the number of indexed documents.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// LoadDir indexes every .md and .txt file under dir.
func (i *Index) LoadDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
		default:
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		i.Add(Document{ID: rel, Source: rel, Content: string(content)})
		return nil
	})
}

// Search scores each document by how closely its words match the query
// words and returns the best limit documents.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	var results []Result
	for n, words := range i.words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := 0
		for _, term := range terms {
			best := 0
			for _, m := range fuzzy.Find(term, words) {
				// Subsequence matches against much longer words are noise.
				if len(m.Str) > len(term)+3 {
					continue
				}
				s := m.Score + 10
				if m.Str == term {
					s += 20
				}
				if s > best {
					best = s
				}
			}
			score += best
		}
		if score > 0 {
			results = append(results, Result{Document: i.docs[n], Score: score})
		}
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "what": true,
	"who": true, "how": true, "with": true, "that": true, "this": true, "you": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
