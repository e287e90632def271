// Package kb is the read side of the knowledge base: articles, the Retriever
// the triage engine ranks them through, and an in-memory term-overlap index.
package kb

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Article is a knowledge base entry.
type Article struct {
	ID    string   `json:"id" yaml:"id"`
	Title string   `json:"title" yaml:"title"`
	Body  string   `json:"body" yaml:"body"`
	Tags  []string `json:"tags,omitempty" yaml:"tags"`
}

// ScoredArticle pairs an article with its relevance to a query.
type ScoredArticle struct {
	Article Article `json:"article"`
	Score   float64 `json:"score"`
}

// Retriever returns up to limit articles ordered by descending relevance.
type Retriever interface {
	RelevantArticles(ctx context.Context, query string, limit int) ([]ScoredArticle, error)
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "i": {}, "in": {}, "is": {}, "it": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"with": {}, "you": {}, "your": {}, "me": {}, "can": {}, "not": {}, "no": {}, "please": {},
}

// Terms lowercases text and splits it into distinct, stopword-free terms in first-seen order.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Index is an in-memory Retriever. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	articles map[string]indexed
}

type indexed struct {
	article Article
	title   map[string]struct{}
	body    map[string]struct{}
}

// NewIndex builds an index over the given articles.
func NewIndex(articles ...Article) *Index {
	ix := &Index{articles: make(map[string]indexed, len(articles))}
	for _, a := range articles {
		ix.Put(a)
	}
	return ix
}

// Put adds or replaces an article.
func (ix *Index) Put(a Article) {
	entry := indexed{
		article: a,
		title:   toSet(Terms(a.Title)),
		body:    toSet(Terms(a.Body + " " + strings.Join(a.Tags, " "))),
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.articles[a.ID] = entry
}

// Len reports how many articles are indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.articles)
}

// RelevantArticles scores every article by query-term overlap. A title hit is
// worth 2, a body or tag hit 1, normalised by the number of query terms.
// Articles with no overlap are omitted; ties break on article ID.
func (ix *Index) RelevantArticles(_ context.Context, query string, limit int) ([]ScoredArticle, error) {
	terms := Terms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	scored := make([]ScoredArticle, 0, len(ix.articles))
	for _, entry := range ix.articles {
		var hits int
		for _, term := range terms {
			if _, ok := entry.title[term]; ok {
				hits += 2
			} else if _, ok := entry.body[term]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		scored = append(scored, ScoredArticle{
			Article: entry.article,
			Score:   float64(hits) / float64(2*len(terms)),
		})
	}
	ix.mu.RUnlock()

	slices.SortFunc(scored, func(a, b ScoredArticle) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.Article.ID, b.Article.ID)
		}
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// LoadSeed reads a YAML list of articles, the dev-mode stand-in for the KB store.
func LoadSeed(path string) ([]Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kb seed: %w", err)
	}

	var doc struct {
		Articles []Article `yaml:"articles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse kb seed %s: %w", path, err)
	}
	for i, a := range doc.Articles {
		if a.ID == "" {
			return nil, fmt.Errorf("kb seed %s: article %d has no id", path, i)
		}
	}
	return doc.Articles, nil
}

func toSet(terms []string) map[string]struct{} {
	m := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		m[t] = struct{}{}
	}
	return m
}
