// Package search provides a simple, deterministic, concurrency-safe in-memory
// search index over conversation message content. It is intentionally small
// and dependency-free:
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable, read-only index after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// message's token set: score = |Q ∩ M| / |Q ∪ M|. The sender name is folded
// into the token set so searching by contact name works too.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Message is one indexable message record. Callers build these from store
// rows; the index never touches the database.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	SenderName     string
}

// Result is a ranked message with its similarity score.
type Result struct {
	Message Message
	Score   float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{
		stopwords: nil,
		maxDocs:   0,
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	msg    Message
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromMessages builds an Index from message rows. Messages with no
// searchable content (empty or the "[unknown]" placeholder) are skipped.
func NewIndexFromMessages(msgs []Message, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return buildIndex(msgs, cfg)
}

func buildIndex(msgs []Message, cfg config) *index {
	docs := make([]doc, 0, len(msgs))
	count := 0
	for _, m := range msgs {
		text := strings.TrimSpace(normalizeWhitespace(m.Content))
		if text == "" || text == "[unknown]" {
			continue
		}
		toks := tokenize(text+" "+m.SenderName, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		m.Content = text
		docs = append(docs, doc{msg: m, tokens: toks, tLen: len(toks)})
		count++
		if cfg.maxDocs > 0 && count >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching messages by Jaccard similarity.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		msg      Message
		score    float64
		lenRunes int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= 0 {
			continue
		}
		buf = append(buf, scored{
			msg:      d.msg,
			score:    score,
			lenRunes: utf8.RuneCountInString(d.msg.Content),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].msg.ID < buf[b].msg.ID
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{Message: buf[i].msg, Score: buf[i].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
