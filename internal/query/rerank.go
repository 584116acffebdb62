package query

import (
	"sort"
	"strings"
	"unicode"
)

// Fusion weights layered on top of the top chunk's cosine score. Small by
// design: lexical agreement nudges near-ties, it never overturns a clear
// semantic winner.
const (
	chunkTermWeight  = 0.16
	titleTermWeight  = 0.06
	exactMatchWeight = 0.08

	// exactMatchMinLen and exactMatchMinTerms gate the substring bonus so
	// one-word queries don't trigger it on incidental matches.
	exactMatchMinLen   = 6
	exactMatchMinTerms = 2

	// rerank only inspects the strongest chunks of each group.
	topChunksPerGroup = 3

	minTermLength = 3
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "could": true,
	"did": true, "do": true, "does": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "how": true, "i": true,
	"if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true, "my": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "our": true, "should": true, "so": true,
	"than": true, "that": true, "the": true, "their": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true, "would": true, "you": true, "your": true,
}

// queryTerms tokenizes a query: lowercase, punctuation to spaces, stop words
// removed, and only terms of at least minTermLength kept.
func queryTerms(query string) []string {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, query)

	var terms []string
	for _, token := range strings.Fields(normalized) {
		if len(token) < minTermLength || stopwords[token] {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// termMatchRatio returns matched/total terms against text, already lowered.
func termMatchRatio(terms []string, loweredText string) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if strings.Contains(loweredText, term) {
			matched++
		}
	}
	ratio := float64(matched) / float64(len(terms))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// resultGroup is all chunks of one canonical URL, strongest first.
type resultGroup struct {
	canonicalURL string
	items        []Item
	fusion       float64
}

// groupByURL buckets items by canonical URL and ranks each bucket's chunks by
// cosine score.
func groupByURL(items []Item) []*resultGroup {
	byURL := make(map[string]*resultGroup)
	var order []string
	for _, item := range items {
		canonical := Canonicalize(item.URL)
		g, ok := byURL[canonical]
		if !ok {
			g = &resultGroup{canonicalURL: canonical}
			byURL[canonical] = g
			order = append(order, canonical)
		}
		g.items = append(g.items, item)
	}

	groups := make([]*resultGroup, 0, len(order))
	for _, canonical := range order {
		g := byURL[canonical]
		sort.SliceStable(g.items, func(i, j int) bool {
			return g.items[i].Score > g.items[j].Score
		})
		groups = append(groups, g)
	}
	return groups
}

// rerank assigns each group its fusion score and orders groups best first.
func rerank(groups []*resultGroup, query string) {
	terms := queryTerms(query)
	loweredQuery := strings.ToLower(strings.TrimSpace(query))

	for _, g := range groups {
		g.fusion = fusionScore(g, loweredQuery, terms)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].fusion > groups[j].fusion
	})
}

func fusionScore(g *resultGroup, loweredQuery string, terms []string) float64 {
	top := g.items
	if len(top) > topChunksPerGroup {
		top = top[:topChunksPerGroup]
	}

	var chunkText, titleText strings.Builder
	for _, item := range top {
		chunkText.WriteString(strings.ToLower(item.ChunkText))
		chunkText.WriteByte(' ')
		titleText.WriteString(strings.ToLower(item.Title))
		titleText.WriteByte(' ')
		titleText.WriteString(strings.ToLower(item.ChunkHeader))
		titleText.WriteByte(' ')
	}

	score := float64(g.items[0].Score)
	score += chunkTermWeight * termMatchRatio(terms, chunkText.String())
	score += titleTermWeight * termMatchRatio(terms, titleText.String())

	if len(loweredQuery) >= exactMatchMinLen && len(terms) >= exactMatchMinTerms {
		for _, item := range g.items {
			if strings.Contains(strings.ToLower(item.ChunkText), loweredQuery) {
				score += exactMatchWeight
				break
			}
		}
	}
	return score
}
