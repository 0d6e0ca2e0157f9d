// Package knowledge persists research results and retrieves prior research
// by lexical, semantic, or hybrid search over Postgres with pgvector.
package knowledge

import (
	"sort"
	"time"
)

// Weights balances the two hybrid search channels.
type Weights struct {
	Semantic float64 `yaml:"semantic"`
	FullText float64 `yaml:"fullText"`
}

// DefaultWeights favors semantic similarity over lexical rank.
var DefaultWeights = Weights{Semantic: 0.7, FullText: 0.3}

// bothChannelsBoost rewards results found by both channels.
const bothChannelsBoost = 1.1

// ChannelHit is one row returned by a single search channel, with that
// channel's score normalized to [0,1].
type ChannelHit struct {
	ID        string
	LogID     string
	Query     string
	Answer    string
	Score     float64
	CreatedAt time.Time
}

// ScoredResult is a merged hybrid search result.
type ScoredResult struct {
	ID            string    `json:"id"`
	LogID         string    `json:"logId"`
	Query         string    `json:"query"`
	Answer        string    `json:"answer"`
	Score         float64   `json:"score"`
	SemanticScore float64   `json:"semanticScore"`
	FullTextScore float64   `json:"fullTextScore"`
	InBoth        bool      `json:"inBoth"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MergeChannels combines the semantic and full-text channels by result id:
// score = semantic×wS + fullText×wF, boosted when a result appears in both
// channels, clamped to [0,1], sorted descending, truncated to maxResults.
func MergeChannels(semantic, fullText []ChannelHit, w Weights, maxResults int) []ScoredResult {
	merged := make(map[string]*ScoredResult)

	for _, h := range semantic {
		merged[h.ID] = &ScoredResult{
			ID:            h.ID,
			LogID:         h.LogID,
			Query:         h.Query,
			Answer:        h.Answer,
			SemanticScore: h.Score,
			CreatedAt:     h.CreatedAt,
		}
	}
	for _, h := range fullText {
		if r, ok := merged[h.ID]; ok {
			r.FullTextScore = h.Score
			r.InBoth = true
			continue
		}
		merged[h.ID] = &ScoredResult{
			ID:            h.ID,
			LogID:         h.LogID,
			Query:         h.Query,
			Answer:        h.Answer,
			FullTextScore: h.Score,
			CreatedAt:     h.CreatedAt,
		}
	}

	out := make([]ScoredResult, 0, len(merged))
	for _, r := range merged {
		score := r.SemanticScore*w.Semantic + r.FullTextScore*w.FullText
		if r.InBoth {
			score *= bothChannelsBoost
		}
		r.Score = clamp01(score)
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
