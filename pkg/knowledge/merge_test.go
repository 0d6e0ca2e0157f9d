package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(id string, score float64) ChannelHit {
	return ChannelHit{ID: id, Query: "q-" + id, Answer: "a-" + id, Score: score}
}

func TestMergeChannelsWeightsAndBoost(t *testing.T) {
	semantic := []ChannelHit{hit("both", 0.8), hit("sem-only", 0.8)}
	fullText := []ChannelHit{hit("both", 0.8), hit("ft-only", 0.8)}

	out := MergeChannels(semantic, fullText, DefaultWeights, 10)
	require.Len(t, out, 3)

	byID := map[string]ScoredResult{}
	for _, r := range out {
		byID[r.ID] = r
	}

	// semantic-only: 0.8 × 0.7
	assert.InDelta(t, 0.56, byID["sem-only"].Score, 1e-9)
	// full-text-only: 0.8 × 0.3
	assert.InDelta(t, 0.24, byID["ft-only"].Score, 1e-9)
	// both channels: (0.56 + 0.24) × 1.1
	assert.InDelta(t, 0.88, byID["both"].Score, 1e-9)
	assert.True(t, byID["both"].InBoth)

	// A result in both channels outranks either single-channel result with
	// the same raw scores.
	assert.Equal(t, "both", out[0].ID)
}

func TestMergeChannelsClampsToUnitInterval(t *testing.T) {
	semantic := []ChannelHit{hit("x", 1.0)}
	fullText := []ChannelHit{hit("x", 1.0)}

	out := MergeChannels(semantic, fullText, DefaultWeights, 10)
	require.Len(t, out, 1)
	// (0.7 + 0.3) × 1.1 = 1.1, clamped.
	assert.Equal(t, 1.0, out[0].Score)

	// Negative channel scores clamp at zero.
	out = MergeChannels([]ChannelHit{hit("y", -0.5)}, nil, DefaultWeights, 10)
	require.Len(t, out, 1)
	assert.Equal(t, 0.0, out[0].Score)
}

func TestMergeChannelsSortsAndTruncates(t *testing.T) {
	semantic := []ChannelHit{hit("a", 0.2), hit("b", 0.9), hit("c", 0.5)}

	out := MergeChannels(semantic, nil, Weights{Semantic: 1, FullText: 0}, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "c", out[1].ID)
}

func TestMergeChannelsDeterministicTieBreak(t *testing.T) {
	semantic := []ChannelHit{hit("z", 0.5), hit("a", 0.5), hit("m", 0.5)}

	out := MergeChannels(semantic, nil, Weights{Semantic: 1}, 10)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"a", "m", "z"},
		[]string{out[0].ID, out[1].ID, out[2].ID})
}

func TestMergeChannelsEmptyInputs(t *testing.T) {
	assert.Empty(t, MergeChannels(nil, nil, DefaultWeights, 5))
}

func TestMergeChannelsCarriesChannelScores(t *testing.T) {
	out := MergeChannels(
		[]ChannelHit{hit("x", 0.6)},
		[]ChannelHit{hit("x", 0.4)},
		DefaultWeights, 5)
	require.Len(t, out, 1)
	assert.Equal(t, 0.6, out[0].SemanticScore)
	assert.Equal(t, 0.4, out[0].FullTextScore)
}
