package models

// SubQueryType classifies a decomposed sub-query.
type SubQueryType string

const (
	SubQueryTypeFactual     SubQueryType = "factual"
	SubQueryTypeAnalytical  SubQueryType = "analytical"
	SubQueryTypeComparative SubQueryType = "comparative"
	SubQueryTypeTemporal    SubQueryType = "temporal"
)

// ValidSubQueryType reports whether t is a known sub-query type.
func ValidSubQueryType(t SubQueryType) bool {
	switch t {
	case SubQueryTypeFactual, SubQueryTypeAnalytical, SubQueryTypeComparative, SubQueryTypeTemporal:
		return true
	}
	return false
}

// SubQueryPriority ranks a sub-query's importance.
type SubQueryPriority string

const (
	SubQueryPriorityHigh   SubQueryPriority = "high"
	SubQueryPriorityMedium SubQueryPriority = "medium"
	SubQueryPriorityLow    SubQueryPriority = "low"
)

// ValidSubQueryPriority reports whether p is a known priority.
func ValidSubQueryPriority(p SubQueryPriority) bool {
	switch p {
	case SubQueryPriorityHigh, SubQueryPriorityMedium, SubQueryPriorityLow:
		return true
	}
	return false
}

// SubQuery is an atomic question derived by decomposing a complex query.
// IDs are minted locally by the decomposer; dependencies reference other
// sub-query IDs and form a DAG.
type SubQuery struct {
	ID                  string           `json:"id"`
	Text                string           `json:"text"`
	Order               int              `json:"order"`
	Dependencies        []string         `json:"dependencies,omitempty"`
	Type                SubQueryType     `json:"type"`
	Priority            SubQueryPriority `json:"priority"`
	EstimatedComplexity int              `json:"estimated_complexity"` // 1..5
}

// DecompositionResult is the outcome of query decomposition. ExecutionPlan
// layers the sub-query DAG: each layer is a set of sub-query IDs that can
// execute independently once all earlier layers completed.
type DecompositionResult struct {
	IsComplex     bool        `json:"is_complex"`
	SubQueries    []*SubQuery `json:"sub_queries,omitempty"`
	ExecutionPlan [][]string  `json:"execution_plan,omitempty"`
	DurationMs    int64       `json:"duration_ms"`
}
