package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
)

// Decomposition failure kinds. All propagate to the caller; the decomposer
// recovers none of them.
var (
	ErrDecompositionLLM   = errors.New("decomposition llm call failed")
	ErrDecompositionParse = errors.New("decomposition response invalid")
	ErrCircularDependency = errors.New("circular dependency between sub-queries")
)

const decompositionSchemaJSON = `{
  "type": "object",
  "required": ["isComplex"],
  "properties": {
    "isComplex": {"type": "boolean"},
    "subQueries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["order", "text", "type", "priority", "estimatedComplexity"],
        "properties": {
          "order": {"type": "integer", "minimum": 1},
          "text": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "priority": {"type": "string"},
          "estimatedComplexity": {"type": "integer"},
          "dependencies": {
            "type": "array",
            "items": {"type": ["integer", "string"]}
          }
        }
      }
    }
  }
}`

var decompositionSchema = mustCompileSchema("decomposition.json", decompositionSchemaJSON)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// Decomposer classifies queries as complex or simple and splits complex
// ones into 2-5 sub-queries with a layered execution plan.
type Decomposer struct {
	llm    llm.Client
	events *events.Coordinator
}

// NewDecomposer creates a decomposer.
func NewDecomposer(llmClient llm.Client, coordinator *events.Coordinator) *Decomposer {
	return &Decomposer{llm: llmClient, events: coordinator}
}

// Decompose analyzes a query. Sub-query IDs are minted locally; any IDs in
// the model output are ignored, and dependencies given as order numbers are
// rewritten to the minted IDs before layering.
func (d *Decomposer) Decompose(ctx context.Context, query, logID string) (*models.DecompositionResult, error) {
	start := time.Now()
	d.events.Emit(logID, events.EventDecompositionStarted,
		events.DecompositionStartedPayload{Query: query})

	resp, err := d.llm.Chat(ctx, llm.ChatRequest{
		Role:     llm.RolePrimary,
		System:   decompositionSystemPrompt,
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(decompositionPromptFormat, query)}},
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDecompositionLLM, err)
		d.emitCompleted(logID, nil, start, err)
		return nil, err
	}

	subQueries, isComplex, err := d.parse(resp.Content)
	if err != nil {
		d.emitCompleted(logID, nil, start, err)
		return nil, err
	}

	result := &models.DecompositionResult{IsComplex: isComplex}
	if !isComplex {
		result.DurationMs = time.Since(start).Milliseconds()
		d.emitCompleted(logID, result, start, nil)
		return result, nil
	}

	for _, sq := range subQueries {
		d.events.Emit(logID, events.EventSubQueryIdentified, events.SubQueryIdentifiedPayload{
			SubQueryID: sq.ID,
			Text:       sq.Text,
			Type:       string(sq.Type),
			Priority:   string(sq.Priority),
			Complexity: sq.EstimatedComplexity,
		})
	}

	layers, cycled := Layers(subQueries,
		func(sq *models.SubQuery) string { return sq.ID },
		func(sq *models.SubQuery) []string { return sq.Dependencies })
	if cycled {
		err := fmt.Errorf("%w", ErrCircularDependency)
		d.emitCompleted(logID, nil, start, err)
		return nil, err
	}

	result.SubQueries = subQueries
	result.ExecutionPlan = make([][]string, len(layers))
	for i, layer := range layers {
		for _, sq := range layer {
			result.ExecutionPlan[i] = append(result.ExecutionPlan[i], sq.ID)
		}
	}
	result.DurationMs = time.Since(start).Milliseconds()

	d.emitCompleted(logID, result, start, nil)
	slog.Info("Query decomposed",
		"log_id", logID, "sub_queries", len(subQueries), "layers", len(layers))
	return result, nil
}

func (d *Decomposer) emitCompleted(logID string, result *models.DecompositionResult, start time.Time, err error) {
	payload := events.DecompositionCompletedPayload{
		DurationMs: time.Since(start).Milliseconds(),
	}
	if result != nil {
		payload.IsComplex = result.IsComplex
		payload.SubQueryCount = len(result.SubQueries)
		payload.ExecutionPhases = len(result.ExecutionPlan)
	}
	if err != nil {
		payload.Error = err.Error()
	}
	d.events.Emit(logID, events.EventDecompositionCompleted, payload)
}

type rawSubQuery struct {
	Order               int    `json:"order"`
	Text                string `json:"text"`
	Type                string `json:"type"`
	Priority            string `json:"priority"`
	EstimatedComplexity int    `json:"estimatedComplexity"`
	Dependencies        []any  `json:"dependencies"`
}

type rawDecomposition struct {
	IsComplex  bool          `json:"isComplex"`
	SubQueries []rawSubQuery `json:"subQueries"`
}

// parse validates the model output against the declared schema plus the
// semantic rules, then normalizes dependencies to minted IDs.
func (d *Decomposer) parse(content string) ([]*models.SubQuery, bool, error) {
	cleaned := StripFences(content)

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(cleaned))
	if err != nil {
		return nil, false, fmt.Errorf("%w: not valid JSON: %v", ErrDecompositionParse, err)
	}
	if err := decompositionSchema.Validate(doc); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDecompositionParse, err)
	}

	var raw rawDecomposition
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDecompositionParse, err)
	}

	if !raw.IsComplex {
		return nil, false, nil
	}
	if len(raw.SubQueries) == 0 {
		return nil, false, fmt.Errorf("%w: complex query with no sub-queries", ErrDecompositionParse)
	}

	idByOrder := make(map[int]string, len(raw.SubQueries))
	subQueries := make([]*models.SubQuery, 0, len(raw.SubQueries))
	for _, r := range raw.SubQueries {
		if !models.ValidSubQueryType(models.SubQueryType(r.Type)) {
			return nil, false, fmt.Errorf("%w: unknown sub-query type %q", ErrDecompositionParse, r.Type)
		}
		if !models.ValidSubQueryPriority(models.SubQueryPriority(r.Priority)) {
			return nil, false, fmt.Errorf("%w: unknown priority %q", ErrDecompositionParse, r.Priority)
		}
		if r.EstimatedComplexity < 1 || r.EstimatedComplexity > 5 {
			return nil, false, fmt.Errorf("%w: estimatedComplexity %d outside 1-5", ErrDecompositionParse, r.EstimatedComplexity)
		}

		sq := &models.SubQuery{
			ID:                  uuid.NewString(),
			Text:                r.Text,
			Order:               r.Order,
			Type:                models.SubQueryType(r.Type),
			Priority:            models.SubQueryPriority(r.Priority),
			EstimatedComplexity: r.EstimatedComplexity,
		}
		idByOrder[r.Order] = sq.ID
		subQueries = append(subQueries, sq)
	}

	// Dependencies arrive as order numbers (or numeric strings); rewrite
	// them to the minted IDs. Unresolvable references are a parse error.
	for i, r := range raw.SubQueries {
		for _, dep := range r.Dependencies {
			order, ok := depOrder(dep)
			if !ok {
				return nil, false, fmt.Errorf("%w: malformed dependency %v", ErrDecompositionParse, dep)
			}
			id, ok := idByOrder[order]
			if !ok {
				return nil, false, fmt.Errorf("%w: dependency on unknown sub-query %d", ErrDecompositionParse, order)
			}
			subQueries[i].Dependencies = append(subQueries[i].Dependencies, id)
		}
	}
	return subQueries, true, nil
}

func depOrder(dep any) (int, bool) {
	switch v := dep.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
