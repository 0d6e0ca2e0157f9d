package plan

// Prompts for the decomposer and planner. Both demand strict JSON; markdown
// fences in the response are tolerated and stripped before parsing.

const decompositionSystemPrompt = `You are a research query analyst. Decide ` +
	`whether a research query is complex enough to benefit from decomposition ` +
	`into sub-queries. Respond with strict JSON only, no prose.`

const decompositionPromptFormat = `Analyze this research query:

%s

Respond with JSON of this exact shape:
{
  "isComplex": true or false,
  "subQueries": [
    {
      "order": 1,
      "text": "the sub-query text",
      "type": "factual" | "analytical" | "comparative" | "temporal",
      "priority": "high" | "medium" | "low",
      "estimatedComplexity": 1-5,
      "dependencies": [order numbers of sub-queries this one depends on]
    }
  ]
}

Rules:
- If the query is simple, set isComplex to false and subQueries to [].
- If complex, produce 2 to 5 sub-queries.
- A sub-query that compares or combines others must list them as dependencies.`

const planningSystemPrompt = `You are a research planner. Produce an ` +
	`executable research plan as strict JSON, no prose. Available tools: ` +
	`web_search, web_fetch, knowledge_search, synthesize.`

const planningPromptFormat = `Create a research plan for this query:

%s

Respond with JSON of this exact shape:
{
  "phases": [
    {
      "name": "phase name",
      "description": "what this phase achieves",
      "steps": [
        {
          "tool": "web_search" | "web_fetch" | "knowledge_search" | "synthesize",
          "dependencies": [indexes of steps within this phase this step depends on]
        }
      ]
    }
  ]
}

Rules:
- Start with a search phase, follow with a content gathering phase, and end
  with a synthesis phase whose final step uses the synthesize tool.
- Keep the plan to at most 5 phases and 4 steps per phase.`
