package executor

import (
	"fmt"
	"strings"

	"github.com/delvekit/delve/pkg/models"
)

const (
	searchResultsHeader  = "## Search Results"
	fetchedContentHeader = "## Fetched Content"
	fetchedSeparator     = "\n\n---\n\n"
)

const defaultSynthesisSystemPrompt = "You are a research assistant. Synthesize " +
	"the provided research material into a clear, well-structured answer. Cite " +
	"facts from the material; do not invent sources."

func defaultSynthesisPrompt(config map[string]any) string {
	query, _ := config["query"].(string)
	context, _ := config["context"].(string)
	return fmt.Sprintf("Question: %s\n\nResearch material:\n%s\n\n"+
		"Write a comprehensive answer to the question based on the material above.",
		query, context)
}

// BuildSynthesisContext renders accumulated step results as the synthesis
// context: array outputs of completed steps become the Search Results
// section, string outputs the Fetched Content section, in that order. Empty
// sections are omitted; no sources yields an empty string.
func BuildSynthesisContext(accumulated []*models.StepResult) string {
	var searches []string
	var fetched []string

	for _, r := range accumulated {
		if r == nil || r.Status != models.StatusCompleted {
			continue
		}
		if items, ok := outputItems(r.Output); ok {
			searches = append(searches, renderItems(items))
			continue
		}
		if s, ok := r.Output.(string); ok && s != "" {
			fetched = append(fetched, s)
		}
	}

	var sections []string
	if len(searches) > 0 {
		sections = append(sections,
			searchResultsHeader+"\n\n"+strings.Join(searches, "\n"))
	}
	if len(fetched) > 0 {
		sections = append(sections,
			fetchedContentHeader+"\n\n"+strings.Join(fetched, fetchedSeparator))
	}
	return strings.Join(sections, "\n\n")
}

// renderItems serializes one array output as structured text, keeping the
// well-known fields in a stable order.
func renderItems(items []any) string {
	var sb strings.Builder
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			fmt.Fprintf(&sb, "- %v\n", item)
			continue
		}
		title, _ := m["title"].(string)
		url, _ := m["url"].(string)
		content, _ := m["content"].(string)

		fmt.Fprintf(&sb, "%d. ", i+1)
		if title != "" {
			sb.WriteString(title)
		} else if url != "" {
			sb.WriteString(url)
		} else {
			sb.WriteString("(untitled)")
		}
		sb.WriteByte('\n')
		if url != "" && title != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", url)
		}
		if content != "" {
			fmt.Fprintf(&sb, "   %s\n", content)
		}
	}
	return sb.String()
}
