package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/delvekit/delve/pkg/models"
)

const (
	fetchRequestTimeout = 30 * time.Second
	maxFetchBodyBytes   = 2 << 20 // 2 MiB of raw HTML
	maxExtractedChars   = 8000
	fetchUserAgent      = "delve-research/1.0"
)

// WebFetchExecutor fetches a URL and extracts its readable text. Output is a
// plain string, truncated to a bounded length.
type WebFetchExecutor struct {
	client *http.Client
}

// NewWebFetchExecutor creates a fetch executor.
func NewWebFetchExecutor() *WebFetchExecutor {
	return &WebFetchExecutor{
		client: &http.Client{Timeout: fetchRequestTimeout},
	}
}

func (e *WebFetchExecutor) Execute(ctx context.Context, step *models.Step, logID string) (*Result, error) {
	target := stringConfig(step, "url")
	if target == "" {
		return nil, fmt.Errorf("web_fetch requires a url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch url: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "text/html") || looksLikeHTML(body) {
		text = ExtractText(body)
	} else {
		text = string(body)
	}
	text = strings.TrimSpace(text)
	if len(text) > maxExtractedChars {
		text = text[:maxExtractedChars]
	}

	return &Result{
		Output: text,
		Metadata: map[string]any{
			"url":           target,
			"contentLength": len(text),
		},
	}, nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// ExtractText returns the visible text of an HTML document: element text
// outside script/style/head, with whitespace collapsed between blocks.
func ExtractText(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return string(body)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
