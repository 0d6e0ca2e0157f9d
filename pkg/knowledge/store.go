package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
)

const (
	// EmbeddingDimensions is the width of the embedding column.
	EmbeddingDimensions = 768

	// maxEmbeddableAnswerChars is the answer length above which the answer
	// is summarized before embedding.
	maxEmbeddableAnswerChars = 28000

	// channelOverfetch fetches extra rows per channel so the merge has
	// candidates to boost and reorder.
	channelOverfetch = 2
)

// Store is the knowledge store over the research_results table.
type Store struct {
	db  *sql.DB
	llm llm.Client

	// embedMu serializes the follow-up embedding write per row id.
	embedMu sync.Map
}

// NewStore creates a knowledge store. llm may be nil, in which case Save
// skips embedding and hybrid search degrades to lexical-only errors.
func NewStore(db *sql.DB, llmClient llm.Client) *Store {
	return &Store{db: db, llm: llmClient}
}

// Save persists a research result, then computes and writes its embedding in
// a follow-up update. Embedding failure is non-fatal: the row remains saved
// without an embedding and is picked up by BackfillEmbeddings later.
func (s *Store) Save(ctx context.Context, result *models.ResearchResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	sources, err := json.Marshal(result.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var confidence []byte
	if result.Confidence != nil {
		confidence, err = json.Marshal(result.Confidence)
		if err != nil {
			return fmt.Errorf("failed to marshal confidence: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_results (id, log_id, plan_id, query, answer, sources, metadata, confidence, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		result.ID, result.LogID, result.PlanID, result.Query, result.Answer,
		sources, metadata, nullableJSON(confidence), result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert research result: %w", err)
	}

	if err := s.writeEmbedding(ctx, result.ID, result.Query, result.Answer); err != nil {
		slog.Warn("Embedding write failed, row saved without embedding",
			"result_id", result.ID, "error", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// writeEmbedding computes the query+answer embedding and updates the row.
// Writes for the same row are serialized; different rows proceed in parallel.
func (s *Store) writeEmbedding(ctx context.Context, id, query, answer string) error {
	if s.llm == nil {
		return fmt.Errorf("no embedding client configured")
	}

	muAny, _ := s.embedMu.LoadOrStore(id, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	defer s.embedMu.Delete(id)

	text := query + "\n\n" + s.embeddableAnswer(ctx, answer)
	vectors, err := s.llm.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding generation failed: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != EmbeddingDimensions {
		return fmt.Errorf("unexpected embedding shape: %d vectors", len(vectors))
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE research_results SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(vectors[0]), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}

// embeddableAnswer returns the answer, summarized when it is too long to
// embed meaningfully. Summarization failure falls back to truncation.
func (s *Store) embeddableAnswer(ctx context.Context, answer string) string {
	if len(answer) <= maxEmbeddableAnswerChars {
		return answer
	}

	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		Role:   llm.RolePrimary,
		System: "Summarize the following research answer in at most 1000 words, preserving the key facts and conclusions.",
		Messages: []llm.Message{
			{Role: "user", Content: answer[:maxEmbeddableAnswerChars]},
		},
	})
	if err != nil || resp.Content == "" {
		slog.Warn("Answer summarization for embedding failed, truncating", "error", err)
		return answer[:maxEmbeddableAnswerChars]
	}
	return resp.Content
}

// GetByLogID returns the persisted result for a session, or sql.ErrNoRows.
func (s *Store) GetByLogID(ctx context.Context, logID string) (*models.ResearchResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, log_id, COALESCE(plan_id::text, ''), query, answer, sources, metadata, confidence, created_at
		FROM research_results
		WHERE log_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, logID)

	var r models.ResearchResult
	var sources, metadata []byte
	var confidence sql.Null[[]byte]
	if err := row.Scan(&r.ID, &r.LogID, &r.PlanID, &r.Query, &r.Answer,
		&sources, &metadata, &confidence, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sources, &r.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if confidence.Valid && len(confidence.V) > 0 {
		if err := json.Unmarshal(confidence.V, &r.Confidence); err != nil {
			return nil, fmt.Errorf("failed to decode confidence: %w", err)
		}
	}
	return &r, nil
}

// SearchPriorResearch runs a lexical search over prior research, ranked by
// the weighted query/answer full-text index.
func (s *Store) SearchPriorResearch(ctx context.Context, query string, maxResults int) ([]ScoredResult, error) {
	hits, err := s.fullTextChannel(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredResult, len(hits))
	for i, h := range hits {
		out[i] = ScoredResult{
			ID:            h.ID,
			LogID:         h.LogID,
			Query:         h.Query,
			Answer:        h.Answer,
			Score:         clamp01(h.Score),
			FullTextScore: h.Score,
			CreatedAt:     h.CreatedAt,
		}
	}
	return out, nil
}

// SearchHybrid runs the semantic and full-text channels in parallel, each
// overfetching, then merges per MergeChannels.
func (s *Store) SearchHybrid(ctx context.Context, query string, maxResults int, w Weights) ([]ScoredResult, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("hybrid search requires an embedding client")
	}

	vectors, err := s.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := vectors[0]

	fetch := maxResults * channelOverfetch
	var (
		wg            sync.WaitGroup
		semantic      []ChannelHit
		fullText      []ChannelHit
		semErr, ftErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, semErr = s.semanticChannel(ctx, queryVec, fetch)
	}()
	go func() {
		defer wg.Done()
		fullText, ftErr = s.fullTextChannel(ctx, query, fetch)
	}()
	wg.Wait()

	if semErr != nil {
		return nil, fmt.Errorf("semantic channel failed: %w", semErr)
	}
	if ftErr != nil {
		return nil, fmt.Errorf("full-text channel failed: %w", ftErr)
	}

	return MergeChannels(semantic, fullText, w, maxResults), nil
}

// semanticChannel ranks rows by cosine similarity to the query embedding.
func (s *Store) semanticChannel(ctx context.Context, queryVec []float32, limit int) ([]ChannelHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_id, query, answer, 1 - (embedding <=> $1) AS similarity, created_at
		FROM research_results
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannelHits(rows)
}

// fullTextChannel ranks rows by the weighted tsvector index. Rank is
// normalized by rank/(rank+1) so channel scores stay in [0,1).
func (s *Store) fullTextChannel(ctx context.Context, query string, limit int) ([]ChannelHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_id, query, answer,
		       ts_rank(search_vector, plainto_tsquery('english', $1), 32) AS rank,
		       created_at
		FROM research_results
		WHERE search_vector @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannelHits(rows)
}

func scanChannelHits(rows *sql.Rows) ([]ChannelHit, error) {
	var hits []ChannelHit
	for rows.Next() {
		var h ChannelHit
		if err := rows.Scan(&h.ID, &h.LogID, &h.Query, &h.Answer, &h.Score, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// BackfillEmbeddings embeds rows that were saved without an embedding.
// Idempotent: a second run only sees rows still missing embeddings.
func (s *Store) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, answer
		FROM research_results
		WHERE embedding IS NULL
		ORDER BY created_at
		LIMIT $1`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query backfill rows: %w", err)
	}

	type pending struct{ id, query, answer string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.query, &p.answer); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan backfill row: %w", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	for _, p := range todo {
		if err := s.writeEmbedding(ctx, p.id, p.query, p.answer); err != nil {
			slog.Warn("Backfill embedding failed", "result_id", p.id, "error", err)
			continue
		}
		processed++
	}
	slog.Info("Embedding backfill pass finished",
		"candidates", len(todo), "processed", processed)
	return processed, nil
}
