package embedding

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"rexlit/internal/logging"
)

// genaiMaxBatchSize is the maximum number of texts allowed in a single
// GenAI batch request; the API rejects larger batches.
const genaiMaxBatchSize = 100

// GenAIEngine generates embeddings using Google's Gemini API. This backend
// requires online mode and is gated accordingly by the callers.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model string, dimensions int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimensions <= 0 {
		dimensions = 768
	}

	logging.Embedding("Initializing GenAI client: model=%s", model)
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model, dimensions: dimensions}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunking to the API's
// batch limit and concatenating results.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	if len(texts) == 0 {
		return nil, Usage{}, nil
	}

	start := time.Now()
	dim := int32(e.dimensions)
	out := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += genaiMaxBatchSize {
		end := offset + genaiMaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		contents := make([]*genai.Content, 0, end-offset)
		for _, text := range texts[offset:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		})
		if err != nil {
			return nil, Usage{}, fmt.Errorf("GenAI embed failed: %w", err)
		}
		for _, emb := range result.Embeddings {
			out = append(out, emb.Values)
		}
	}

	usage := Usage{Texts: len(texts), LatencyMS: float64(time.Since(start).Milliseconds())}
	logging.EmbeddingDebug("GenAI.EmbedBatch: %d texts in %.0fms", usage.Texts, usage.LatencyMS)
	return out, usage, nil
}

// Dimensions returns the embedding dimensionality.
func (e *GenAIEngine) Dimensions() int { return e.dimensions }

// Name returns the engine name.
func (e *GenAIEngine) Name() string { return "genai/" + e.model }

// RequiresOnline is true: the Gemini API is a network service.
func (e *GenAIEngine) RequiresOnline() bool { return true }
