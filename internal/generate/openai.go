package generate

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stratolab/citeguard/pkg/utils"
)

// Config holds connection settings for the OpenAI-compatible endpoint that
// serves generation and embeddings (hosted, or local llama.cpp/Ollama/vLLM).
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxTokens      int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
}

func newClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAIGenerator implements Generator against a chat-completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	config Config
}

// NewOpenAIGenerator creates a generator for cfg.
func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	cfg.ApplyDefaults()
	return &OpenAIGenerator{client: newClient(cfg), config: cfg}
}

// Generate sends the composed prompt and returns the raw answer text.
// Any transport, timeout, or malformed-response failure maps to
// *UnavailableError; there is no retry at this layer.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Temperature: temperature,
		MaxTokens:   g.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &UnavailableError{Err: fmt.Errorf("empty choices in completion response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder implements Embedder against an embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	config     Config
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for cfg producing vectors of the
// given dimensionality.
func NewOpenAIEmbedder(cfg Config, dimensions int) *OpenAIEmbedder {
	cfg.ApplyDefaults()
	return &OpenAIEmbedder{client: newClient(cfg), config: cfg, dimensions: dimensions}
}

// Embed returns the L2-normalized embedding for text. The index stores
// normalized vectors, so inner product equals cosine similarity.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.config.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	emb := make([]float32, len(resp.Data[0].Embedding))
	copy(emb, resp.Data[0].Embedding)
	if e.dimensions > 0 && len(emb) != e.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(emb), e.dimensions)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the configured embedding dimensionality.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }
