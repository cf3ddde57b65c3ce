package embed

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

// Ollama embeds text through a locally running Ollama server.
type Ollama struct {
	client    *api.Client
	model     string
	dimension int
}

func NewOllama(model string) (*Ollama, error) {
	if model == "" {
		model = "nomic-embed-text"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, _ := url.Parse(baseURL)
	client := api.NewClient(uri, http.DefaultClient)

	return &Ollama{
		client:    client,
		model:     model,
		dimension: 768, // nomic-embed-text default
	}, nil
}

func (o *Ollama) Name() string {
	return "ollama"
}

func (o *Ollama) Dimension() int {
	return o.dimension
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  o.model,
		Prompt: text,
	}
	resp, err := o.client.Embeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	if len(vec) > 0 {
		o.dimension = len(vec)
	}
	return vec, nil
}
