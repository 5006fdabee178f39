package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
)

const defaultProviderTimeout = 30 * time.Second

func unavailable(err error, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.T(model.TagEmbeddingUnavailable))
	if err == nil {
		return goerr.New(msg, opts...)
	}
	return goerr.Wrap(err, msg, opts...)
}

// jsonClient posts JSON to an embedding endpoint. Every transport, status or
// decoding failure is reported as embedding-unavailable.
type jsonClient struct {
	name    string
	baseURL string
	header  http.Header
	client  *http.Client
}

func newJSONClient(name, baseURL string, timeout time.Duration) jsonClient {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return jsonClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  http.Header{"Content-Type": {"application/json"}},
		client:  &http.Client{Timeout: timeout},
	}
}

func (c jsonClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return goerr.Wrap(err, "encode request", goerr.V("provider", c.name))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "build request", goerr.V("provider", c.name))
	}
	req.Header = c.header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		return unavailable(err, "embedding request failed", goerr.V("provider", c.name), goerr.V("url", c.baseURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return unavailable(nil, "embedding provider returned an error",
			goerr.V("provider", c.name), goerr.V("status", resp.StatusCode), goerr.V("body", string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return unavailable(err, "decode embedding response", goerr.V("provider", c.name))
	}
	return nil
}

// dimsGuard remembers the vector width. A zero width is learned from the
// first response; afterwards a different width is an error because the index
// cannot mix them.
type dimsGuard struct{ n atomic.Int64 }

func (d *dimsGuard) check(provider string, v Vector) error {
	if len(v) == 0 {
		return unavailable(nil, "empty embedding", goerr.V("provider", provider))
	}
	want := d.n.Load()
	if want == 0 && d.n.CompareAndSwap(0, int64(len(v))) {
		return nil
	}
	if want = d.n.Load(); int64(len(v)) != want {
		return unavailable(nil, "embedding width changed",
			goerr.V("provider", provider), goerr.V("want", want), goerr.V("got", len(v)))
	}
	return nil
}

func (d *dimsGuard) Dims() int { return int(d.n.Load()) }

// knownOllamaDims lists widths of common Ollama embedding models.
var knownOllamaDims = map[string]int{
	"nomic-embed-text":  768,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// OllamaEmbedder uses a local Ollama instance.
type OllamaEmbedder struct {
	http  jsonClient
	model string
	dimsGuard
}

// NewOllamaEmbedder creates an Ollama embedder. Dims is known up front for
// common models and learned from the first response otherwise.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	e := &OllamaEmbedder{http: newJSONClient("ollama", baseURL, timeout), model: model}
	e.n.Store(int64(knownOllamaDims[model]))
	return e
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out struct {
		Embedding Vector `json:"embedding"`
	}
	err := e.http.post(ctx, "/api/embeddings", map[string]string{"model": e.model, "prompt": text}, &out)
	if err != nil {
		return nil, err
	}
	if err := e.check("ollama", out.Embedding); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// OpenAIEmbedder uses any OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	http  jsonClient
	model string
	dims  int
	dimsGuard
}

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. A positive dims is
// sent as the requested output width.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int, timeout time.Duration) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	c := newJSONClient("openai", baseURL, timeout)
	if apiKey != "" {
		c.header.Set("Authorization", "Bearer "+apiKey)
	}
	e := &OpenAIEmbedder{http: c, model: model, dims: dims}
	e.n.Store(int64(dims))
	return e
}

type openaiRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out struct {
		Data []struct {
			Embedding Vector `json:"embedding"`
		} `json:"data"`
	}
	err := e.http.post(ctx, "/embeddings", openaiRequest{Input: text, Model: e.model, Dimensions: e.dims}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, unavailable(nil, "no embedding returned", goerr.V("model", e.model))
	}
	if err := e.check("openai", out.Data[0].Embedding); err != nil {
		return nil, err
	}
	return out.Data[0].Embedding, nil
}
