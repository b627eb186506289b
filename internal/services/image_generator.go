package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ImageGenerator is the external image service. Generate asks for one image and returns where it
// can be fetched; Download fetches the bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*GeneratedImage, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

type GeneratedImage struct {
	URL string
	Raw json.RawMessage
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxImageBytes = 32 << 20

type OpenAIImageConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient HTTPClient
	Logger     zerolog.Logger
}

type OpenAIImageClient struct {
	api    *openai.Client
	http   HTTPClient
	model  string
	logger zerolog.Logger
}

func NewOpenAIImageClient(cfg OpenAIImageConfig) *OpenAIImageClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = normalizeOpenAIBase(cfg.BaseURL)
	oc.HTTPClient = httpClient
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIImageClient{
		api:    openai.NewClientWithConfig(oc),
		http:   httpClient,
		model:  model,
		logger: cfg.Logger,
	}
}

// Generate requests a single 1024x1024 standard-quality image. A refusal from the service is
// returned as an upstream-rejected ServiceError carrying the service's status code; its detail is
// only logged.
func (c *OpenAIImageClient) Generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:   c.model,
		Prompt:  prompt,
		Size:    openai.CreateImageSize1024x1024,
		Quality: openai.CreateImageQualityStandard,
		N:       1,
	})
	if err != nil {
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			c.logger.Error().Int("status", apiErr.HTTPStatusCode).Str("type", apiErr.Type).Str("detail", apiErr.Message).Msg("image API error")
			return nil, NewUpstreamRejectedError(apiErr.HTTPStatusCode)
		case errors.As(err, &reqErr):
			c.logger.Error().Int("status", reqErr.HTTPStatusCode).Bytes("body", reqErr.Body).Err(reqErr.Err).Msg("image API error")
			return nil, NewUpstreamRejectedError(reqErr.HTTPStatusCode)
		}
		return nil, errors.Wrap(err, "create image")
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.Wrap(err, "encode image response")
	}
	out := &GeneratedImage{Raw: raw}
	if len(resp.Data) > 0 {
		out.URL = resp.Data[0].URL
	}
	return out, nil
}

func (c *OpenAIImageClient) Download(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("download image: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "download image")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download image")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, errors.Wrap(err, "download image: read body")
	}
	return b, nil
}

// normalizeOpenAIBase turns a deployment base URL into the /v1 root the client appends paths to.
func normalizeOpenAIBase(base string) string {
	endpoint := strings.TrimRight(strings.TrimSpace(base), "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	if strings.HasSuffix(endpoint, "/v1") {
		return endpoint
	}
	return endpoint + "/v1"
}
