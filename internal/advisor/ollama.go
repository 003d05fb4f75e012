package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Generator - текстовая LLM-модель за одним вызовом.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	NumPredict  int
}

// OllamaClient ходит в /api/generate без стриминга.
type OllamaClient struct {
	url    string
	cfg    OllamaConfig
	client *http.Client
}

func NewOllamaClient(cfg OllamaConfig, client *http.Client) *OllamaClient {
	if client == nil {
		client = &http.Client{}
	}
	url := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(url, "/api/generate") {
		url += "/api/generate"
	}
	return &OllamaClient{url: url, cfg: cfg, client: client}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	// 1. Тело запроса
	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			NumPredict:  c.cfg.NumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 2. Вызов
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama call failed: %w", err)
	}
	defer resp.Body.Close()

	// 3. Троттлинг отдаем наверх с Retry-After, чтобы ретраер подождал сколько просят
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		wait := time.Second
		if secs, err := cast.ToIntE(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return "", &ThrottleError{RetryAfter: wait, Cause: fmt.Errorf("ollama status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	// 4. Ответ
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}
	return text, nil
}
