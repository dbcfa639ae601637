// Package ocr reads the date printed on meter photos through an Ollama
// vision model.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prompt asks the model for the display date in a fixed format.
const Prompt = `Look at the TOP RIGHT corner of this meter image. There should be a date displayed.

Instructions:
1. Find the date in the TOP RIGHT area of the meter display
2. Extract ONLY the date numbers (day, month, year)
3. Return your answer in EXACTLY this format: DD Mon YYYY
   Example: 04 Dec 2025
4. If you cannot find a date, respond with exactly: NO DATE
5. Do NOT include any other text, explanation, or punctuation

Your response:`

// ErrModelMissing is returned by Ping when the server lacks the model.
var ErrModelMissing = errors.New("vision model not installed")

// Config configures a Client.
type Config struct {
	BaseURL        string
	Model          string
	RequestsPerSec float64
	MaxImagePx     int
	Timeout        time.Duration
}

// Client talks to the Ollama HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
	model   string
	maxPx   int
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		if int(cfg.RequestsPerSec) > burst {
			burst = int(cfg.RequestsPerSec)
		}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		maxPx:   cfg.MaxImagePx,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("ocr"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Ping checks the server is reachable and serves the configured model. A
// model tag mismatch is accepted when the base name matches.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(body))
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	want := baseName(c.model)
	for _, m := range tags.Models {
		if m.Name == c.model || baseName(m.Name) == want {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelMissing, c.model)
}

func baseName(model string) string {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i]
	}
	return model
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ReadDate sends the photo at path with Prompt and returns the model's raw
// answer. Use ExtractDate to interpret it.
func (c *Client) ReadDate(ctx context.Context, path string) (string, error) {
	img, err := LoadJPEG(path, c.maxPx)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: Prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(img)},
		}},
	})
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, string(body))
	}
	var wrapper struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if wrapper.Error != "" {
		return "", fmt.Errorf("ollama: %s", wrapper.Error)
	}
	answer := strings.TrimSpace(wrapper.Message.Content)
	c.logger.Debug("vision answer",
		zap.String("image", path),
		zap.String("answer", answer),
		zap.Duration("took", time.Since(start)),
	)
	return answer, nil
}
