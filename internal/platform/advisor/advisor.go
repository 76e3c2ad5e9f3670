// Package advisor talks to a generative-language endpoint that follows the
// Gemini generateContent wire format. Its output is advisory text only.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"

	maxResponseBytes = 1 << 20
)

var ErrEmptyResponse = errors.New("advisor returned no content")

// Suggestion is a preliminary diagnosis with free-text medication names.
type Suggestion struct {
	Diagnosis   string   `json:"diagnosis"`
	Analysis    string   `json:"analysis"`
	Medications []string `json:"medications"`
}

// PatientRecord is the subset of a patient's chart sent for summarizing.
type PatientRecord struct {
	Name      string
	Age       int
	Gender    string
	Symptoms  string
	Diagnosis string
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

var suggestionSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "diagnosis": {"type": "STRING"},
    "analysis": {"type": "STRING"},
    "medications": {"type": "ARRAY", "items": {"type": "STRING"}}
  },
  "required": ["diagnosis", "analysis", "medications"]
}`)

// Suggest asks for a preliminary diagnosis and candidate medications.
func (c *Client) Suggest(ctx context.Context, symptoms string) (*Suggestion, error) {
	prompt := "作为一名专业的辅助诊断医生，请根据以下症状提供初步诊断建议（仅供参考）和建议处方药品：\n\n" +
		"症状：" + symptoms + "\n\n" +
		"请以 JSON 格式返回，包含字段：diagnosis (诊断建议), analysis (分析过程), medications (建议药品列表)。"

	text, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   suggestionSchema,
		},
	})
	if err != nil {
		return nil, err
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("decode suggestion: %w", err)
	}
	return &s, nil
}

// Summarize asks for a short narrative summary of a patient record.
func (c *Client) Summarize(ctx context.Context, rec PatientRecord) (string, error) {
	prompt := fmt.Sprintf("请总结该患者的病历情况：姓名%s, 年龄%d, 性别%s, 症状%s, 诊断%s.",
		rec.Name, rec.Age, rec.Gender, rec.Symptoms, rec.Diagnosis)
	text, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) generate(ctx context.Context, body generateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("advisor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("advisor returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
