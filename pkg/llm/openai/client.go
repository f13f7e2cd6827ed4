// Package openai implements llm.Provider against any OpenAI-compatible
// Chat Completions API. It serves as the backup backend in the failover
// chain when the primary provider is unavailable.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"geoquery/pkg/config"
	"geoquery/pkg/llm"
)

// Requester is the subset of the request client the provider needs.
type Requester interface {
	GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error)
	PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error)
}

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	rc           Requester
	apiKey       string
	baseURL      string
	defaultModel string
	profiles     map[string]string

	mu sync.RWMutex
}

// Request follows the Chat Completions request format.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// Response follows the Chat Completions response format.
type Response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a Client from the fallback configuration.
func NewClient(cfg config.FallbackLLM, rc Requester) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	return &Client{
		rc:           rc,
		apiKey:       cfg.Key,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		profiles:     cfg.Profiles,
	}, nil
}

// HealthCheck verifies the key is set and the /models endpoint responds.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("api key is missing")
	}
	u := c.baseURL + "/models"
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if _, err := c.rc.GetWithHeaders(ctx, u, headers, ""); err != nil {
		return fmt.Errorf("models endpoint unreachable: %w", err)
	}
	return nil
}

// HasProfile reports whether a model is configured for the profile.
func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.profiles[name]; ok && m != "" {
		return true
	}
	return c.defaultModel != ""
}

func (c *Client) resolveModel(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.profiles[name]; ok && m != "" {
		return m, nil
	}
	if c.defaultModel != "" {
		return c.defaultModel, nil
	}
	return "", fmt.Errorf("profile %q not configured", name)
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	model, err := c.resolveModel(name)
	if err != nil {
		return "", err
	}

	req := Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	}
	return c.execute(ctx, req)
}

// GenerateJSON sends a prompt and unmarshals the JSON response into target.
func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	model, err := c.resolveModel(name)
	if err != nil {
		return err
	}

	// json_object mode requires the word "json" somewhere in the prompt.
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += " Respond in JSON."
	}

	req := Request{
		Model:          model,
		Messages:       []Message{{Role: "user", Content: prompt}},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Temperature:    0.1,
	}

	respText, err := c.execute(ctx, req)
	if err != nil {
		return err
	}

	respText = llm.CleanJSONBlock(respText)
	if err := json.Unmarshal([]byte(respText), target); err != nil {
		return fmt.Errorf("failed to unmarshal openai json: %w (raw: %s)", err, respText)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, oreq Request) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("api key is missing")
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	respBody, err := c.rc.PostWithHeaders(ctx, c.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return "", err
	}

	var oresp Response
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if oresp.Error != nil {
		return "", fmt.Errorf("openai api error: %s (%s)", oresp.Error.Message, oresp.Error.Type)
	}
	if len(oresp.Choices) == 0 {
		return "", fmt.Errorf("api returned no choices")
	}
	return oresp.Choices[0].Message.Content, nil
}
