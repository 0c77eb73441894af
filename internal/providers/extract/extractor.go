// Package extract adapts a chat-completions endpoint to the engine's
// Extractor port: one LLM call per completed turn, structured JSON out.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sandevgo/memgate/internal/config"
	"github.com/sandevgo/memgate/internal/core"
)

const systemPrompt = "You are a memory extraction system. Output only a valid JSON array."

type Extractor struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewExtractor(cfg *config.ExtractorConfig) *Extractor {
	return &Extractor{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Extract pulls durable facts out of one completed turn. An empty slice is
// a normal outcome: most turns contain nothing worth remembering.
func (e *Extractor) Extract(ctx context.Context, userText, agentText string) ([]core.ExtractedFact, error) {
	payload := map[string]any{
		"model": e.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": buildPrompt(userText, agentText)},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrExtraction, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrExtraction, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", core.ErrExtraction, resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", core.ErrExtraction, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", core.ErrExtraction)
	}

	facts, err := ParseResponse(result.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrExtraction, err)
	}
	return facts, nil
}

func buildPrompt(userText, agentText string) string {
	return fmt.Sprintf(
		`Extract NEW, durable facts about the user from this exchange. Output format: JSON array of objects {"fact", "kind"}. Kinds: ["preference", "fact", "rule"]. Rules: 1. Ignore greetings and small talk; return [] if nothing is worth remembering long-term. 2. Each fact must be a single self-contained sentence (replace pronouns with "User"). 3. If the user corrected the assistant's behavior, record it as kind "rule". Exchange:
USER: %s
ASSISTANT: %s`,
		userText, agentText,
	)
}

// ParseResponse tolerates chatty models: it takes the first JSON array found
// in the content, fenced or not.
func ParseResponse(content string) ([]core.ExtractedFact, error) {
	jsonStr := extractJSONArray(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var facts []core.ExtractedFact
	if err := json.Unmarshal([]byte(jsonStr), &facts); err != nil {
		return nil, fmt.Errorf("unmarshal facts: %w", err)
	}

	// Drop empty entries rather than failing the turn.
	kept := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Text) != "" {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content[start:], "]")
	if end == -1 {
		return ""
	}

	return content[start : start+end+1]
}
