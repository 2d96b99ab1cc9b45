// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llmclient is the single OpenAI-compatible chat client the
// planner and orchestrator both depend on through their own narrow
// interfaces (GenerateResponse / GenerateJSON).
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"ledgerd/internal/orchestrator"
	"ledgerd/internal/planner"
	"ledgerd/pkg/utils"
)

// Client is an OpenAI Chat Completions-compatible client, usable against
// OpenAI itself or any compatible endpoint reached via BaseURL (Qwen,
// DashScope, a local proxy, ...).
type Client struct {
	model   string
	apiKey  string
	baseURL string
	http    *resty.Client
}

// New constructs a Client. baseURL defaults to the OpenAI endpoint, or
// OPENAI_BASE_URL if set, when empty.
func New(model, apiKey, baseURL string) *Client {
	model = utils.CoalesceString(model, "gpt-4o-mini")
	baseURL = utils.CoalesceString(baseURL, os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1")

	http := resty.New()
	http.SetTimeout(30 * time.Second)
	http.SetRetryCount(3)
	http.SetRetryWaitTime(1 * time.Second)
	http.SetRetryMaxWaitTime(5 * time.Second)

	return &Client{model: model, apiKey: apiKey, baseURL: baseURL, http: http}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, messages []chatMessage) (string, error) {
	request := map[string]any{
		"model":    c.model,
		"messages": messages,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("llmclient: request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("llmclient: non-200 response: %s", resp.String())
	}

	var result chatResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("llmclient: parsing response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llmclient: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

// GenerateResponse implements planner.LLMClient.
func (c *Client) GenerateResponse(messages []planner.Message) (string, error) {
	converted := make([]chatMessage, len(messages))
	for i, m := range messages {
		converted[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return c.chat(context.Background(), converted)
}

// GenerateJSON implements orchestrator.LLMClient: it prepends systemPrompt
// as a system message, calls the chat endpoint, and decodes the reply as
// an orchestrator.LLMOutput.
func (c *Client) GenerateJSON(messages []orchestrator.Message, systemPrompt string) (orchestrator.LLMOutput, error) {
	converted := make([]chatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		converted = append(converted, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		converted = append(converted, chatMessage{Role: m.Role, Content: m.Content})
	}

	reply, err := c.chat(context.Background(), converted)
	if err != nil {
		return orchestrator.LLMOutput{}, err
	}

	object, ok := extractBalancedJSON(reply)
	if !ok {
		return orchestrator.LLMOutput{}, fmt.Errorf("llmclient: no JSON object found in reply")
	}

	var out orchestrator.LLMOutput
	if err := json.Unmarshal([]byte(object), &out); err != nil {
		return orchestrator.LLMOutput{}, fmt.Errorf("llmclient: decoding structured reply: %w", err)
	}
	return out, nil
}

// extractBalancedJSON finds the first balanced {...} object in text,
// tolerating markdown fences or narration the model wraps the JSON in.
// Mirrors the planner's own extraction approach for the same noisy-reply
// problem.
func extractBalancedJSON(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		switch {
		case inString:
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
		case r == '"':
			inString = true
		case r == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case r == '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
