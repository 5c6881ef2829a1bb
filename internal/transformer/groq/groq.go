// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_transformer_groq talks to the Groq OpenAI-compatible
// chat completion API for response generation and JSON intent analysis.
package internal_transformer_groq

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	internal_intent "github.com/rapidaai/sav-voicebot/internal/intent"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// FallbackReply is spoken when the language model is unreachable or times
// out, so the caller never hears dead air.
const FallbackReply = "Je suis désolé, pouvez-vous répéter ?"

// historyWindow bounds how many prior turns ride along with each request.
const historyWindow = 5

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a thin completion client. Safe for concurrent use.
type Client struct {
	logger commons.Logger
	cfg    *internal_config.Config
	client *resty.Client
}

// NewClient builds a client with the configured base URL, bearer key and
// per-request deadline.
func NewClient(logger commons.Logger, cfg *internal_config.Config) *Client {
	client := resty.New().
		SetBaseURL(cfg.GroqBaseURL).
		SetAuthToken(cfg.GroqAPIKey).
		SetTimeout(cfg.APITimeout())
	return &Client{logger: logger, cfg: cfg, client: client}
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("groq: request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		detail := ""
		if out.Error != nil {
			detail = ": " + out.Error.Message
		}
		return "", fmt.Errorf("groq: completion status %d%s", resp.StatusCode(), detail)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("groq: empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Complete generates the next bot reply from the system prompt, the most
// recent turns and the caller's words. Callers substitute FallbackReply
// when an error comes back.
func (c *Client) Complete(ctx context.Context, system string, history []Message, userText string) (string, error) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userText})

	return c.complete(ctx, chatRequest{
		Model:       c.cfg.GroqModel,
		Messages:    messages,
		Temperature: c.cfg.GroqTemperature,
		MaxTokens:   c.cfg.GroqMaxTokens,
	})
}

// Classify runs a JSON analysis template against the caller's words with
// a near-deterministic temperature. Malformed model output degrades to an
// unclear intent rather than an error; the error reports transport and
// API failures only.
func (c *Client) Classify(ctx context.Context, template, userText string) (internal_intent.Intent, error) {
	prompt := strings.ReplaceAll(template, "{user_text}", userText)

	raw, err := c.complete(ctx, chatRequest{
		Model:          c.cfg.IntentModel(),
		Messages:       []Message{{Role: RoleUser, Content: prompt}},
		Temperature:    c.cfg.IntentTemperature,
		MaxTokens:      c.cfg.IntentMaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return internal_intent.Unclear(), err
	}
	return internal_intent.FromJSON(raw), nil
}
