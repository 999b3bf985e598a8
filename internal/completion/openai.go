// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package completion

import (
	"context"
	"fmt"
	"sort"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// OpenAIConfig holds the OpenAI completer configuration.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, useful for testing against a mock server
}

// OpenAI implements Completer using the OpenAI Chat Completions API.
type OpenAI struct {
	client openaisdk.Client
	model  string
}

const defaultModel = "gpt-4.1-mini"

// NewOpenAI creates an OpenAI-backed completer. Returns an error if the
// API key is missing.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, finerr.New(finerr.CodeConfigValidateInvalidValue, "openai completer: missing api_key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &OpenAI{client: openaisdk.NewClient(opts...), model: model}, nil
}

const systemPrompt = "You are a financial analysis assistant. Write clear, factual commentary. " +
	"Never promise returns, never present predictions as facts, and always note that " +
	"investments involve risk."

func (o *OpenAI) Complete(ctx context.Context, prompt string, cc map[string]any) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(renderPrompt(prompt, cc)),
		},
	})
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodeCompletionUpstreamFailure, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", finerr.New(finerr.CodeCompletionUpstreamFailure, "openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// renderPrompt appends the stage context to the prompt in a stable order.
func renderPrompt(prompt string, cc map[string]any) string {
	if len(cc) == 0 {
		return prompt
	}

	keys := make([]string, 0, len(cc))
	for k := range cc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := prompt + "\n\nContext:"
	for _, k := range keys {
		out += fmt.Sprintf("\n- %s: %v", k, cc[k])
	}
	return out
}
