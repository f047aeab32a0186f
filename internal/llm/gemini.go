package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// GeminiModel adapts the Google GenAI client to llms.Model.
type GeminiModel struct {
	client *genai.Client
	model  string
}

var _ llms.Model = (*GeminiModel)(nil)

// NewGemini creates a Gemini-backed model.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}

	return newGemini(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model)
}

func newGemini(ctx context.Context, cc *genai.ClientConfig, model string) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

// GenerateContent sends messages to Gemini and returns the first candidate.
// System messages become the system instruction.
func (g *GeminiModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	contents, system, err := toGenAIContents(messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if opts.Temperature > 0 {
		temp := float32(opts.Temperature)
		cfg.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, err
	}

	choice := &llms.ContentChoice{Content: resp.Text()}
	if len(resp.Candidates) > 0 {
		choice.StopReason = string(resp.Candidates[0].FinishReason)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// Call implements the single-prompt half of llms.Model.
func (g *GeminiModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

func toGenAIContents(messages []llms.MessageContent) ([]*genai.Content, *genai.Content, error) {
	var (
		contents []*genai.Content
		system   *genai.Content
	)
	for _, m := range messages {
		var text strings.Builder
		for _, part := range m.Parts {
			tc, ok := part.(llms.TextContent)
			if !ok {
				return nil, nil, fmt.Errorf("unsupported content part %T", part)
			}
			text.WriteString(tc.Text)
		}

		switch m.Role {
		case llms.ChatMessageTypeSystem:
			system = genai.NewContentFromText(text.String(), genai.RoleUser)
		case llms.ChatMessageTypeAI:
			contents = append(contents, genai.NewContentFromText(text.String(), genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text.String(), genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("no content to send")
	}
	return contents, system, nil
}
