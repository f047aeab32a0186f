package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"github.com/RichardoC/alfred/internal/config"
)

// fakeModel records prompts and replays a canned reply.
type fakeModel struct {
	reply    string
	err      error
	prompts  []string
	deadline bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	_, f.deadline = ctx.Deadline()
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("create a folder named Reports on Desktop")

	assert.True(t, strings.HasPrefix(prompt, "You are a Windows command generator."))
	assert.Contains(t, prompt, "return ONLY a safe PowerShell command")
	assert.Contains(t, prompt, "no-op echo")
	assert.True(t, strings.HasSuffix(prompt, "Task: create a folder named Reports on Desktop\nCommand:"))
}

func TestGenerateCommand_TrimsReply(t *testing.T) {
	model := &fakeModel{reply: "  \n New-Item -ItemType Directory Reports \n"}
	svc := NewWithModel(model, "fake", 5*time.Second, zaptest.NewLogger(t))

	cmd, err := svc.GenerateCommand(context.Background(), "list files")
	require.NoError(t, err)

	assert.Equal(t, "New-Item -ItemType Directory Reports", cmd)
	require.Len(t, model.prompts, 1)
	assert.Equal(t, BuildPrompt("list files"), model.prompts[0])
	assert.True(t, model.deadline, "a timeout is applied to the provider call")
}

func TestGenerateCommand_EmptyReply(t *testing.T) {
	svc := NewWithModel(&fakeModel{reply: "   "}, "fake", 0, nil)

	cmd, err := svc.GenerateCommand(context.Background(), "do nothing")
	require.NoError(t, err)
	assert.Equal(t, "", cmd)
}

func TestGenerateCommand_ProviderError(t *testing.T) {
	model := &fakeModel{err: errors.New("429 Too Many Requests: quota exceeded")}
	svc := NewWithModel(model, "gemini", time.Second, zaptest.NewLogger(t))

	_, err := svc.GenerateCommand(context.Background(), "list files")
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "gemini", perr.Provider)
	assert.Equal(t, "429 Too Many Requests: quota exceeded", err.Error(), "provider message passes through")
	assert.Len(t, model.prompts, 1, "no retry")
}

func TestNew_Providers(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, config.LLMConfig{Provider: "anthropic"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.LLMConfig{Provider: "gemini", Model: "gemini-1.5-flash"}, nil)
	assert.Error(t, err, "gemini requires a key")

	svc, err := New(ctx, config.LLMConfig{
		Provider: "openai",
		BaseURL:  "http://localhost:11434/v1/",
		Model:    "llama3.1:8b",
		Timeout:  time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "openai", svc.provider)
}
