package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/RichardoC/alfred/internal/config"
)

const promptTemplate = "You are a Windows command generator. Given a natural language task, " +
	"return ONLY a safe PowerShell command that accomplishes it. " +
	"If risky or requires confirmation, return a no-op echo with instructions.\n\n" +
	"Task: %s\nCommand:"

// ProviderError wraps a failure reported by the text-generation provider.
// Its message is the provider's own.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// Service turns a natural-language task into a single shell command.
type Service struct {
	llm      llms.Model
	provider string
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a Service for the configured provider.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Service, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "gemini":
		model, err = NewGemini(ctx, cfg.APIKey, cfg.Model)
	case "openai":
		model, err = newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg.Provider, cfg.Timeout, logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, provider string, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: model, provider: provider, timeout: timeout, logger: logger}
}

func newOpenAI(cfg config.LLMConfig) (llms.Model, error) {
	token := cfg.APIKey
	if token == "" && cfg.BaseURL != "" {
		// Local OpenAI-compatible servers such as Ollama ignore the token.
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(opts...)
}

// BuildPrompt wraps task in the fixed command-generation instruction.
func BuildPrompt(task string) string {
	return fmt.Sprintf(promptTemplate, task)
}

// GenerateCommand asks the model for a command accomplishing task. The reply
// is returned with surrounding whitespace trimmed and is otherwise
// untouched; it may be empty. Provider failures are not retried.
func (s *Service) GenerateCommand(ctx context.Context, task string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, BuildPrompt(task))
	if err != nil {
		s.logger.Error("Failed to generate command",
			zap.String("provider", s.provider),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", &ProviderError{Provider: s.provider, Err: err}
	}

	command := strings.TrimSpace(completion)
	s.logger.Debug("Generated command",
		zap.String("provider", s.provider),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("length", len(command)))
	return command, nil
}
