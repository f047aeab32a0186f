// Package assistant wires the command generator, the conversation store, the
// safety gate and the executor into the generate and execute paths.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/alfred/internal/executor"
	"github.com/RichardoC/alfred/internal/metrics"
	"github.com/RichardoC/alfred/internal/models"
	"github.com/RichardoC/alfred/internal/safety"
)

var (
	ErrTextRequired    = errors.New("text is required")
	ErrCommandRequired = errors.New("command is required")
)

// RejectedError is returned when a command fails the safety gate.
type RejectedError struct {
	Command string
	Allowed []string
}

func (e *RejectedError) Error() string {
	return "Command not allowed for safety. Use echo or other safe commands."
}

// Store is the part of the conversation store the generate path writes to.
type Store interface {
	ResolveConversation(ctx context.Context, id *int64, title string) (*models.Conversation, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
}

type Generator interface {
	GenerateCommand(ctx context.Context, task string) (string, error)
}

type Runner interface {
	Run(ctx context.Context, command string) (*executor.Result, error)
}

type Service struct {
	store     Store
	generator Generator
	gate      *safety.Gate
	runner    Runner
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewService(store Store, generator Generator, gate *safety.Gate, runner Runner, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		generator: generator,
		gate:      gate,
		runner:    runner,
		metrics:   m,
		logger:    logger,
	}
}

// GenerateResult is the outcome of a generate call.
type GenerateResult struct {
	Command        string `json:"command"`
	ConversationID int64  `json:"conversation_id"`
}

// Generate asks the model for a command, then records the turn: the
// conversation is resolved (or created) and a user and an assistant message
// are appended in that order. The writes are sequential and not rolled back
// if a later one fails.
func (s *Service) Generate(ctx context.Context, text string, conversationID *int64) (*GenerateResult, error) {
	if text == "" {
		return nil, ErrTextRequired
	}

	start := time.Now()
	command, err := s.generator.GenerateCommand(ctx, text)
	if s.metrics != nil {
		s.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.recordGeneration(false)
		return nil, err
	}

	conv, err := s.store.ResolveConversation(ctx, conversationID, models.DefaultTitle(text))
	if err != nil {
		s.recordGeneration(false)
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	userMsg := &models.Message{ConvID: conv.ID, Role: models.RoleUser, Content: text}
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		s.recordGeneration(false)
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	assistantMsg := &models.Message{ConvID: conv.ID, Role: models.RoleAssistant, Content: command}
	if err := s.store.SaveMessage(ctx, assistantMsg); err != nil {
		s.logger.Warn("Conversation left with an unanswered user message",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("message_id", userMsg.ID))
		s.recordGeneration(false)
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	s.recordGeneration(true)
	s.logger.Info("Generated command",
		zap.Int64("conversation_id", conv.ID),
		zap.Int("command_length", len(command)))
	return &GenerateResult{Command: command, ConversationID: conv.ID}, nil
}

// Allowed returns the allow-list the gate enforces.
func (s *Service) Allowed() []string {
	return s.gate.Allowed()
}

// Execute runs command if it passes the safety gate. A non-zero exit status
// is a successful result; executor.ErrTimeout is returned on timeout.
func (s *Service) Execute(ctx context.Context, command string) (*executor.Result, error) {
	if command == "" {
		return nil, ErrCommandRequired
	}

	if !s.gate.IsSafe(command) {
		s.recordExecution(metrics.OutcomeRejected)
		s.logger.Info("Command rejected by safety gate", zap.String("verb", safety.FirstToken(command)))
		return nil, &RejectedError{Command: command, Allowed: s.gate.Allowed()}
	}

	result, err := s.runner.Run(ctx, command)
	if err != nil {
		if errors.Is(err, executor.ErrTimeout) {
			s.recordExecution(metrics.OutcomeTimeout)
		} else {
			s.recordExecution(metrics.OutcomeError)
		}
		return nil, err
	}

	s.recordExecution(metrics.OutcomeCompleted)
	if s.metrics != nil {
		s.metrics.ExecutionDuration.Observe(result.Duration.Seconds())
	}
	return result, nil
}

func (s *Service) recordGeneration(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordGeneration(ok)
	}
}

func (s *Service) recordExecution(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordExecution(outcome)
	}
}
