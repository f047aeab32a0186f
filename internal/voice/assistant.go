// Package voice is the standalone speech utility: it records a spoken request,
// transcribes it, and reads text back through text-to-speech. It is not
// connected to the HTTP surface.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardoC/alfred/internal/executor"
)

var (
	ErrEmptyText          = errors.New("empty text")
	ErrUnrecognized       = errors.New("speech not recognized")
	ErrServiceUnreachable = errors.New("speech service unreachable")
)

const (
	unrecognizedReply = "Sorry, I could not understand what you said."
	unreachableReply  = "Sorry, I am having trouble connecting to the speech service."
)

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Runner runs the recorder and player commands.
type Runner interface {
	Exec(ctx context.Context, argv []string) (*executor.Result, error)
}

// Options configures an Assistant. RecordCmd and PlayCmd get the audio file
// path appended as their last argument.
type Options struct {
	RecordCmd    []string
	PlayCmd      []string
	Greeting     string
	SkipGreeting bool
	TempDir      string
}

type Assistant struct {
	stt    Transcriber
	tts    Synthesizer
	runner Runner
	opts   Options
	logger *zap.Logger
}

func New(stt Transcriber, tts Synthesizer, runner Runner, opts Options, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{stt: stt, tts: tts, runner: runner, opts: opts, logger: logger}
}

// Listen greets the user, records one utterance and returns its transcript.
func (a *Assistant) Listen(ctx context.Context) (string, error) {
	if !a.opts.SkipGreeting && a.opts.Greeting != "" {
		if err := a.Speak(ctx, a.opts.Greeting); err != nil {
			a.logger.Warn("Failed to play greeting", zap.Error(err))
		}
	}

	path, err := a.tempFile("alfred-in-*.wav")
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	if err := a.run(ctx, a.opts.RecordCmd, path); err != nil {
		return "", fmt.Errorf("failed to record audio: %w", err)
	}

	text, err := a.stt.Transcribe(ctx, path)
	if err != nil {
		a.logger.Error("Transcription failed", zap.Error(err))
		a.reply(ctx, unreachableReply)
		return "", fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		a.reply(ctx, unrecognizedReply)
		return "", ErrUnrecognized
	}

	a.logger.Info("Recognized speech", zap.Int("length", len(text)))
	return text, nil
}

// Speak synthesizes text and blocks until playback finishes.
func (a *Assistant) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	audio, err := a.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}

	path, err := a.tempFile("alfred-out-*.wav")
	if err != nil {
		return err
	}
	defer os.Remove(path)

	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return fmt.Errorf("failed to write speech audio: %w", err)
	}

	if err := a.run(ctx, a.opts.PlayCmd, path); err != nil {
		return fmt.Errorf("failed to play audio: %w", err)
	}
	return nil
}

func (a *Assistant) reply(ctx context.Context, text string) {
	if err := a.Speak(ctx, text); err != nil {
		a.logger.Warn("Failed to speak reply", zap.String("reply", text), zap.Error(err))
	}
}

func (a *Assistant) run(ctx context.Context, base []string, path string) error {
	if len(base) == 0 {
		return errors.New("no command configured")
	}
	argv := append(append([]string{}, base...), path)

	res, err := a.runner.Exec(ctx, argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with status %d: %s",
			executor.CommandString(argv), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (a *Assistant) tempFile(pattern string) (string, error) {
	f, err := os.CreateTemp(a.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create audio file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
