package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RichardoC/alfred/internal/executor"
	"github.com/RichardoC/alfred/internal/voice"
)

var sayText string

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Listen for one spoken request and print the transcript",
	Long: `Greets you, records a short clip with the configured recorder, and prints
what it understood. With --say, reads the given text aloud instead.

The transcript is not sent to the command generator.`,
	Args: cobra.NoArgs,
	RunE: runVoice,
}

func init() {
	voiceCmd.Flags().StringVar(&sayText, "say", "", "Speak this text and exit")
}

func runVoice(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := voice.NewOpenAIClient(cfg.Voice)
	if err != nil {
		return err
	}

	runner := executor.New(executor.Config{Timeout: cfg.Voice.Timeout}, logger)
	assistant := voice.New(client, client, runner, voice.Options{
		RecordCmd:    cfg.Voice.RecordCmd,
		PlayCmd:      cfg.Voice.PlayCmd,
		Greeting:     cfg.Voice.Greeting,
		SkipGreeting: cfg.Voice.SkipGreeting,
	}, logger)

	if sayText != "" {
		return assistant.Speak(ctx, sayText)
	}

	text, err := assistant.Listen(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
