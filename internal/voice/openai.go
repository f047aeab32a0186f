package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openaiapi "github.com/sashabaranov/go-openai"

	"github.com/RichardoC/alfred/internal/config"
)

// OpenAIClient speaks to the OpenAI audio endpoints.
type OpenAIClient struct {
	api      *openaiapi.Client
	sttModel string
	ttsModel string
	ttsVoice string
}

func NewOpenAIClient(cfg config.VoiceConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("voice: OPENAI_API_KEY is not set")
	}

	apiCfg := openaiapi.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		api:      openaiapi.NewClientWithConfig(apiCfg),
		sttModel: cfg.STTModel,
		ttsModel: cfg.TTSModel,
		ttsVoice: cfg.TTSVoice,
	}, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openaiapi.AudioRequest{
		Model:    c.sttModel,
		FilePath: path,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openaiapi.CreateSpeechRequest{
		Model:          openaiapi.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openaiapi.SpeechVoice(c.ttsVoice),
		ResponseFormat: openaiapi.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	return data, nil
}
