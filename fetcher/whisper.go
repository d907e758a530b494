package fetcher

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const GroqBaseURL = "https://api.groq.com/openai/v1"

// Transcriber turns an audio file into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Whisper talks to any OpenAI compatible transcription endpoint. Groq
// serves the same API under its own base url.
type Whisper struct {
	name   string
	model  string
	client *openai.Client
}

func NewWhisper(name, apiKey, baseURL, model string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Whisper{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(config),
	}
}

func (w *Whisper) Name() string {
	return w.name
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("%s transcription: %w", w.name, err)
	}

	return resp.Text, nil
}
