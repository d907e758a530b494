package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const summarizePrompt = `You are an assistant that writes short summaries of YouTube videos for an email newsletter.
The user gives you the title and the transcript of a video.
Answer with a JSON object with exactly two fields:
- "synopsis": one paragraph of at most %d words that says what the video is about.
- "key_points": a list of 1 to %d short key points, in the order they come up in the video.
Do not add introductory phrases like "This video is about". Do not add anything outside the JSON object.`

// OpenAIProvider summarizes with a chat completion model. Groq is served
// through the same client with its OpenAI compatible base url.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

func NewOpenAIProvider(name, apiKey, baseURL, model string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(config),
	}
}

func (op *OpenAIProvider) Name() string {
	return op.name
}

func (op *OpenAIProvider) GenerateSummary(ctx context.Context, text string, c Constraints) (string, []string, error) {
	resp, err := op.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       op.model,
			Temperature: 0.3,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: fmt.Sprintf(summarizePrompt, c.TargetWords, c.MaxKeyPoints),
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
		})
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("malformed response: no choices")
	}

	return parseSummary(resp.Choices[len(resp.Choices)-1].Message.Content)
}

type summaryResponse struct {
	Synopsis  string   `json:"synopsis"`
	KeyPoints []string `json:"key_points"`
}

func parseSummary(content string) (string, []string, error) {
	var resp summaryResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &resp); err != nil {
		return "", nil, fmt.Errorf("malformed response: %w", err)
	}

	return resp.Synopsis, resp.KeyPoints, nil
}

// stripFences removes a markdown code fence around a JSON answer.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[i+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}
