package services

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ann82/havenline/models"
)

const systemPrompt = "You are the voice of a confidential support line for people " +
	"seeking shelter and related services. Be warm, calm, and brief: answers are " +
	"read aloud over the phone, so keep them to two or three short sentences. " +
	"Never ask for personally identifying details, and if the caller may be in " +
	"immediate danger, remind them to call 911."

const summaryPrompt = "Summarize this support call in two or three sentences for a " +
	"follow-up text message to the caller. Include any resources that were " +
	"mentioned, with phone numbers if present. Do not include anything sensitive " +
	"beyond what the caller already discussed."

// OpenAIBackend answers conversational queries with chat completions.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a language-model backend. An empty model selects
// gpt-4o-mini.
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIBackend{client: openai.NewClient(apiKey), model: model}
}

// Complete generates a reply to the conversation so far.
func (b *OpenAIBackend) Complete(ctx context.Context, convo []models.Turn, maxTokens int) (*models.CompletionResult, error) {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	}}
	for _, turn := range convo {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(turn.Role),
			Content: turn.Content,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     b.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	return &models.CompletionResult{
		Text:       text,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Summarize produces the follow-up message body for a finished call.
func (b *OpenAIBackend) Summarize(ctx context.Context, transcript []models.Turn) (string, error) {
	var sb strings.Builder
	for _, turn := range transcript {
		sb.WriteString(turn.Role + ": " + turn.Content + "\n")
	}
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func chatRole(role string) string {
	switch role {
	case "assistant", "agent":
		return openai.ChatMessageRoleAssistant
	case "system":
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
