// Package grader scores a completed conversation transcript against six
// speaking criteria using an OpenAI-compatible chat completion endpoint.
package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lingora/lingora/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse is returned when the grading service response is not
// parseable as the expected shape. The caller must treat this as a hard
// failure; scores are never silently defaulted to zero.
var ErrMalformedResponse = errors.New("malformed grading response")

// maxTranscriptRunes bounds the transcript text embedded in the grading
// prompt. A 5-7 minute conversation stays far below this.
const maxTranscriptRunes = 20000

var directiveTagRegex = regexp.MustCompile(`(?i)</?\s*(system-instructions|grading-rules)\b[^>]*>`)

// Input carries everything the grading prompt needs.
type Input struct {
	Transcript     string
	PassageContent string
	Questions      []string // question texts in presentation order
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new grading client. baseURL may be empty for the default
// OpenAI endpoint.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("grading endpoint unreachable: %w", err)
	}
	return nil
}

// Grade submits the transcript for evaluation and returns the parsed result.
// A response missing required fields or outside the 0-100 score range fails
// with ErrMalformedResponse.
func (c *Client) Grade(ctx context.Context, in Input) (model.Evaluation, error) {
	prompt := BuildPrompt(in)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are an expert English language evaluator. " +
					"Provide detailed, constructive feedback in valid JSON format only.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Evaluation{}, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("grading response", "raw", raw)

	return ParseEvaluation(raw)
}

// BuildPrompt renders the grading prompt from the transcript, passage content,
// and ordered question texts.
func BuildPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are an expert English language evaluator. Evaluate the following conversation transcript where a student discussed a reading passage.\n\n")

	sb.WriteString("PASSAGE:\n" + in.PassageContent + "\n\n")

	sb.WriteString("QUESTIONS ASKED:\n")
	if len(in.Questions) == 0 {
		sb.WriteString("No specific questions\n")
	} else {
		for _, q := range in.Questions {
			sb.WriteString("- " + q + "\n")
		}
	}
	sb.WriteString("\n")

	sb.WriteString("CONVERSATION TRANSCRIPT:\n" + sanitizeTranscript(in.Transcript) + "\n\n")

	sb.WriteString("Evaluate the student's performance on the following criteria (score each from 0-100):\n\n")
	sb.WriteString("1. COMPREHENSION: How well did the student understand the passage content?\n")
	sb.WriteString("2. FLUENCY: How smoothly and naturally did the student speak?\n")
	sb.WriteString("3. LEXICAL RESOURCE: Vocabulary range and appropriate word choice\n")
	sb.WriteString("4. GRAMMATICAL ACCURACY: Correct use of grammar structures\n")
	sb.WriteString("5. PRONUNCIATION: Clarity and correctness of pronunciation (infer from transcript quality)\n")
	sb.WriteString("6. RESPONSIVENESS: How well did the student answer questions and stay on topic?\n\n")

	sb.WriteString("Provide your response in the following JSON format:\n")
	sb.WriteString(`{
  "comprehensionScore": <0-100>,
  "fluencyScore": <0-100>,
  "lexicalScore": <0-100>,
  "grammaticalScore": <0-100>,
  "pronunciationScore": <0-100>,
  "responsivenessScore": <0-100>,
  "overallScore": <0-100>,
  "comprehensionFeedback": "<specific feedback>",
  "fluencyFeedback": "<specific feedback>",
  "lexicalFeedback": "<specific feedback>",
  "grammaticalFeedback": "<specific feedback>",
  "pronunciationFeedback": "<specific feedback>",
  "responsivenessFeedback": "<specific feedback>",
  "overallFeedback": "<general summary>"
}`)
	sb.WriteString("\n\nBe specific and constructive in your feedback. Focus on what the student did well and areas for improvement.\n")

	return sb.String()
}

// evaluationPayload mirrors the expected grading response with pointer fields
// so that absent keys are distinguishable from zero values.
type evaluationPayload struct {
	ComprehensionScore  *int `json:"comprehensionScore"`
	FluencyScore        *int `json:"fluencyScore"`
	LexicalScore        *int `json:"lexicalScore"`
	GrammaticalScore    *int `json:"grammaticalScore"`
	PronunciationScore  *int `json:"pronunciationScore"`
	ResponsivenessScore *int `json:"responsivenessScore"`
	OverallScore        *int `json:"overallScore"`

	ComprehensionFeedback  *string `json:"comprehensionFeedback"`
	FluencyFeedback        *string `json:"fluencyFeedback"`
	LexicalFeedback        *string `json:"lexicalFeedback"`
	GrammaticalFeedback    *string `json:"grammaticalFeedback"`
	PronunciationFeedback  *string `json:"pronunciationFeedback"`
	ResponsivenessFeedback *string `json:"responsivenessFeedback"`
	OverallFeedback        *string `json:"overallFeedback"`
}

// ParseEvaluation decodes and validates a grading response body.
func ParseEvaluation(raw string) (model.Evaluation, error) {
	var payload evaluationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return model.Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	scores := map[string]*int{
		"comprehensionScore":  payload.ComprehensionScore,
		"fluencyScore":        payload.FluencyScore,
		"lexicalScore":        payload.LexicalScore,
		"grammaticalScore":    payload.GrammaticalScore,
		"pronunciationScore":  payload.PronunciationScore,
		"responsivenessScore": payload.ResponsivenessScore,
		"overallScore":        payload.OverallScore,
	}
	for name, v := range scores {
		if v == nil {
			return model.Evaluation{}, fmt.Errorf("%w: missing field %s", ErrMalformedResponse, name)
		}
		if *v < 0 || *v > 100 {
			return model.Evaluation{}, fmt.Errorf("%w: %s out of range: %d", ErrMalformedResponse, name, *v)
		}
	}

	feedbacks := map[string]*string{
		"comprehensionFeedback":  payload.ComprehensionFeedback,
		"fluencyFeedback":        payload.FluencyFeedback,
		"lexicalFeedback":        payload.LexicalFeedback,
		"grammaticalFeedback":    payload.GrammaticalFeedback,
		"pronunciationFeedback":  payload.PronunciationFeedback,
		"responsivenessFeedback": payload.ResponsivenessFeedback,
	}
	for name, v := range feedbacks {
		if v == nil {
			return model.Evaluation{}, fmt.Errorf("%w: missing field %s", ErrMalformedResponse, name)
		}
	}

	eval := model.Evaluation{
		ComprehensionScore:  *payload.ComprehensionScore,
		FluencyScore:        *payload.FluencyScore,
		LexicalScore:        *payload.LexicalScore,
		GrammaticalScore:    *payload.GrammaticalScore,
		PronunciationScore:  *payload.PronunciationScore,
		ResponsivenessScore: *payload.ResponsivenessScore,
		OverallScore:        *payload.OverallScore,

		ComprehensionFeedback:  *payload.ComprehensionFeedback,
		FluencyFeedback:        *payload.FluencyFeedback,
		LexicalFeedback:        *payload.LexicalFeedback,
		GrammaticalFeedback:    *payload.GrammaticalFeedback,
		PronunciationFeedback:  *payload.PronunciationFeedback,
		ResponsivenessFeedback: *payload.ResponsivenessFeedback,
	}
	if payload.OverallFeedback != nil {
		eval.OverallFeedback = *payload.OverallFeedback
	}
	return eval, nil
}

// sanitizeTranscript strips directive-looking tags a speaker could have
// smuggled into the conversation and truncates oversized transcripts.
func sanitizeTranscript(transcript string) string {
	transcript = directiveTagRegex.ReplaceAllString(transcript, "")
	transcript = strings.TrimSpace(transcript)

	if transcript == "" {
		return "[No conversation recorded]"
	}

	if utf8.RuneCountInString(transcript) > maxTranscriptRunes {
		runes := []rune(transcript)
		transcript = string(runes[:maxTranscriptRunes]) + "\n\n[Transcript truncated due to length]"
	}

	return transcript
}
