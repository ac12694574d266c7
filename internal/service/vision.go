package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/prompts"
)

// VisionService obtains AI analysis of a product image from a vision model.
// The pipeline treats it as optional: when unavailable, AI-derived cropping
// is skipped.
type VisionService struct {
	client   *resty.Client
	model    string
	apiKey   string
	endpoint string
	enabled  bool
}

// VisionConfig holds configuration for the vision service.
type VisionConfig struct {
	Enabled bool
	Model   string
	APIKey  string
	BaseURL string
}

// NewVisionService creates a new vision analysis client.
func NewVisionService(cfg *VisionConfig) *VisionService {
	if cfg == nil || !cfg.Enabled || cfg.APIKey == "" {
		return &VisionService{enabled: false}
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Set timeout to prevent hanging requests
	client.SetTimeout(60 * time.Second)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	endpoint := baseURL + "/chat/completions"

	return &VisionService{
		client:   client,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		enabled:  true,
	}
}

// Available reports whether the analysis provider is configured.
func (s *VisionService) Available() bool {
	return s != nil && s.enabled
}

// GetModel returns the model name being used.
func (s *VisionService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// BuildPrompt returns the user instruction sent to the provider for the given
// analysis context. Exposed so callers can inspect the shaping.
func (s *VisionService) BuildPrompt(actx *domain.AnalysisContext) string {
	return prompts.BuildAnalysisPrompt(actx)
}

// Analyze runs one analysis pass over the image and parses the provider's
// answer into an AIAnalysisResult. Provider and network failures come back as
// recoverable AI_ANALYSIS_ERRORs; an unparseable answer degrades to a fallback
// result instead of failing.
func (s *VisionService) Analyze(ctx context.Context, imageData []byte, mimeType string, actx *domain.AnalysisContext) (*domain.AIAnalysisResult, error) {
	if !s.Available() {
		return nil, domain.NewError(domain.CodeAIAnalysis, "vision service not configured", true, nil)
	}

	base64Image := base64.StdEncoding.EncodeToString(imageData)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64Image)

	req := openAIRequest{
		Model: s.model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: prompts.AnalysisSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{
						Type: "text",
						Text: s.BuildPrompt(actx),
					},
					openAIImageContent{
						Type: "image_url",
						ImageURL: openAIImageURL{
							URL:    dataURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens: 600,
	}

	var resp openAIResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return nil, wrapAnalysisErr("failed to call vision API", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, wrapAnalysisErr("vision API returned error", errors.New(errorMsg))
	}

	if resp.Error != nil {
		return nil, wrapAnalysisErr("vision API error", errors.New(resp.Error.Message))
	}

	if len(resp.Choices) == 0 {
		return nil, wrapAnalysisErr("vision API returned no choices", nil)
	}

	return parseAnalysisResponse(resp.Choices[0].Message.Content), nil
}

// wrapAnalysisErr wraps a provider failure as a recoverable analysis error,
// unless it already carries a domain code.
func wrapAnalysisErr(message string, cause error) error {
	var de *domain.Error
	if errors.As(cause, &de) {
		return cause
	}
	return domain.NewError(domain.CodeAIAnalysis, message, true, cause)
}

// parseAnalysisResponse strips code fences and parses the provider answer.
// On parse failure it returns a degraded result rather than an error: empty
// detected objects, quality score 50, and one low-severity issue flagging the
// failure, so the pipeline continues without AI guidance.
func parseAnalysisResponse(content string) *domain.AIAnalysisResult {
	cleaned := stripCodeFences(content)

	var result domain.AIAnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return &domain.AIAnalysisResult{
			DetectedObjects: []string{},
			QualityScore:    50,
			Degraded:        true,
			Issues: []domain.AnalysisIssue{
				{
					Type:     "analysis_parse_failure",
					Severity: "low",
					Message:  "analysis response could not be parsed",
				},
			},
		}
	}

	if result.DetectedObjects == nil {
		result.DetectedObjects = []string{}
	}
	if result.QualityScore < 0 {
		result.QualityScore = 0
	}
	if result.QualityScore > 100 {
		result.QualityScore = 100
	}
	if c := result.SuggestedCrop; c != nil && (c.Width <= 0 || c.Height <= 0) {
		result.SuggestedCrop = nil
	}

	return &result
}

// stripCodeFences removes a surrounding markdown code fence, with or without
// a language marker.
func stripCodeFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		// Drop the language marker line (e.g. "json").
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
