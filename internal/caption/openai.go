package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// OpenAIGenerator генератор подписей поверх chat-completions API.
// При любой ошибке LLM управление передается fallback-генератору:
// запрос пользователя не должен падать из-за недоступности модели.
type OpenAIGenerator struct {
	apiKey   string
	model    string
	baseURL  string
	http     *http.Client
	fallback Generator
	log      *logger.Logger
}

// NewOpenAIGenerator создает новый LLM-генератор с fallback-ом
func NewOpenAIGenerator(apiKey, model, baseURL string, fallback Generator, log *logger.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		fallback: fallback,
		log:      log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate запрашивает варианты у LLM; при ошибке уходит в fallback
func (g *OpenAIGenerator) Generate(ctx context.Context, req domain.CaptionRequest, tier domain.AITier) ([]domain.Caption, error) {
	if g.apiKey == "" {
		g.log.Debugw("OpenAI API key not configured, using fallback generator")
		return g.fallback.Generate(ctx, req, tier)
	}

	captions, err := g.generateFromAPI(ctx, req, tier)
	if err != nil {
		g.log.Warnw("LLM generation failed, falling back to templates", "error", err, "platform", req.Platform)
		return g.fallback.Generate(ctx, req, tier)
	}

	return captions, nil
}

// generateFromAPI выполняет запрос к chat-completions с повторами
func (g *OpenAIGenerator) generateFromAPI(ctx context.Context, req domain.CaptionRequest, tier domain.AITier) ([]domain.Caption, error) {
	variants := normalizeVariants(req.Variants)

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(tier)},
			{Role: "user", Content: userPrompt(req, variants)},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	var content string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("openai: retriable status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("openai: unexpected status %d", resp.StatusCode))
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("openai: failed to decode response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("openai: empty choices in response"))
		}

		content = parsed.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	captions := parseCaptions(content, req)
	if len(captions) == 0 {
		return nil, fmt.Errorf("openai: no captions parsed from response")
	}

	return captions, nil
}

// systemPrompt инструкция модели; premium-тариф получает более
// развернутый креативный промпт
func systemPrompt(tier domain.AITier) string {
	base := "You are a social media caption writer. Return each caption on its own line, prefixed with a dash. Do not number them. Include relevant hashtags at the end of each caption."
	if tier == domain.AITierPremium {
		return base + " Write distinctive, scroll-stopping captions with a strong hook in the first line."
	}
	return base
}

// userPrompt собирает пользовательский промпт из запроса
func userPrompt(req domain.CaptionRequest, variants int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write %d captions for %s about: %s.", variants, req.Platform, req.Topic)
	if req.Tone != "" {
		fmt.Fprintf(&sb, " Tone: %s.", req.Tone)
	}
	if req.Length != "" {
		fmt.Fprintf(&sb, " Length: %s.", req.Length)
	}
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&sb, " Include keywords: %s.", strings.Join(req.Keywords, ", "))
	}
	if req.CTA != "" {
		fmt.Fprintf(&sb, " End with this call to action: %s.", req.CTA)
	}
	fmt.Fprintf(&sb, " Stay under %d characters per caption.", domain.PlatformCharLimit(req.Platform))
	return sb.String()
}

// parseCaptions разбирает ответ модели на варианты подписей
func parseCaptions(content string, req domain.CaptionRequest) []domain.Caption {
	limit := domain.PlatformCharLimit(req.Platform)
	var captions []domain.Caption

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		text := truncateToLimit(line, limit)
		captions = append(captions, domain.Caption{
			Text:      text,
			Hashtags:  extractHashtags(text),
			CharCount: utf8.RuneCountInString(text),
		})

		if len(captions) == domain.MaxCaptionVariants {
			break
		}
	}

	return captions
}

// extractHashtags вынимает хэштеги из текста подписи
func extractHashtags(text string) []string {
	var tags []string
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			tags = append(tags, strings.TrimRight(word, ".,!?"))
		}
	}
	return tags
}
