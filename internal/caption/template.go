package caption

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// toneTemplates заготовки текста по тональности. Плейсхолдер {topic}
// заменяется темой запроса.
var toneTemplates = map[domain.Tone][]string{
	domain.ToneCasual: {
		"Just vibing with {topic} today ✨",
		"Okay but can we talk about {topic}?",
		"POV: you discovered {topic} and everything changed",
		"Not me obsessing over {topic} again",
		"{topic} hits different today",
	},
	domain.ToneProfessional: {
		"Exploring the impact of {topic} on our industry.",
		"Three lessons we learned from {topic}.",
		"Why {topic} should be on your radar this quarter.",
		"A closer look at {topic} and what it means for your team.",
		"How we approach {topic}, and what we'd do differently.",
	},
	domain.ToneFunny: {
		"Me pretending to understand {topic} 🤡",
		"{topic}? In this economy?",
		"Day 47 of thinking about {topic} instead of sleeping",
		"Nobody: ... Me: {topic}",
		"Warning: excessive {topic} content ahead",
	},
	domain.ToneInspiring: {
		"Every journey with {topic} starts with a single step.",
		"{topic} taught me that growth lives outside the comfort zone.",
		"Dream big. Start small. Begin with {topic}.",
		"The best time to embrace {topic} was yesterday. The second best is now.",
		"Let {topic} be your reminder that progress beats perfection.",
	},
}

// TemplateGenerator шаблонный генератор подписей. Работает без внешних
// сервисов и служит fallback-ом при недоступности LLM.
type TemplateGenerator struct {
	log *logger.Logger
}

// NewTemplateGenerator создает новый шаблонный генератор
func NewTemplateGenerator(log *logger.Logger) *TemplateGenerator {
	return &TemplateGenerator{log: log}
}

// Generate собирает варианты подписей подстановкой темы в заготовки
func (g *TemplateGenerator) Generate(ctx context.Context, req domain.CaptionRequest, tier domain.AITier) ([]domain.Caption, error) {
	if req.Topic == "" {
		return nil, domain.ErrInvalidInput
	}

	tone := req.Tone
	if _, ok := toneTemplates[tone]; !ok {
		tone = domain.ToneCasual
	}

	templates := toneTemplates[tone]
	variants := normalizeVariants(req.Variants)
	hashtags := buildHashtags(req.Topic, req.Keywords)
	limit := domain.PlatformCharLimit(req.Platform)

	captions := make([]domain.Caption, 0, variants)
	for i := 0; i < variants; i++ {
		text := strings.ReplaceAll(templates[i%len(templates)], "{topic}", req.Topic)

		if req.CTA != "" {
			text = text + "\n\n" + req.CTA
		}

		text = truncateToLimit(text, limit)

		captions = append(captions, domain.Caption{
			Text:      text,
			Hashtags:  hashtags,
			CharCount: utf8.RuneCountInString(text),
		})
	}

	g.log.Debugw("Captions generated from templates", "platform", req.Platform, "variants", len(captions))
	return captions, nil
}

// buildHashtags собирает хэштеги из темы и ключевых слов
func buildHashtags(topic string, keywords []string) []string {
	seen := make(map[string]struct{})
	var tags []string

	add := func(raw string) {
		tag := hashtagify(raw)
		if tag == "" {
			return
		}
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	add(topic)
	for _, kw := range keywords {
		add(kw)
	}

	return tags
}

// hashtagify превращает фразу в хэштег: без пробелов и пунктуации
func hashtagify(raw string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "#" + sb.String()
}

// truncateToLimit обрезает текст до лимита платформы по рунам
func truncateToLimit(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	if limit > 1 {
		return fmt.Sprintf("%s…", string(runes[:limit-1]))
	}
	return string(runes[:limit])
}
