package domain

// Tone тональность подписи
type Tone string

const (
	ToneCasual       Tone = "casual"
	ToneProfessional Tone = "professional"
	ToneFunny        Tone = "funny"
	ToneInspiring    Tone = "inspiring"
)

// CaptionLength желаемая длина подписи
type CaptionLength string

const (
	CaptionLengthShort  CaptionLength = "short"
	CaptionLengthMedium CaptionLength = "medium"
	CaptionLengthLong   CaptionLength = "long"
)

// CaptionRequest структурированный запрос на генерацию подписей
type CaptionRequest struct {
	Platform Platform      `json:"platform" validate:"required"`
	Topic    string        `json:"topic" validate:"required"`
	Tone     Tone          `json:"tone,omitempty"`
	Length   CaptionLength `json:"length,omitempty"`
	Keywords []string      `json:"keywords,omitempty"`
	CTA      string        `json:"cta,omitempty"`
	Variants int           `json:"variants,omitempty"`
}

// Caption один сгенерированный вариант подписи
type Caption struct {
	Text      string   `json:"text"`
	Hashtags  []string `json:"hashtags"`
	CharCount int      `json:"char_count"`
}

// MaxCaptionVariants верхняя граница количества вариантов за один запрос
const MaxCaptionVariants = 5

// PlatformCharLimit максимальная длина подписи для платформы.
// Неизвестная платформа получает консервативный лимит Instagram.
func PlatformCharLimit(p Platform) int {
	switch p {
	case PlatformTwitter:
		return 280
	case PlatformTikTok:
		return 2200
	case PlatformInstagram:
		return 2200
	case PlatformLinkedIn:
		return 3000
	case PlatformFacebook:
		return 5000
	case PlatformYouTube:
		return 5000
	default:
		return 2200
	}
}
