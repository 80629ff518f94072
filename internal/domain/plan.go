package domain

// Platform социальная платформа, для которой генерируются подписи
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformYouTube   Platform = "youtube"
)

// AITier уровень модели, доступный тарифу
type AITier string

const (
	AITierStandard AITier = "standard"
	AITierPremium  AITier = "premium"
)

// FreeCaptionLimit лимит бесплатных генераций для free-тарифа
const FreeCaptionLimit = 3

// UnlimitedCaptions специальное значение лимита: без ограничений
const UnlimitedCaptions = -1

// Идентификаторы тарифов, приходящие от коммерческого провайдера
const (
	PlanBasic   = "plan_basic"
	PlanPro     = "plan_pro"
	PlanPremium = "plan_premium"
)

// DefaultActivePlanID тариф, который назначается активной подписке
// с неизвестным или отсутствующим plan_id. Осознанное бизнес-решение:
// пользователь, за которого провайдер подтвердил оплату, получает самый
// щедрый платный тариф, а не free.
const DefaultActivePlanID = PlanPremium

// PlanFeatures статический набор возможностей тарифа.
// Это справочная таблица, а не персистентная сущность.
type PlanFeatures struct {
	Name          string     `json:"name"`
	CaptionLimit  int        `json:"caption_limit"` // UnlimitedCaptions = без лимита
	Platforms     []Platform `json:"platforms"`
	AITier        AITier     `json:"ai_tier"`
	Calendar      bool       `json:"calendar"`
	Analytics     bool       `json:"analytics"`
	CustomPrompts bool       `json:"custom_prompts"`
}

// freePlanFeatures возможности бесплатного тарифа
var freePlanFeatures = PlanFeatures{
	Name:         "Free",
	CaptionLimit: FreeCaptionLimit,
	Platforms:    []Platform{PlatformInstagram, PlatformTwitter},
	AITier:       AITierStandard,
}

// planFeatures таблица возможностей по plan_id
var planFeatures = map[string]PlanFeatures{
	PlanBasic: {
		Name:         "Basic",
		CaptionLimit: UnlimitedCaptions,
		Platforms:    []Platform{PlatformInstagram, PlatformTwitter, PlatformFacebook},
		AITier:       AITierStandard,
		Calendar:     true,
	},
	PlanPro: {
		Name:          "Pro",
		CaptionLimit:  UnlimitedCaptions,
		Platforms:     []Platform{PlatformInstagram, PlatformTikTok, PlatformTwitter, PlatformLinkedIn, PlatformFacebook},
		AITier:        AITierPremium,
		Calendar:      true,
		Analytics:     true,
		CustomPrompts: true,
	},
	PlanPremium: {
		Name:          "Premium",
		CaptionLimit:  UnlimitedCaptions,
		Platforms:     []Platform{PlatformInstagram, PlatformTikTok, PlatformTwitter, PlatformLinkedIn, PlatformFacebook, PlatformYouTube},
		AITier:        AITierPremium,
		Calendar:      true,
		Analytics:     true,
		CustomPrompts: true,
	},
}

// FeaturesForPlan возвращает возможности тарифа по plan_id.
// Второе значение false означает, что тариф неизвестен.
func FeaturesForPlan(planID string) (PlanFeatures, bool) {
	features, ok := planFeatures[planID]
	return features, ok
}

// FreePlanFeatures возвращает возможности бесплатного тарифа
func FreePlanFeatures() PlanFeatures {
	return freePlanFeatures
}

// DefaultActivePlanFeatures возвращает возможности тарифа по умолчанию
// для активных подписок с нераспознанным plan_id
func DefaultActivePlanFeatures() PlanFeatures {
	return planFeatures[DefaultActivePlanID]
}
