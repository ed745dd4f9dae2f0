package types

const ContextUserKey = "user"

const (
	TokenCookieName = "token"
	TokenQueryParam = "token"

	WebhookSecretHeader = "X-Webhook-Secret"
)
