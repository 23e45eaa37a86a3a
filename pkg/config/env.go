package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv              = "STOREFRONT_APP_ENV"
	EnvPort                = "STOREFRONT_APP_PORT"
	EnvPublicBaseURL       = "STOREFRONT_PUBLIC_BASE_URL"
	EnvDBDSN               = "STOREFRONT_DB_DSN"
	EnvDBHost              = "STOREFRONT_DB_HOST"
	EnvDBUser              = "STOREFRONT_DB_USER"
	EnvDBName              = "STOREFRONT_DB_NAME"
	EnvDBPassword          = "STOREFRONT_DB_PASSWORD"
	EnvUseSQLite           = "STOREFRONT_USE_SQLITE"
	EnvRedisURL            = "STOREFRONT_REDIS_URL"
	EnvStripeAPIKey        = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvWebhookTolerance    = "STOREFRONT_WEBHOOK_TOLERANCE"
	EnvPubSubOrdersTopic   = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
