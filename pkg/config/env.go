package config

const (
	EnvPrefix = "LEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv   = "LEDGER_APP_ENV"
	EnvPort     = "LEDGER_APP_PORT"
	EnvLogLevel = "LEDGER_LOG_LEVEL"

	EnvDBDSN  = "LEDGER_DB_DSN"
	EnvDBHost = "LEDGER_DB_HOST"
	EnvDBUser = "LEDGER_DB_USER"
	EnvDBName = "LEDGER_DB_NAME"

	EnvUseSQLite    = "LEDGER_USE_SQLITE"
	EnvRedisURL     = "LEDGER_REDIS_URL"
	EnvJWTSecret    = "LEDGER_JWT_SECRET"
	EnvJWTIssuer    = "LEDGER_JWT_ISSUER"
	EnvGCPProjectID = "LEDGER_GCP_PROJECT_ID"

	EnvCommissionDefaultRate = "LEDGER_COMMISSION_DEFAULT_RATE"
	EnvPlatformFeeFlat       = "LEDGER_PLATFORM_FEE_FLAT"
	EnvPayoutMinimum         = "LEDGER_PAYOUT_MINIMUM"
	EnvReturnWindow          = "LEDGER_RETURN_WINDOW"
	EnvInvoiceTaxRate        = "LEDGER_INVOICE_TAX_RATE"
	EnvInvoiceDueIn          = "LEDGER_INVOICE_DUE_IN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
