package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the amocrm-adapter.
type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// amoCRM OAuth integration. Values can be overlaid from AWS Secrets Manager
	// when SecretID is set; see internal/secrets.
	RedirectURI  string
	APIURI       string
	Code         string
	ClientID     string
	ClientSecret string
	Subdomain    string
	AuthBaseURL  string
	TokenFile    string
	SecretID     string
	AWSRegion    string

	// Lead placement
	ResponsibleUserID int64
	PipelineID        int64
	StatusID          int64

	// Outbound CRM calls
	CRMTimeout  time.Duration
	CRMRetryMax int

	// Optional collaborators; empty disables them.
	RedisAddr         string
	RedisDB           int
	RedisPass         string
	LockTTL           time.Duration
	LockWait          time.Duration
	NATSURL           string
	NATSSubjectPrefix string

	// AdminToken guards POST /amo-crm/token/refresh when set.
	AdminToken string
}

// lockCallBudget is the most CRM calls one create-lead can make: six searches
// over three lookups plus a PATCH and two creates.
const lockCallBudget = 9

// Load loads configuration from environment variables and optional .env file.
// The amoCRM variables carry no defaults; use Missing to report the absent ones.
func Load() *Config {
	_ = godotenv.Load()

	crmTimeout := GetEnvDuration("AMOCRM_HTTP_TIMEOUT", 30*time.Second)

	return &Config{
		ServiceName:       GetEnv("SERVICE_NAME", "amocrm-adapter"),
		Env:               GetEnv("ENV", "dev"),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		Port:              GetEnvInt("PORT", 3000),
		HTTPReadTimeout:   GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout:  GetEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		HTTPIdleTimeout:   GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		RedirectURI:       GetEnv("AMOCRM_REDIRECT_URI", ""),
		APIURI:            GetEnv("AMOCRM_API_URI", ""),
		Code:              GetEnv("AMOCRM_CODE", ""),
		ClientID:          GetEnv("AMOCRM_CLIENT_ID", ""),
		ClientSecret:      GetEnv("AMOCRM_CLIENT_SECRET", ""),
		Subdomain:         GetEnv("AMOCRM_SUBDOMAIN", ""),
		AuthBaseURL:       GetEnv("AMOCRM_AUTH_BASE_URL", ""),
		TokenFile:         GetEnv("AMOCRM_TOKEN_FILE", "tokens.txt"),
		SecretID:          GetEnv("AMOCRM_SECRET_ID", ""),
		AWSRegion:         GetEnv("AWS_REGION", "eu-central-1"),
		ResponsibleUserID: GetEnvInt64("RESPONSIBLE_USER_ID", 0),
		PipelineID:        GetEnvInt64("PIPELINE_ID", 0),
		StatusID:          GetEnvInt64("STATUS_ID", 0),
		CRMTimeout:        crmTimeout,
		CRMRetryMax:       GetEnvInt("AMOCRM_RETRY_MAX", 0),
		RedisAddr:         GetEnv("REDIS_ADDR", ""),
		RedisDB:           GetEnvInt("REDIS_DB", 0),
		RedisPass:         GetEnv("REDIS_PASS", ""),
		LockTTL:           GetEnvDuration("CONTACT_LOCK_TTL", crmTimeout*lockCallBudget),
		LockWait:          GetEnvDuration("CONTACT_LOCK_WAIT", 10*time.Second),
		NATSURL:           GetEnv("NATS_URL", ""),
		NATSSubjectPrefix: GetEnv("NATS_SUBJECT_PREFIX", "evt.amocrm"),
		AdminToken:        GetEnv("AMOCRM_ADMIN_TOKEN", ""),
	}
}

// Missing returns the names of required amoCRM variables that are empty.
// Startup does not fail on them; calls against the CRM will.
func (c *Config) Missing() []string {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("AMOCRM_REDIRECT_URI", c.RedirectURI != "")
	check("AMOCRM_API_URI", c.APIURI != "")
	check("AMOCRM_CODE", c.Code != "")
	check("AMOCRM_CLIENT_ID", c.ClientID != "")
	check("AMOCRM_CLIENT_SECRET", c.ClientSecret != "")
	check("AMOCRM_SUBDOMAIN", c.Subdomain != "" || c.AuthBaseURL != "")
	check("RESPONSIBLE_USER_ID", c.ResponsibleUserID != 0)
	check("PIPELINE_ID", c.PipelineID != 0)
	check("STATUS_ID", c.StatusID != 0)
	return missing
}
