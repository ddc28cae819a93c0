package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string

	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	// DBBootstrap applies the embedded schema at startup.
	DBBootstrap bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	AdmissionIsolation string
	OrderTransitions   string

	WSAllowedOrigins    []string
	WSHeartbeatInterval time.Duration

	// CredentialRefreshInterval drives the background status refresh; zero disables it.
	CredentialRefreshInterval time.Duration

	OTelEnabled  bool
	OTelEndpoint string

	// Production refuses settings that only make sense on a laptop.
	Production bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("KILN_HTTP_ADDR", "0.0.0.0:8080"),

		LogLevel:  EnvString("KILN_LOG_LEVEL", "info"),
		LogFormat: EnvString("KILN_LOG_FORMAT", "json"),
		LogColor:  EnvBool("KILN_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("KILN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("KILN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("KILN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("KILN_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("KILN_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvCSV("KILN_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("KILN_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("KILN_CORS_MAX_AGE", 600),

		DatabaseURL: EnvString("KILN_DATABASE_URL", ""),
		DBSchema:    EnvString("KILN_DB_SCHEMA", "kiln"),
		DBMaxConns:  EnvInt32("KILN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("KILN_DB_MIN_CONNS", 0),
		DBBootstrap: EnvBool("KILN_DB_BOOTSTRAP", true),

		ReadinessRequireDB: EnvBool("KILN_READINESS_REQUIRE_DB", false),

		AdmissionIsolation: EnvString("KILN_ADMISSION_ISOLATION", "serializable"),
		OrderTransitions:   EnvString("KILN_ORDER_TRANSITIONS", "permissive"),

		WSAllowedOrigins:    EnvCSV("KILN_WS_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		WSHeartbeatInterval: EnvDuration("KILN_WS_HEARTBEAT_INTERVAL", 25*time.Second),

		CredentialRefreshInterval: EnvSwitchDuration("KILN_CREDENTIAL_REFRESH_INTERVAL", 5*time.Minute),

		OTelEnabled:  EnvBool("KILN_OTEL_ENABLED", true),
		OTelEndpoint: EnvString("KILN_OTEL_ENDPOINT", ""),

		Production: EnvString("KILN_ENV", "development") == "production",
	}
}
