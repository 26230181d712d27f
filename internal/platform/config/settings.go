package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalid wraps every validation failure returned by FromEnv.
var ErrInvalid = errors.New("invalid configuration")

// Config is the server configuration assembled from the environment.
type Config struct {
	Port      string
	PublicURL string

	SegmentDir            string
	TargetSegmentDuration float64
	PlaylistLength        int
	BaseURL               string
	PlaylistMode          string
	VariantsFile          string
	CleanupOnExit         bool

	AuthMethods          []string
	BasicUser            string
	BasicPassword        string
	APIKey               string
	JWTSecret            string
	JWTIssuer            string
	PlatformVerifyURL    string
	PlatformAccounts     []string
	SessionTTL           time.Duration
	SessionStore         string
	RedisAddr            string
	RedisPassword        string
	AccessControl        bool
	AccessIdleTimeout    time.Duration
	LoginRateLimitPerMin int
	ShutdownTimeout      time.Duration
	IngestMaxBodyBytes   int64
	LogLevel             string
	LogFormat            string
}

// FromEnv reads every setting with its default and validates the result.
func FromEnv() (Config, error) {
	port := GetEnv("PORT", "8080")
	c := Config{
		Port:      port,
		PublicURL: GetEnv("PUBLIC_URL", "http://localhost:"+port),

		SegmentDir:            GetEnv("SEGMENT_DIR", filepath.Join(os.TempDir(), "mirrorcast-segments")),
		TargetSegmentDuration: GetEnvFloat("TARGET_SEGMENT_DURATION", 2),
		PlaylistLength:        GetEnvInt("PLAYLIST_LENGTH", 10),
		BaseURL:               GetEnv("BASE_URL", ""),
		PlaylistMode:          GetEnv("PLAYLIST_MODE", "live"),
		VariantsFile:          GetEnv("VARIANTS_FILE", ""),
		CleanupOnExit:         GetEnvBool("CLEANUP_ON_EXIT", true),

		AuthMethods:          GetEnvList("AUTH_METHODS", []string{"basic"}),
		BasicUser:            GetEnv("AUTH_BASIC_USER", "admin"),
		BasicPassword:        GetEnv("AUTH_BASIC_PASSWORD", ""),
		APIKey:               GetEnv("AUTH_API_KEY", ""),
		JWTSecret:            GetEnv("AUTH_JWT_SECRET", ""),
		JWTIssuer:            GetEnv("AUTH_JWT_ISSUER", ""),
		PlatformVerifyURL:    GetEnv("AUTH_PLATFORM_VERIFY_URL", ""),
		PlatformAccounts:     GetEnvList("AUTH_PLATFORM_ACCOUNTS", nil),
		SessionTTL:           GetEnvDuration("SESSION_TTL", 12*time.Hour),
		SessionStore:         GetEnv("SESSION_STORE", "memory"),
		RedisAddr:            GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        GetEnv("REDIS_PASSWORD", ""),
		AccessControl:        GetEnvBool("ACCESS_CONTROL", true),
		AccessIdleTimeout:    GetEnvDuration("ACCESS_IDLE_TIMEOUT", 30*time.Second),
		LoginRateLimitPerMin: GetEnvInt("LOGIN_RATE_LIMIT", 10),
		ShutdownTimeout:      GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		IngestMaxBodyBytes:   GetEnvInt64("INGEST_MAX_BODY_BYTES", 0),
		LogLevel:             GetEnv("LOG_LEVEL", "info"),
		LogFormat:            GetEnv("LOG_FORMAT", "json"),
	}
	return c, c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.TargetSegmentDuration <= 0:
		return fmt.Errorf("%w: TARGET_SEGMENT_DURATION must be positive", ErrInvalid)
	case c.PlaylistLength <= 0:
		return fmt.Errorf("%w: PLAYLIST_LENGTH must be positive", ErrInvalid)
	case c.PlaylistMode != "live" && c.PlaylistMode != "event":
		return fmt.Errorf("%w: PLAYLIST_MODE must be live or event, got %q", ErrInvalid, c.PlaylistMode)
	case c.SessionStore != "memory" && c.SessionStore != "redis":
		return fmt.Errorf("%w: SESSION_STORE must be memory or redis, got %q", ErrInvalid, c.SessionStore)
	case c.SessionTTL <= 0:
		return fmt.Errorf("%w: SESSION_TTL must be positive", ErrInvalid)
	case c.AccessIdleTimeout <= 0:
		return fmt.Errorf("%w: ACCESS_IDLE_TIMEOUT must be positive", ErrInvalid)
	case c.LoginRateLimitPerMin <= 0:
		return fmt.Errorf("%w: LOGIN_RATE_LIMIT must be positive", ErrInvalid)
	case len(c.AuthMethods) == 0:
		return fmt.Errorf("%w: AUTH_METHODS is empty", ErrInvalid)
	}

	for _, m := range c.AuthMethods {
		switch m {
		case "basic":
			if c.BasicUser == "" || c.BasicPassword == "" {
				return fmt.Errorf("%w: basic auth needs AUTH_BASIC_USER and AUTH_BASIC_PASSWORD", ErrInvalid)
			}
		case "api_key":
			if c.APIKey == "" {
				return fmt.Errorf("%w: api_key auth needs AUTH_API_KEY", ErrInvalid)
			}
		case "session":
		case "jwt":
			if c.JWTSecret == "" {
				return fmt.Errorf("%w: jwt auth needs AUTH_JWT_SECRET", ErrInvalid)
			}
		case "platform":
			if c.PlatformVerifyURL == "" || len(c.PlatformAccounts) == 0 {
				return fmt.Errorf("%w: platform auth needs AUTH_PLATFORM_VERIFY_URL and AUTH_PLATFORM_ACCOUNTS", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown auth method %q", ErrInvalid, m)
		}
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }
