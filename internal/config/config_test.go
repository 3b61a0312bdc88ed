package config

import (
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voicecall"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndSIPCredentials(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and SIP credentials")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "SIP_USERNAME") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.TTS.Provider != TTSProviderEspeak {
		t.Fatalf("expected espeak default provider, got %q", c.TTS.Provider)
	}
	if c.SIP.DialTimeout >= c.SIP.MaxCallDuration {
		t.Fatalf("dial timeout %s must be below max call duration %s", c.SIP.DialTimeout, c.SIP.MaxCallDuration)
	}
	if c.Worker.VisibilityTimeout <= c.WorstCaseJobDuration() {
		t.Fatalf("visibility timeout %s must exceed worst case %s", c.Worker.VisibilityTimeout, c.WorstCaseJobDuration())
	}
}

func TestValidate_RejectsDialTimeoutAboveCallDuration(t *testing.T) {
	c := validBase()
	c.SIP.DialTimeout = 90 * time.Second
	c.SIP.MaxCallDuration = 30 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when dial timeout exceeds max call duration")
	}
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	c := validBase()
	c.TTS.Provider = "watson"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestValidateAPI_RequiresSecret(t *testing.T) {
	c := validBase()
	if err := c.ValidateAPI(); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
	c.Auth.JWTSecret = "secret"
	if err := c.ValidateAPI(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 8080 || c.Auth.TokenTTL <= 0 {
		t.Fatalf("expected api defaults, got port=%d ttl=%s", c.App.Port, c.Auth.TokenTTL)
	}
}

func TestLoad_ParsesEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("TTS_PROVIDER", "Google")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("DIAL_TIMEOUT", "20s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TTS.Provider != TTSProviderGoogle {
		t.Fatalf("expected provider normalized to google, got %q", c.TTS.Provider)
	}
	if c.Worker.Concurrency != 8 || c.SIP.DialTimeout != 20*time.Second {
		t.Fatalf("unexpected worker/sip config: %+v %+v", c.Worker, c.SIP)
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("DIAL_TIMEOUT", "forever")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	if !strings.Contains(err.Error(), "DB_PORT") || !strings.Contains(err.Error(), "DIAL_TIMEOUT") {
		t.Fatalf("expected both parse errors, got %v", err)
	}
}
