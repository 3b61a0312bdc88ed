package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or env-file loaded by the process runner).
// It is built once at startup and passed by value; business logic never reads env itself.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	TTS    TTSConfig
	Audio  AudioConfig
	SIP    SIPConfig
	Worker WorkerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

// TTS provider names accepted by TTS_PROVIDER.
const (
	TTSProviderEspeak = "espeak"
	TTSProviderGoogle = "google"
	TTSProviderAzure  = "azure"
	TTSProviderPolly  = "polly"
)

type TTSConfig struct {
	Provider string
	Timeout  time.Duration
	Voice    string

	EspeakBinary string

	GoogleAPIKey string

	AzureKey    string
	AzureRegion string

	AWSAccessKey string
	AWSSecretKey string
	AWSRegion    string
}

type AudioConfig struct {
	Dir              string
	FFmpegBinary     string
	TranscodeTimeout time.Duration
	FetchMaxBytes    int64
}

type SIPConfig struct {
	TrunkHost string
	TrunkPort int
	Username  string
	Password  string
	Realm     string

	DialBinary string

	// DialTimeout is the hard wall-clock limit for one dial process.
	DialTimeout time.Duration
	// MaxCallDuration is handed to the dial process as its own call limit.
	MaxCallDuration time.Duration
	RegisterWait    time.Duration

	SimulatedCallDuration time.Duration

	// MaxConcurrentCalls caps in-flight calls across all workers. 0 disables the cap.
	MaxConcurrentCalls int
}

type WorkerConfig struct {
	Concurrency       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	StaleAfter        time.Duration

	PersistRetryAttempts int
	PersistRetryBackoff  time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	intVar := func(dst *int, key string) {
		n, err := optionalInt(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}
	durVar := func(dst *time.Duration, key string) {
		d, err := optionalDuration(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = d
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	intVar(&c.App.Port, "APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	intVar(&c.DB.Port, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	intVar(&c.Redis.Port, "REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	durVar(&c.Auth.TokenTTL, "JWT_TOKEN_TTL")

	c.TTS.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("TTS_PROVIDER")))
	durVar(&c.TTS.Timeout, "TTS_TIMEOUT")
	c.TTS.Voice = strings.TrimSpace(os.Getenv("TTS_VOICE"))
	c.TTS.EspeakBinary = strings.TrimSpace(os.Getenv("ESPEAK_BINARY"))
	c.TTS.GoogleAPIKey = os.Getenv("GOOGLE_TTS_API_KEY")
	c.TTS.AzureKey = os.Getenv("AZURE_TTS_KEY")
	c.TTS.AzureRegion = strings.TrimSpace(os.Getenv("AZURE_TTS_REGION"))
	c.TTS.AWSAccessKey = os.Getenv("AWS_ACCESS_KEY")
	c.TTS.AWSSecretKey = os.Getenv("AWS_SECRET_KEY")
	c.TTS.AWSRegion = strings.TrimSpace(os.Getenv("AWS_REGION"))

	c.Audio.Dir = strings.TrimSpace(os.Getenv("AUDIO_DIR"))
	c.Audio.FFmpegBinary = strings.TrimSpace(os.Getenv("FFMPEG_BINARY"))
	durVar(&c.Audio.TranscodeTimeout, "TRANSCODE_TIMEOUT")
	{
		var n int
		intVar(&n, "AUDIO_FETCH_MAX_BYTES")
		c.Audio.FetchMaxBytes = int64(n)
	}

	c.SIP.TrunkHost = strings.TrimSpace(os.Getenv("SIP_TRUNK_HOST"))
	intVar(&c.SIP.TrunkPort, "SIP_TRUNK_PORT")
	c.SIP.Username = strings.TrimSpace(os.Getenv("SIP_USERNAME"))
	c.SIP.Password = os.Getenv("SIP_PASSWORD")
	c.SIP.Realm = strings.TrimSpace(os.Getenv("SIP_REALM"))
	c.SIP.DialBinary = strings.TrimSpace(os.Getenv("DIAL_BINARY"))
	durVar(&c.SIP.DialTimeout, "DIAL_TIMEOUT")
	durVar(&c.SIP.MaxCallDuration, "DIAL_MAX_CALL_DURATION")
	durVar(&c.SIP.RegisterWait, "DIAL_REGISTER_WAIT")
	durVar(&c.SIP.SimulatedCallDuration, "SIMULATED_CALL_DURATION")
	intVar(&c.SIP.MaxConcurrentCalls, "SIP_MAX_CONCURRENT_CALLS")

	intVar(&c.Worker.Concurrency, "WORKER_CONCURRENCY")
	durVar(&c.Worker.PollInterval, "QUEUE_POLL_INTERVAL")
	durVar(&c.Worker.VisibilityTimeout, "QUEUE_VISIBILITY_TIMEOUT")
	durVar(&c.Worker.StaleAfter, "JOB_STALE_AFTER")
	intVar(&c.Worker.PersistRetryAttempts, "PERSIST_RETRY_ATTEMPTS")
	durVar(&c.Worker.PersistRetryBackoff, "PERSIST_RETRY_BACKOFF")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and checks the settings shared by every process.
// Process-specific requirements live in ValidateAPI.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if !isValidPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if !isValidPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	errs = append(errs, c.validateTTS()...)
	errs = append(errs, c.validateAudio()...)
	errs = append(errs, c.validateSIP()...)
	errs = append(errs, c.validateWorker()...)

	return joinErrors(errs)
}

// ValidateAPI checks the settings only the HTTP process needs.
func (c *Config) ValidateAPI() error {
	var errs []error
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if !isValidPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	return joinErrors(errs)
}

func (c *Config) validateTTS() []error {
	var errs []error
	if c.TTS.Provider == "" {
		c.TTS.Provider = TTSProviderEspeak
	}
	switch c.TTS.Provider {
	case TTSProviderEspeak, TTSProviderGoogle, TTSProviderAzure, TTSProviderPolly:
	default:
		errs = append(errs, fmt.Errorf("TTS_PROVIDER must be one of espeak, google, azure, polly, got %q", c.TTS.Provider))
	}
	if c.TTS.Timeout <= 0 {
		c.TTS.Timeout = 30 * time.Second
	}
	if c.TTS.EspeakBinary == "" {
		c.TTS.EspeakBinary = "espeak"
	}
	if c.TTS.AWSRegion == "" {
		c.TTS.AWSRegion = "us-east-1"
	}
	return errs
}

func (c *Config) validateAudio() []error {
	var errs []error
	if c.Audio.Dir == "" {
		c.Audio.Dir = "temp_audio"
	}
	if c.Audio.FFmpegBinary == "" {
		c.Audio.FFmpegBinary = "ffmpeg"
	}
	if c.Audio.TranscodeTimeout <= 0 {
		c.Audio.TranscodeTimeout = time.Minute
	}
	if c.Audio.FetchMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("AUDIO_FETCH_MAX_BYTES must be >= 0, got %d", c.Audio.FetchMaxBytes))
	}
	if c.Audio.FetchMaxBytes == 0 {
		c.Audio.FetchMaxBytes = 50 << 20
	}
	return errs
}

func (c *Config) validateSIP() []error {
	var errs []error
	if c.SIP.TrunkPort == 0 {
		c.SIP.TrunkPort = 5060
	}
	if !isValidPort(c.SIP.TrunkPort) {
		errs = append(errs, fmt.Errorf("SIP_TRUNK_PORT must be a valid port, got %d", c.SIP.TrunkPort))
	}
	if c.IsProduction() {
		if c.SIP.TrunkHost == "" {
			errs = append(errs, errors.New("SIP_TRUNK_HOST is required in production"))
		}
		if c.SIP.Username == "" || c.SIP.Password == "" {
			errs = append(errs, errors.New("SIP_USERNAME and SIP_PASSWORD are required in production"))
		}
	}
	if c.SIP.Realm == "" {
		c.SIP.Realm = "*"
	}
	if c.SIP.DialBinary == "" {
		c.SIP.DialBinary = "pjsua"
	}
	if c.SIP.MaxCallDuration <= 0 {
		c.SIP.MaxCallDuration = 60 * time.Second
	}
	if c.SIP.DialTimeout <= 0 {
		c.SIP.DialTimeout = 45 * time.Second
	}
	if c.SIP.DialTimeout >= c.SIP.MaxCallDuration {
		errs = append(errs, fmt.Errorf("DIAL_TIMEOUT (%s) must be shorter than DIAL_MAX_CALL_DURATION (%s)", c.SIP.DialTimeout, c.SIP.MaxCallDuration))
	}
	if c.SIP.RegisterWait <= 0 {
		c.SIP.RegisterWait = 10 * time.Second
	}
	if c.SIP.SimulatedCallDuration <= 0 {
		c.SIP.SimulatedCallDuration = 5 * time.Second
	}
	if c.SIP.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("SIP_MAX_CONCURRENT_CALLS must be >= 0, got %d", c.SIP.MaxConcurrentCalls))
	}
	return errs
}

func (c *Config) validateWorker() []error {
	var errs []error
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	worst := c.WorstCaseJobDuration()
	if c.Worker.VisibilityTimeout <= 0 {
		c.Worker.VisibilityTimeout = worst + time.Minute
	}
	if c.Worker.StaleAfter <= 0 {
		c.Worker.StaleAfter = 2 * (worst + time.Minute)
	}
	if c.Worker.VisibilityTimeout <= worst {
		errs = append(errs, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed the worst-case job duration (%s)", c.Worker.VisibilityTimeout, worst))
	}
	if c.Worker.StaleAfter <= worst {
		errs = append(errs, fmt.Errorf("JOB_STALE_AFTER (%s) must exceed the worst-case job duration (%s)", c.Worker.StaleAfter, worst))
	}
	if c.Worker.PersistRetryAttempts <= 0 {
		c.Worker.PersistRetryAttempts = 3
	}
	if c.Worker.PersistRetryBackoff <= 0 {
		c.Worker.PersistRetryBackoff = 200 * time.Millisecond
	}
	return errs
}

// WorstCaseJobDuration is the longest a single job can occupy a worker.
func (c Config) WorstCaseJobDuration() time.Duration {
	return c.TTS.Timeout + c.Audio.TranscodeTimeout + c.SIP.DialTimeout
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s, got %q", key, v)
	}
	return d, nil
}

func isValidPort(p int) bool {
	return p > 0 && p <= 65535
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
