package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// DefaultEnvFile is loaded before reading the environment when present.
// Variables already set in the process take precedence.
const DefaultEnvFile = ".env.local"

type Config struct {
	Web       WebConfig
	Model     ModelConfig
	Audio     AudioConfig
	Queue     QueueConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Log       LogConfig
}

type WebConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
}

func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

type ModelConfig struct {
	Weights    string
	Tokens     string
	Language   string
	UseITN     bool
	NumThreads int
	Provider   string
}

type AudioConfig struct {
	ResampleRate int
	FFmpegPath   string
}

type QueueConfig struct {
	MaxCapacity       int
	MaxProcessingTime time.Duration
	// StrictAdmission switches from the advisory QueueSize check to an
	// atomic check-and-enqueue.
	StrictAdmission bool
}

type AuthConfig struct {
	BearerToken string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerSecond > 0
}

type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Retention     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads env files (DefaultEnvFile when none are given) and then the
// process environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var r reader
	cfg := Config{
		Web: WebConfig{
			Host:           r.getString("WEB_HOST", "0.0.0.0"),
			Port:           r.getInt("WEB_PORT", 8080),
			MaxUploadBytes: int64(r.getInt("MAX_UPLOAD_BYTES", 50<<20)),
		},
		Model: ModelConfig{
			Weights:    r.required("MODEL_WEIGHTS"),
			Tokens:     r.required("MODEL_TOKENS"),
			Language:   r.getString("MODEL_LANGUAGE", "auto"),
			UseITN:     r.getBool("MODEL_USE_ITN", true),
			NumThreads: r.getInt("MODEL_NUM_THREADS", 2),
			Provider:   r.getString("MODEL_PROVIDER", "cpu"),
		},
		Audio: AudioConfig{
			ResampleRate: r.getInt("AUDIO_RESAMPLE_RATE", 16000),
			FFmpegPath:   r.getString("FFMPEG_PATH", "ffmpeg"),
		},
		Queue: QueueConfig{
			MaxCapacity:       r.getInt("MAX_QUEUE_CAPACITY", 10),
			MaxProcessingTime: time.Duration(r.getInt("MAX_PROCESSING_TIME", 30)) * time.Second,
			StrictAdmission:   r.getBool("ADMISSION_STRICT", false),
		},
		Auth: AuthConfig{
			BearerToken: r.getString("BEARER_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: r.getFloat("RATE_LIMIT_RPS", 0),
			Burst:             r.getInt("RATE_LIMIT_BURST", 20),
		},
		Store: StoreConfig{
			RedisAddr:     r.getString("REDIS_ADDR", ""),
			RedisPassword: r.getString("REDIS_PASSWORD", ""),
			RedisDB:       r.getInt("REDIS_DB", 0),
			Retention:     time.Duration(r.getInt("JOB_RETENTION", 3600)) * time.Second,
		},
		Log: LogConfig{
			Level:  r.getString("LOG_LEVEL", "info"),
			Format: r.getString("LOG_FORMAT", "text"),
		},
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("WEB_PORT out of range: %d", c.Web.Port))
	}
	if c.Queue.MaxCapacity < 1 {
		errs = append(errs, fmt.Errorf("MAX_QUEUE_CAPACITY must be at least 1, got %d", c.Queue.MaxCapacity))
	}
	if c.Queue.MaxProcessingTime < time.Second {
		errs = append(errs, fmt.Errorf("MAX_PROCESSING_TIME must be at least 1 second, got %s", c.Queue.MaxProcessingTime))
	}
	if c.Audio.ResampleRate <= 0 {
		errs = append(errs, fmt.Errorf("AUDIO_RESAMPLE_RATE must be positive, got %d", c.Audio.ResampleRate))
	}
	if c.Model.NumThreads < 1 {
		errs = append(errs, fmt.Errorf("MODEL_NUM_THREADS must be at least 1, got %d", c.Model.NumThreads))
	}
	if c.Store.Retention < time.Second {
		errs = append(errs, fmt.Errorf("JOB_RETENTION must be at least 1 second, got %s", c.Store.Retention))
	}
	if c.RateLimit.Enabled() && c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimit.Burst))
	}
	return errors.Join(errs...)
}

// reader collects conversion errors so Load can report all of them at once.
type reader struct {
	errs []error
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *reader) required(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		r.errs = append(r.errs, fmt.Errorf("environment variable not found: %s", key))
	}
	return v
}

func (r *reader) getString(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *reader) getInt(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	// Base 10 only: cast would read "010" as octal.
	n, err := strconv.ParseInt(v, 10, 0)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return int(n)
}

func (r *reader) getFloat(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) getBool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean value %q", key, v))
		return def
	}
	return b
}
