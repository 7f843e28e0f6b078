package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendRelay  Backend = "relay"
)

type LocationMode string

const (
	LocationIP     LocationMode = "ip"
	LocationStatic LocationMode = "static"
	LocationNone   LocationMode = "none"
)

type Config struct {
	Backend Backend `yaml:"backend"`
	Model   string  `yaml:"model"`

	GeminiAPIKey string `yaml:"gemini_api_key"`

	RelayURL              string        `yaml:"relay_url"`
	RelayAPIKey           string        `yaml:"relay_api_key"`
	RelayHandshakeTimeout time.Duration `yaml:"relay_handshake_timeout"`
	RelayWriteTimeout     time.Duration `yaml:"relay_write_timeout"`
	RelayPingInterval     time.Duration `yaml:"relay_ping_interval"`

	Persona       string `yaml:"persona"`
	KnowledgeFile string `yaml:"knowledge_file"`

	Location        LocationMode  `yaml:"location"`
	LocationURL     string        `yaml:"location_url"`
	Latitude        float64       `yaml:"latitude"`
	Longitude       float64       `yaml:"longitude"`
	LocationTimeout time.Duration `yaml:"location_timeout"`

	InputGain float64 `yaml:"input_gain"`
	Muted     bool    `yaml:"muted"`

	ScreenDisplay string        `yaml:"screen_display"`
	FramePeriod   time.Duration `yaml:"frame_period"`
	FrameMaxWidth int           `yaml:"frame_max_width"`
	FrameQuality  int           `yaml:"frame_quality"`

	AudioQueue int `yaml:"audio_queue"`
	ImageQueue int `yaml:"image_queue"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv reads and validates the environment.
func LoadFromEnv() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads the environment without validating, for callers that layer
// a file and flags on top before validating once.
func FromEnv() Config {
	return Config{
		Backend:               Backend(strings.ToLower(envOr("VAI_LIVE_BACKEND", string(BackendGemini)))),
		Model:                 envOr("VAI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		GeminiAPIKey:          firstEnv("VAI_LIVE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"),
		RelayURL:              envOr("VAI_LIVE_RELAY_URL", ""),
		RelayAPIKey:           envOr("VAI_LIVE_RELAY_API_KEY", ""),
		RelayHandshakeTimeout: envDurationOr("VAI_LIVE_RELAY_HANDSHAKE_TIMEOUT", 10*time.Second),
		RelayWriteTimeout:     envDurationOr("VAI_LIVE_RELAY_WRITE_TIMEOUT", 5*time.Second),
		RelayPingInterval:     envDurationOr("VAI_LIVE_RELAY_PING_INTERVAL", 20*time.Second),
		Persona:               envOr("VAI_LIVE_PERSONA", "jarvis"),
		KnowledgeFile:         envOr("VAI_LIVE_KNOWLEDGE_FILE", ""),
		Location:              LocationMode(strings.ToLower(envOr("VAI_LIVE_LOCATION", string(LocationIP)))),
		LocationURL:           envOr("VAI_LIVE_LOCATION_URL", "https://ipapi.co/json/"),
		Latitude:              envFloat64Or("VAI_LIVE_LATITUDE", 0),
		Longitude:             envFloat64Or("VAI_LIVE_LONGITUDE", 0),
		LocationTimeout:       envDurationOr("VAI_LIVE_LOCATION_TIMEOUT", 10*time.Second),
		InputGain:             envFloat64Or("VAI_LIVE_INPUT_GAIN", 1.0),
		Muted:                 envBoolOr("VAI_LIVE_MUTED", false),
		ScreenDisplay:         envOr("VAI_LIVE_SCREEN_DISPLAY", ""),
		FramePeriod:           envDurationOr("VAI_LIVE_FRAME_PERIOD", time.Second),
		FrameMaxWidth:         envIntOr("VAI_LIVE_FRAME_MAX_WIDTH", 640),
		FrameQuality:          envIntOr("VAI_LIVE_FRAME_QUALITY", 60),
		AudioQueue:            envIntOr("VAI_LIVE_AUDIO_QUEUE", 512),
		ImageQueue:            envIntOr("VAI_LIVE_IMAGE_QUEUE", 32),
		LogLevel:              envOr("VAI_LIVE_LOG_LEVEL", "info"),
		LogFormat:             envOr("VAI_LIVE_LOG_FORMAT", "text"),
		MetricsAddr:           envOr("VAI_LIVE_METRICS_ADDR", ""),
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return errors.New("VAI_LIVE_GEMINI_API_KEY (or GEMINI_API_KEY) is required for the gemini backend")
		}
	case BackendRelay:
		if strings.TrimSpace(c.RelayURL) == "" {
			return errors.New("VAI_LIVE_RELAY_URL is required for the relay backend")
		}
		if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
			return fmt.Errorf("VAI_LIVE_RELAY_URL must be a ws:// or wss:// url, got %q", c.RelayURL)
		}
	default:
		return fmt.Errorf("VAI_LIVE_BACKEND must be one of gemini|relay")
	}

	switch c.Location {
	case LocationIP, LocationNone:
	case LocationStatic:
		if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
			return fmt.Errorf("static location %f,%f is out of range", c.Latitude, c.Longitude)
		}
	default:
		return fmt.Errorf("VAI_LIVE_LOCATION must be one of ip|static|none")
	}

	if c.InputGain < 0 || c.InputGain > 2 {
		return fmt.Errorf("VAI_LIVE_INPUT_GAIN must be within [0, 2], got %g", c.InputGain)
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return fmt.Errorf("VAI_LIVE_FRAME_QUALITY must be within [1, 100], got %d", c.FrameQuality)
	}
	if c.FrameMaxWidth <= 0 {
		return errors.New("VAI_LIVE_FRAME_MAX_WIDTH must be > 0")
	}
	if c.FramePeriod <= 0 {
		return errors.New("VAI_LIVE_FRAME_PERIOD must be > 0")
	}
	if c.LocationTimeout <= 0 {
		return errors.New("VAI_LIVE_LOCATION_TIMEOUT must be > 0")
	}
	if c.AudioQueue <= 0 || c.ImageQueue <= 0 {
		return errors.New("outbound queue sizes must be > 0")
	}
	return nil
}

// Knowledge reads the knowledge file, if one is configured.
func (c Config) Knowledge() (string, error) {
	if strings.TrimSpace(c.KnowledgeFile) == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.KnowledgeFile)
	if err != nil {
		return "", fmt.Errorf("read knowledge file: %w", err)
	}
	return string(data), nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
