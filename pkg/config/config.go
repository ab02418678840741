package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Config is the env-driven configuration surface, keys unchanged from
// spec.md §6. Every field is read from an env var prefixed VOICEBRIDGE_,
// generalized from DMRHub's internal/config/config.go legacy pattern
// (plain os.Getenv + defaulting, atomic.Value singleton) rather than a
// config-file framework, since file parsing is explicitly out of scope.
type Config struct {
	RTPPortRangeLow  int
	RTPPortRangeHigh int
	RTPHost          string

	PipelineFrameMs          int
	PipelineMaxUtteranceMs   int
	PipelineMinUtteranceMs   int
	PipelineSilenceTimeoutMs int

	VADKIn                int
	VADKOut               int
	VADConfidenceThreshold float64

	EchoReferenceMs int

	NoiseMode string

	StateMachineMaxDurationS      int
	StateMachineSilenceTimeoutS   int
	StateMachineResponseTimeoutS  int

	ConversationTTLS         int
	ConversationMaxTokens    int
	ConversationSystemPrompt string

	LLMPrimaryModel  string
	LLMFallbackModel string

	TTSVoice      string
	TTSSampleRate int

	BargeinEnabled             bool
	BargeinDebounceMs          int
	BargeinConfidenceThreshold float64

	FallbackEnabled bool

	BusURL string

	SwitchBaseURL  string
	SwitchUser     string
	SwitchPassword string

	MetricsAddr string
	LogLevel    string
	Debug       bool
}

const envPrefix = "VOICEBRIDGE_"

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func getenvInt(key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvString(key, def string) string {
	v := getenv(key)
	if v == "" {
		return def
	}
	return v
}

func loadConfig() Config {
	cfg := Config{
		RTPPortRangeLow:  getenvInt("RTP_PORT_RANGE_LOW", 20000),
		RTPPortRangeHigh: getenvInt("RTP_PORT_RANGE_HIGH", 20999),
		RTPHost:          getenvString("RTP_HOST", "0.0.0.0"),

		PipelineFrameMs:          getenvInt("PIPELINE_FRAME_MS", 20),
		PipelineMaxUtteranceMs:   getenvInt("PIPELINE_MAX_UTTERANCE_MS", 30000),
		PipelineMinUtteranceMs:   getenvInt("PIPELINE_MIN_UTTERANCE_MS", 250),
		PipelineSilenceTimeoutMs: getenvInt("PIPELINE_SILENCE_TIMEOUT_MS", 800),

		VADKIn:                 getenvInt("VAD_K_IN", 3),
		VADKOut:                getenvInt("VAD_K_OUT", 15),
		VADConfidenceThreshold: getenvFloat("VAD_CONFIDENCE_THRESHOLD", 0.5),

		EchoReferenceMs: getenvInt("ECHO_REFERENCE_MS", 200),

		NoiseMode: getenvString("NOISE_MODE", "gentle"),

		StateMachineMaxDurationS:     getenvInt("STATE_MACHINE_MAX_DURATION_S", 1800),
		StateMachineSilenceTimeoutS:  getenvInt("STATE_MACHINE_SILENCE_TIMEOUT_S", 30),
		StateMachineResponseTimeoutS: getenvInt("STATE_MACHINE_RESPONSE_TIMEOUT_S", 30),

		ConversationTTLS:         getenvInt("CONVERSATION_TTL_S", 3600),
		ConversationMaxTokens:    getenvInt("CONVERSATION_MAX_TOKENS", 4096),
		ConversationSystemPrompt: getenvString("CONVERSATION_SYSTEM_PROMPT", "You are a helpful voice assistant."),

		LLMPrimaryModel:  getenvString("LLM_PRIMARY_MODEL", ""),
		LLMFallbackModel: getenvString("LLM_FALLBACK_MODEL", ""),

		TTSVoice:      getenvString("TTS_VOICE", "default"),
		TTSSampleRate: getenvInt("TTS_SAMPLE_RATE", 8000),

		BargeinEnabled:             getenvBool("BARGEIN_ENABLED", true),
		BargeinDebounceMs:          getenvInt("BARGEIN_DEBOUNCE_MS", 150),
		BargeinConfidenceThreshold: getenvFloat("BARGEIN_CONFIDENCE_THRESHOLD", 0.6),

		FallbackEnabled: getenvBool("FALLBACK_ENABLED", true),

		BusURL: getenvString("BUS_URL", ""),

		SwitchBaseURL:  getenvString("SWITCH_BASE_URL", ""),
		SwitchUser:     getenvString("SWITCH_USER", ""),
		SwitchPassword: getenvString("SWITCH_PASSWORD", ""),

		MetricsAddr: getenvString("METRICS_ADDR", ":9090"),
		LogLevel:    getenvString("LOG_LEVEL", "info"),
		Debug:       getenvBool("DEBUG", false),
	}
	return cfg
}

// validate checks cross-field invariants a plain default-substitution pass
// can't catch (port range ordering, k_in/k_out positivity).
func (c Config) validate() error {
	if c.RTPPortRangeLow <= 0 || c.RTPPortRangeHigh <= c.RTPPortRangeLow {
		return fmt.Errorf("config: invalid rtp port range [%d,%d]", c.RTPPortRangeLow, c.RTPPortRangeHigh)
	}
	if c.VADKIn <= 0 || c.VADKOut <= 0 {
		return fmt.Errorf("config: vad k_in/k_out must be positive, got %d/%d", c.VADKIn, c.VADKOut)
	}
	switch strings.ToLower(c.NoiseMode) {
	case "off", "gentle", "moderate", "aggressive":
	default:
		return fmt.Errorf("config: unknown noise.mode %q", c.NoiseMode)
	}
	return nil
}

var current atomic.Value //nolint:gochecknoglobals

// Get returns the process-wide configuration, loading it from the
// environment on first call (grounded on DMRHub's GetConfig singleton).
func Get() *Config {
	if c, ok := current.Load().(*Config); ok {
		return c
	}
	cfg := loadConfig()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	current.Store(&cfg)
	return &cfg
}

// Reload forces a fresh read of the environment, used by tests.
func Reload() *Config {
	cfg := loadConfig()
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	current.Store(&cfg)
	return &cfg
}
