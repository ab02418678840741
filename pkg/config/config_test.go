package config

import (
	"os"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.RTPPortRangeLow != 20000 || cfg.RTPPortRangeHigh != 20999 {
		t.Fatalf("unexpected default rtp port range: %+v", cfg)
	}
	if cfg.VADKIn != 3 || cfg.VADKOut != 15 {
		t.Fatalf("unexpected default vad k_in/k_out: %d/%d", cfg.VADKIn, cfg.VADKOut)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigReadsEnv(t *testing.T) {
	os.Setenv("VOICEBRIDGE_RTP_PORT_RANGE_LOW", "30000")
	os.Setenv("VOICEBRIDGE_RTP_PORT_RANGE_HIGH", "30999")
	os.Setenv("VOICEBRIDGE_NOISE_MODE", "aggressive")
	defer os.Unsetenv("VOICEBRIDGE_RTP_PORT_RANGE_LOW")
	defer os.Unsetenv("VOICEBRIDGE_RTP_PORT_RANGE_HIGH")
	defer os.Unsetenv("VOICEBRIDGE_NOISE_MODE")

	cfg := loadConfig()
	if cfg.RTPPortRangeLow != 30000 || cfg.RTPPortRangeHigh != 30999 {
		t.Fatalf("expected env overrides to take effect, got %+v", cfg)
	}
	if cfg.NoiseMode != "aggressive" {
		t.Fatalf("expected noise mode override, got %s", cfg.NoiseMode)
	}
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	cfg := loadConfig()
	cfg.RTPPortRangeHigh = cfg.RTPPortRangeLow
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected validation error for degenerate port range")
	}
}

func TestValidateRejectsUnknownNoiseMode(t *testing.T) {
	cfg := loadConfig()
	cfg.NoiseMode = "extreme"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected validation error for unknown noise mode")
	}
}

func TestGetIsSingleton(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatalf("expected Get to return the same pointer across calls")
	}
}
