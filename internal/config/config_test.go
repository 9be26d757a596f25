package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Face.MatchThreshold != 0.55 {
		t.Errorf("expected default threshold 0.55, got %v", cfg.Face.MatchThreshold)
	}
	if cfg.Face.VerifyMaxAttempts != 3 {
		t.Errorf("expected 3 verify attempts, got %d", cfg.Face.VerifyMaxAttempts)
	}
	if cfg.Face.LoginMaxAttempts != 5 {
		t.Errorf("expected 5 login attempts, got %d", cfg.Face.LoginMaxAttempts)
	}
	if cfg.Face.LoginAttemptWindow != 5*time.Minute {
		t.Errorf("expected 5m login window, got %v", cfg.Face.LoginAttemptWindow)
	}
	if cfg.Face.EnrollTargetFrames != 5 {
		t.Errorf("expected 5 enroll frames, got %d", cfg.Face.EnrollTargetFrames)
	}
	if len(cfg.Model.Models) != 3 {
		t.Errorf("expected 3 default models, got %v", cfg.Model.Models)
	}
}

func TestLoad_EmbeddedGateDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Gate.VerifyPath != "/face-verify" {
		t.Errorf("expected /face-verify, got %q", cfg.Gate.VerifyPath)
	}

	// The allow-list must contain the verification submit endpoint itself,
	// otherwise the gate deadlocks, and logout so a stuck user can escape.
	required := []string{"/api/face/verify", "/api/auth/logout", "/face-verify", "/face-verify/skip"}
	for _, want := range required {
		found := false
		for _, p := range cfg.Gate.AllowedPaths {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("embedded allow-list missing %q", want)
		}
	}

	if len(cfg.Gate.StaticPrefixes) == 0 {
		t.Error("expected non-empty static prefixes")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACEID_VERIFY_MAX_ATTEMPTS", "7")
	t.Setenv("FACEID_GATE_VERIFY_PATH", "/2fa/face")
	t.Setenv("FACEID_GATE_ALLOWED_PATHS", "/2fa/face, /logout")
	t.Setenv("FACEID_MATCH_THRESHOLD", "0.4")

	cfg := Load()

	if cfg.Face.VerifyMaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", cfg.Face.VerifyMaxAttempts)
	}
	if cfg.Gate.VerifyPath != "/2fa/face" {
		t.Errorf("expected /2fa/face, got %q", cfg.Gate.VerifyPath)
	}
	if len(cfg.Gate.AllowedPaths) != 2 || cfg.Gate.AllowedPaths[1] != "/logout" {
		t.Errorf("expected trimmed override list, got %v", cfg.Gate.AllowedPaths)
	}
	if cfg.Face.MatchThreshold != 0.4 {
		t.Errorf("expected 0.4, got %v", cfg.Face.MatchThreshold)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("FACEID_VERIFY_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("FACEID_MATCH_THRESHOLD", "-3")

	cfg := Load()

	if cfg.Face.VerifyMaxAttempts != 3 {
		t.Errorf("invalid int should fall back to 3, got %d", cfg.Face.VerifyMaxAttempts)
	}
	if cfg.Face.MatchThreshold != 0.55 {
		t.Errorf("invalid float should fall back to 0.55, got %v", cfg.Face.MatchThreshold)
	}
}
