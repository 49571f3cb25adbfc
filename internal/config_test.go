package internal

import (
	"strings"
	"testing"

	"github.com/starford/raido/internal/convert"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if got := cfg.App.HTTP.Address(); got != ":8080" {
		t.Errorf("address = %q, want %q", got, ":8080")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestConvertConfig_ResolvesFill(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Convert.Fill = "#ff0080"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	fill := cfg.Convert.Params.Fill
	if fill.Transparent {
		t.Fatal("fill should be solid")
	}
	if c := fill.Color; c.R != 0xff || c.G != 0x00 || c.B != 0x80 || c.A != 0xff {
		t.Errorf("fill = %+v, want #ff0080", fill)
	}
}

func TestConvertConfig_RejectsBadFill(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Convert.Fill = "magenta"
	if err := cfg.Validate(); err == nil {
		t.Fatal("named colours other than transparent should be rejected")
	}
}

func TestConvertConfig_RejectsBadFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Convert.Params.Format = convert.Format("webp")
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown output format should fail validation")
	}
}

func TestImportConfig_RejectsZeroWorkers(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Import.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero workers should fail validation")
	}
}

func TestCacheConfig_RejectsEmptyPath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Cache.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty cache path should fail validation")
	}
}
