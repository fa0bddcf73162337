package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"comic-translator/internal/types"
)

func TestNewConfigManager(t *testing.T) {
	t.Run("with custom path", func(t *testing.T) {
		customPath := filepath.Join(t.TempDir(), "test-config.json")
		cm, err := NewConfigManager(customPath)
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if cm.GetConfigPath() != customPath {
			t.Errorf("expected config path %s, got %s", customPath, cm.GetConfigPath())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		cm, err := NewConfigManager("")
		if err != nil {
			t.Fatalf("NewConfigManager failed: %v", err)
		}
		if filepath.Base(cm.GetConfigPath()) != DefaultConfigFileName {
			t.Errorf("unexpected default config path %s", cm.GetConfigPath())
		}
	})
}

func TestConfigManager_LoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "test-config.json")

	t.Run("Load with non-existent file uses defaults", func(t *testing.T) {
		cm, _ := NewConfigManager(configPath)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		config := cm.GetConfig()
		if config.OpenAIModel != DefaultModel {
			t.Errorf("expected default model %s, got %s", DefaultModel, config.OpenAIModel)
		}
		if config.Heuristics != types.DefaultHeuristics() {
			t.Errorf("expected default heuristics, got %+v", config.Heuristics)
		}
		if config.MaxImageDimension != DefaultMaxImageDimension {
			t.Errorf("expected max dimension %d, got %d", DefaultMaxImageDimension, config.MaxImageDimension)
		}
	})

	t.Run("Save then Load round trips user values", func(t *testing.T) {
		cm, _ := NewConfigManager(configPath)
		cfg := DefaultConfig()
		cfg.OpenAIModel = "gpt-4o"
		cfg.TargetLang = "French"
		cfg.Heuristics.RectangleRatio = 0.75
		cm.SetConfig(cfg)

		if err := cm.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
		}

		cm2, _ := NewConfigManager(configPath)
		if err := cm2.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		got := cm2.GetConfig()
		if got.OpenAIModel != "gpt-4o" || got.TargetLang != "French" {
			t.Errorf("values not preserved: %+v", got)
		}
		if got.Heuristics.RectangleRatio != 0.75 {
			t.Errorf("expected rectangle ratio 0.75, got %v", got.Heuristics.RectangleRatio)
		}
	})

	t.Run("partial file gets defaults for missing fields", func(t *testing.T) {
		partial := filepath.Join(t.TempDir(), "partial.json")
		data, _ := json.Marshal(map[string]any{
			"openai_model": "local-model",
			"heuristics":   map[string]any{"bold_density": 0.4},
		})
		if err := os.WriteFile(partial, data, 0600); err != nil {
			t.Fatal(err)
		}

		cm, _ := NewConfigManager(partial)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		h := cm.GetHeuristics()
		if h.BoldDensity != 0.4 {
			t.Errorf("expected bold density 0.4, got %v", h.BoldDensity)
		}
		if h.FloorFontSize != 8 || h.PatchAlpha != 245 {
			t.Errorf("expected defaults for unset heuristics, got %+v", h)
		}
		if cm.GetConfig().CategoryFonts["sfx"] == "" {
			t.Error("expected default sfx font")
		}
	})

	t.Run("invalid JSON falls back to defaults", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(bad, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		cm, _ := NewConfigManager(bad)
		if err := cm.Load(); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cm.GetModel() != DefaultModel {
			t.Errorf("expected default model, got %s", cm.GetModel())
		}
	})
}

func TestConfigManager_EnvFallbacks(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "env-key")
	t.Setenv(EnvOpenAIBaseURL, "http://localhost:8080/v1")
	t.Setenv(EnvOnnxRuntimeLib, "/opt/onnx/libonnxruntime.so")

	cm, _ := NewConfigManager(filepath.Join(t.TempDir(), "c.json"))
	if got := cm.GetAPIKey(); got != "env-key" {
		t.Errorf("expected env api key, got %q", got)
	}
	if got := cm.GetBaseURL(); got != "http://localhost:8080/v1" {
		t.Errorf("expected env base url, got %q", got)
	}
	if got := cm.GetOnnxRuntimeLib(); got != "/opt/onnx/libonnxruntime.so" {
		t.Errorf("expected env onnx lib, got %q", got)
	}

	cfg := DefaultConfig()
	cfg.OpenAIAPIKey = "file-key"
	cfg.OpenAIBaseURL = "http://proxy/v1"
	cm.SetConfig(cfg)
	if got := cm.GetAPIKey(); got != "file-key" {
		t.Errorf("expected file api key, got %q", got)
	}
	if got := cm.GetBaseURL(); got != "http://proxy/v1" {
		t.Errorf("expected file base url, got %q", got)
	}
}

func TestDefaultConcurrency(t *testing.T) {
	n := DefaultConcurrency()
	if n < 1 || n > MaxDefaultConcurrency {
		t.Errorf("concurrency %d out of range [1,%d]", n, MaxDefaultConcurrency)
	}
}
