package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Label     string `yaml:"label"`
	OutputDir string `yaml:"output_dir"`

	Sampling struct {
		IntervalMS        int     `yaml:"interval_ms"`
		BaselineLookbackS float64 `yaml:"baseline_lookback_s"`
	} `yaml:"sampling"`

	Ollama struct {
		BaseURL            string  `yaml:"base_url"`
		Model              string  `yaml:"model"`
		KVCacheType        string  `yaml:"kv_cache_type"`
		FlashAttention     bool    `yaml:"flash_attention"`
		ManageServer       bool    `yaml:"manage_server"`
		ServerLog          string  `yaml:"server_log"`
		Warmup             bool    `yaml:"warmup"`
		WarmupPrompt       string  `yaml:"warmup_prompt"`
		WarmupMaxGenTokens int     `yaml:"warmup_max_gen_tokens"`
		BaselineWindowS    float64 `yaml:"baseline_window_s"`
		RequestTimeoutS    float64 `yaml:"request_timeout_s"`
	} `yaml:"ollama"`

	LlamaCpp struct {
		Binary     string  `yaml:"binary"`
		ModelPath  string  `yaml:"model_path"`
		NCtx       int     `yaml:"n_ctx"`
		NGL        int     `yaml:"ngl"`
		CacheTypeK string  `yaml:"cache_type_k"`
		CacheTypeV string  `yaml:"cache_type_v"`
		TimeoutS   float64 `yaml:"timeout_s"`
	} `yaml:"llamacpp"`

	Prompt struct {
		Text         string  `yaml:"text"`
		MaxGenTokens int     `yaml:"max_gen_tokens"`
		Temperature  float64 `yaml:"temperature"`
	} `yaml:"prompt"`
}

// Load reads the YAML config and applies environment overrides. A .env file
// in the working directory is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	c.applyEnv()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "results"
	}
	if c.Sampling.IntervalMS <= 0 {
		c.Sampling.IntervalMS = 50
	}
	if c.Sampling.BaselineLookbackS <= 0 {
		c.Sampling.BaselineLookbackS = 2.0
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Ollama.WarmupPrompt == "" {
		c.Ollama.WarmupPrompt = "Hello"
	}
	if c.Ollama.WarmupMaxGenTokens <= 0 {
		c.Ollama.WarmupMaxGenTokens = 8
	}
	if c.Ollama.BaselineWindowS <= 0 {
		c.Ollama.BaselineWindowS = 3.0
	}
	if c.Ollama.RequestTimeoutS <= 0 {
		c.Ollama.RequestTimeoutS = 300
	}
	if c.LlamaCpp.Binary == "" {
		c.LlamaCpp.Binary = "llama-cli"
	}
	if c.LlamaCpp.NCtx <= 0 {
		c.LlamaCpp.NCtx = 4096
	}
	if c.LlamaCpp.TimeoutS <= 0 {
		c.LlamaCpp.TimeoutS = 1800
	}
	if c.Prompt.MaxGenTokens <= 0 {
		c.Prompt.MaxGenTokens = 50
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := os.Getenv("LLAMA_CLI"); v != "" {
		c.LlamaCpp.Binary = v
	}
	if v := os.Getenv("MEMPROF_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
}
