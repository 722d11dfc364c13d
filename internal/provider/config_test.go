package provider

import (
	"context"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	ollama := ProviderOllama{Host: "http://localhost:11434", Model: "llama3"}
	azure := ProviderAzureOpenAI{APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4o"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "none", cfg: Config{Backend: BackendNone}},
		{name: "ollama", cfg: Config{Backend: BackendOllama, Ollama: ollama}},
		{name: "ollama no model", cfg: Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: ollama.Host}}, wantErr: "OLLAMA_MODEL"},
		{name: "openai", cfg: Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"}}},
		{name: "openai no key", cfg: Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{Model: "gpt-4o"}}, wantErr: "OPENAI_API_KEY"},
		{name: "openai no model", cfg: Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test"}}, wantErr: "OPENAI_MODEL"},
		{name: "azure", cfg: Config{Backend: BackendAzure, AzureOpenAI: azure}},
		{name: "azure no key", cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{Endpoint: azure.Endpoint, Deployment: "gpt-4o"}}, wantErr: "AZURE_OPENAI_API_KEY"},
		{name: "azure no endpoint", cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{APIKey: "key", Deployment: "gpt-4o"}}, wantErr: "AZURE_OPENAI_ENDPOINT"},
		{name: "azure no deployment", cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{APIKey: "key", Endpoint: azure.Endpoint}}, wantErr: "AZURE_OPENAI_DEPLOYMENT"},
		{name: "bedrock", cfg: Config{Backend: BackendBedrock, Bedrock: ProviderBedrock{AWSRegion: "eu-west-1", ModelID: "anthropic.claude-3"}}},
		{name: "bedrock no model", cfg: Config{Backend: BackendBedrock, Bedrock: ProviderBedrock{AWSRegion: "eu-west-1"}}, wantErr: "BEDROCK_MODEL_ID"},
		{name: "bedrock no region", cfg: Config{Backend: BackendBedrock, Bedrock: ProviderBedrock{ModelID: "anthropic.claude-3"}}, wantErr: "AWS_REGION"},
		{name: "gemini", cfg: Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test", Model: "gemini-1.5-pro"}}},
		{name: "gemini no key", cfg: Config{Backend: BackendGemini, Gemini: ProviderGemini{Model: "gemini-1.5-pro"}}, wantErr: "GOOGLE_API_KEY"},
		{name: "gemini no model", cfg: Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test"}}, wantErr: "GEMINI_MODEL"},
		{name: "summary temperature too high", cfg: Config{Backend: BackendOllama, Ollama: ollama, Tuning: SharedTuning{Temperature: 1.5}}, wantErr: "MODEL_TEMPERATURE"},
		{name: "unknown backend", cfg: Config{Backend: "claude-local"}, wantErr: "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			switch {
			case tc.wantErr == "" && err != nil:
				t.Errorf("Validate() unexpected error: %v", err)
			case tc.wantErr != "" && err == nil:
				t.Errorf("Validate() expected error containing %q, got nil", tc.wantErr)
			case tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr):
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"o1", "o1-mini", "o3-pro", "o4-mini", "O3-Mini", "codex-mini"} {
		if !isAzureReasoningModel(d) {
			t.Errorf("%q should be treated as a reasoning model", d)
		}
	}
	for _, d := range []string{"gpt-4o", "gpt-4.1", "gpt-35-turbo", "gpt-5.2-codex", "summaries-prod", ""} {
		if isAzureReasoningModel(d) {
			t.Errorf("%q should not be treated as a reasoning model", d)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4.1")
	t.Setenv("AZURE_OPENAI_API_VERSION", "")
	t.Setenv("MODEL_MAX_TOKENS", "512")
	t.Setenv("MODEL_TEMPERATURE", "not-a-number")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendAzure {
		t.Errorf("Backend = %q, want azure", cfg.Backend)
	}
	if cfg.ModelName() != "gpt-4.1" {
		t.Errorf("ModelName() = %q, want gpt-4.1", cfg.ModelName())
	}
	if cfg.AzureOpenAI.APIVersion != "2024-02-01" {
		t.Errorf("APIVersion = %q, want default", cfg.AzureOpenAI.APIVersion)
	}
	if cfg.Tuning.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", cfg.Tuning.MaxTokens)
	}
	if cfg.Tuning.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want fallback 0.2", cfg.Tuning.Temperature)
	}
}

func TestNewNoneReturnsNilModel(t *testing.T) {
	t.Parallel()
	m, err := New(context.Background(), &Config{Backend: BackendNone})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("New() = %v, want nil model for none backend", m)
	}
}
