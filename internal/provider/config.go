package provider

import (
	"fmt"
	"strings"
)

// Validate checks that the selected backend has every required setting.
// Error messages name the environment variable to set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNone:
		return nil
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: ollama requires OLLAMA_HOST")
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: ollama requires OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: openai requires OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: openai requires OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: azure requires AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: bedrock requires BEDROCK_MODEL_ID")
		}
		if c.Bedrock.AWSRegion == "" {
			return fmt.Errorf("provider: bedrock requires AWS_REGION")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: gemini requires GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: gemini requires GEMINI_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: none, ollama, openai, azure, bedrock, gemini)", c.Backend)
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 1 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE %v must be within [0, 1]", c.Tuning.Temperature)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series or
// codex reasoning model. These reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}
