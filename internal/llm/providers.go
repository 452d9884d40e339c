// Package llm initializes chat models for the planner and the
// evaluator. All call sites work against the langchaingo llms.Model
// interface so tests can substitute a fake.
package llm

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"webloop/internal/utils"
)

// Provider represents the available LLM providers.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenRouter Provider = "openrouter"
)

// Config holds configuration for LLM initialization.
type Config struct {
	Provider Provider
	ModelID  string
	// Fallback models tried in order when the primary fails to
	// initialize.
	FallbackModels []string
	Logger         utils.ExtendedLogger
}

// InitializeLLM creates a chat model for the configured provider,
// falling back through FallbackModels when the primary cannot be
// initialized.
func InitializeLLM(config Config) (llms.Model, error) {
	model, err := initialize(config, config.ModelID)
	if err == nil {
		return model, nil
	}

	if len(config.FallbackModels) > 0 {
		config.Logger.Infof("Primary model failed, trying fallback models - primary_model: %s, fallback_models: %v, error: %s",
			config.ModelID, config.FallbackModels, err.Error())
		for _, fallback := range config.FallbackModels {
			model, ferr := initialize(config, fallback)
			if ferr == nil {
				config.Logger.Infof("Successfully initialized fallback model - fallback_model: %s", fallback)
				return model, nil
			}
			config.Logger.Infof("Fallback model failed - fallback_model: %s, error: %s", fallback, ferr.Error())
		}
	}
	return nil, fmt.Errorf("all models failed for provider %s: %w", config.Provider, err)
}

func initialize(config Config, modelID string) (llms.Model, error) {
	switch config.Provider {
	case ProviderOpenAI:
		return initializeOpenAI(config, modelID)
	case ProviderAnthropic:
		return initializeAnthropic(config, modelID)
	case ProviderOpenRouter:
		return initializeOpenRouter(config, modelID)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}

func initializeOpenAI(config Config, modelID string) (llms.Model, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI provider")
	}
	if modelID == "" {
		modelID = "gpt-4.1"
	}

	model, err := openai.New(openai.WithModel(modelID))
	if err != nil {
		return nil, fmt.Errorf("initialize openai model %s: %w", modelID, err)
	}
	config.Logger.Infof("Initialized OpenAI LLM - model_id: %s", modelID)
	return model, nil
}

func initializeAnthropic(config Config, modelID string) (llms.Model, error) {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for Anthropic provider")
	}
	if modelID == "" {
		modelID = "claude-3-5-sonnet-20241022"
	}

	model, err := anthropic.New(anthropic.WithModel(modelID))
	if err != nil {
		return nil, fmt.Errorf("initialize anthropic model %s: %w", modelID, err)
	}
	config.Logger.Infof("Initialized Anthropic LLM - model_id: %s", modelID)
	return model, nil
}

func initializeOpenRouter(config Config, modelID string) (llms.Model, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is required for OpenRouter provider")
	}
	if modelID == "" {
		modelID = "openai/gpt-4.1"
	}

	model, err := openai.New(
		openai.WithModel(modelID),
		openai.WithBaseURL("https://openrouter.ai/api/v1"),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize openrouter model %s: %w", modelID, err)
	}
	config.Logger.Infof("Initialized OpenRouter LLM - model_id: %s", modelID)
	return model, nil
}
