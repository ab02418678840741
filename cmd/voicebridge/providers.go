package main

import (
	"fmt"
	"os"

	"github.com/lokutor-ai/voicebridge/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/voicebridge/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voicebridge/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voicebridge/pkg/providers/tts"
)

// Provider selection mirrors cmd/agent's original STT_PROVIDER/LLM_PROVIDER
// env switch: which backend class to build stays outside pkg/config (it's
// a deploy-time choice, not a call-time tunable), while the model name
// itself comes from pkg/config's LLMPrimaryModel/LLMFallbackModel so it can
// vary without touching provider wiring.

func buildSTT(name, model string) (orchestrator.STTProvider, error) {
	switch name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		if model == "" {
			model = "whisper-1"
		}
		return sttProvider.NewOpenAISTT(key, model), nil
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(key), nil
	case "assemblyai":
		key := os.Getenv("ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(key), nil
	case "groq", "":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return sttProvider.NewGroqSTT(key, model), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", name)
	}
}

func buildLLM(name, model string) (orchestrator.LLMProvider, error) {
	switch name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai LLM")
		}
		if model == "" {
			model = "gpt-4o"
		}
		return llmProvider.NewOpenAILLM(key, model), nil
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return llmProvider.NewAnthropicLLM(key, model), nil
	case "google":
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY must be set for google LLM")
		}
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return llmProvider.NewGoogleLLM(key, model), nil
	case "groq", "":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq LLM")
		}
		if model == "" {
			model = "llama-3.3-70b-versatile"
		}
		return llmProvider.NewGroqLLM(key, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

func buildTTS() (orchestrator.TTSProvider, error) {
	key := os.Getenv("LOKUTOR_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("LOKUTOR_API_KEY must be set")
	}
	return ttsProvider.NewLokutorTTS(key), nil
}
