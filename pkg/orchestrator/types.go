package orchestrator

import (
	"context"
)

type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

// Usage reports token accounting for one completion (spec §6 LLM backend
// contract: "complete(...) → {text, usage}").
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, Usage, error)
	Name() string
}

// StreamingLLMProvider additionally supports streaming partial completions
// (spec §4.6 "may emit llm.response.partial events followed by
// llm.response on completion").
type StreamingLLMProvider interface {
	LLMProvider
	StreamComplete(ctx context.Context, messages []Message, maxTokens int, temperature float64, onChunk func(partial string) error) (string, Usage, error)
}

type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	// Abort cancels any in-flight synthesis started by Synthesize or
	// StreamSynthesize for this provider instance (spec §5 cancellation
	// semantics, driven from CallSession's barge-in handling).
	Abort(ctx context.Context) error
	Name() string
}

type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
