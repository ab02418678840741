package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names the typed pub/sub channels from spec §4.7. Schemas are
// authoritative; these names are indicative but kept stable across the
// codebase as constants to avoid typos scattering through call sites.
type Topic string

const (
	TopicSTTRequest    Topic = "stt.request"
	TopicSTTResult     Topic = "stt.result"
	TopicSTTPartial    Topic = "stt.partial"
	TopicLLMRequest    Topic = "llm.request"
	TopicLLMPartial    Topic = "llm.response.partial"
	TopicLLMResponse   Topic = "llm.response"
	TopicLLMError      Topic = "llm.error"
	TopicLLMCancel     Topic = "llm.cancel"
	TopicTTSRequest    Topic = "tts.request"
	TopicTTSReady      Topic = "tts.ready"
	TopicTTSFailed     Topic = "tts.failed"
	TopicTTSCancel     Topic = "tts.cancel"
	TopicBargeIn       Topic = "call.barge_in"
	TopicControlPlay   Topic = "call.control.play_audio"
	TopicControlStop   Topic = "call.control.stop_audio"
	TopicControlEnd    Topic = "call.control.end_conversation"
	TopicControlReply  Topic = "call.control.generate_response"
	TopicHealthSTT     Topic = "health.stt"
	TopicHealthLLM     Topic = "health.llm"
	TopicHealthTTS     Topic = "health.tts"
	TopicHealthCtrl    Topic = "health.controller"
)

// SchemaVersion is bumped on incompatible wire-schema changes. Consumers
// reject envelopes whose major version they don't recognize.
const SchemaVersion = 1

// Envelope is spec §3's bus envelope entity.
type Envelope struct {
	Topic          Topic       `json:"topic"`
	SchemaVersion  int         `json:"schema_version"`
	CallID         string      `json:"call_id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Payload        interface{} `json:"payload"`
}

// NewEnvelope stamps a payload with the current schema version and
// timestamp.
func NewEnvelope(topic Topic, callID, correlationID string, payload interface{}) Envelope {
	return Envelope{
		Topic:         topic,
		SchemaVersion: SchemaVersion,
		CallID:        callID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		Payload:       payload,
	}
}

// DecodePayload re-marshals an envelope's payload into out. Needed because
// a Bus-consumed Envelope's Payload has already gone through one JSON
// round trip and arrives as map[string]interface{}, not the original
// struct type.
func DecodePayload(env Envelope, out interface{}) error {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("bus: re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bus: decode payload: %w", err)
	}
	return nil
}
