package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole is one of the three roles allowed in a conversation (spec §3).
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role      MessageRole       `json:"role"`
	Content   string            `json:"content"`
	Tokens    int               `json:"tokens"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Conversation is the persisted record keyed conversation:<call_id>,
// shaped exactly per spec.md §6's JSON body.
type Conversation struct {
	CallID         string    `json:"call_id"`
	ConversationID string    `json:"conversation_id"`
	State          string    `json:"state"`
	Messages       []Message `json:"messages"`
	TotalTokens    int       `json:"total_tokens"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

const conversationKeyPrefix = "conversation:"

func conversationKey(callID string) string {
	return conversationKeyPrefix + callID
}

// ConversationStore persists Conversation records, enforcing the token
// budget by dropping the oldest non-system messages, one at a time, while
// always keeping the leading system message (spec §3 invariants (a)-(c)), grounded on
// the orchestrator's conversation_manager.py truncation policy.
type ConversationStore struct {
	kv  KV
	ttl time.Duration
}

// NewConversationStore builds a store with the given default TTL
// (spec default 3600s).
func NewConversationStore(kv KV, ttl time.Duration) *ConversationStore {
	if ttl <= 0 {
		ttl = 3600 * time.Second
	}
	return &ConversationStore{kv: kv, ttl: ttl}
}

// Create starts a new conversation with its system prompt as the first
// message (spec §3 invariant (a)).
func (s *ConversationStore) Create(ctx context.Context, callID, conversationID, systemPrompt string, now time.Time) (*Conversation, error) {
	conv := &Conversation{
		CallID:         callID,
		ConversationID: conversationID,
		State:          "active",
		Messages: []Message{{
			Role:      RoleSystem,
			Content:   systemPrompt,
			Tokens:    estimateTokens(systemPrompt),
			Timestamp: now,
		}},
		CreatedAt:    now,
		LastActivity: now,
	}
	conv.TotalTokens = conv.Messages[0].Tokens
	return conv, s.Save(ctx, conv)
}

// Load fetches the conversation for a call, if present.
func (s *ConversationStore) Load(ctx context.Context, callID string) (*Conversation, bool, error) {
	raw, ok, err := s.kv.Get(ctx, conversationKey(callID))
	if err != nil || !ok {
		return nil, ok, err
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal conversation %s: %w", callID, err)
	}
	return &conv, true, nil
}

// Save persists the conversation with the store's TTL.
func (s *ConversationStore) Save(ctx context.Context, conv *Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("store: marshal conversation %s: %w", conv.CallID, err)
	}
	return s.kv.Set(ctx, conversationKey(conv.CallID), raw, s.ttl)
}

// Delete removes the conversation, used when the FSM reaches a terminal
// state (spec §3: "ended when the FSM enters a terminal state").
func (s *ConversationStore) Delete(ctx context.Context, callID string) error {
	return s.kv.Delete(ctx, conversationKey(callID))
}

// Append adds a message, then drops the oldest non-system message, one at
// a time (never the system message), until TotalTokens is at most
// maxTokens or only the system message is left (spec §3 invariant (b),
// §4.5 truncation rule).
func (s *ConversationStore) Append(conv *Conversation, msg Message, maxTokens int) {
	conv.Messages = append(conv.Messages, msg)
	conv.TotalTokens += msg.Tokens
	conv.LastActivity = msg.Timestamp

	for conv.TotalTokens > maxTokens && len(conv.Messages) > 1 {
		// conv.Messages[0] is always the system message; drop the
		// oldest non-system entry.
		victim := conv.Messages[1]
		conv.Messages = append(conv.Messages[:1], conv.Messages[2:]...)
		conv.TotalTokens -= victim.Tokens
	}
}

// estimateTokens is a cheap whitespace-based approximation; a real
// tokenizer is a model-backend concern, out of scope for the core.
func estimateTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	if count == 0 && len(text) > 0 {
		count = 1
	}
	return count
}
