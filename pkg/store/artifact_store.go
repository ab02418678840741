package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Artifact is the persisted TTS output record (spec §3 "TTS artifact").
type Artifact struct {
	ArtifactID string    `json:"artifact_id"`
	Handle     string    `json:"handle"`
	DurationMs int       `json:"duration_ms"`
	ByteLength int       `json:"byte_length"`
	SampleRate int       `json:"sample_rate"`
	Encoding   string    `json:"encoding"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	CallID     string    `json:"call_id"`
}

const (
	artifactKeyPrefix    = "artifact:"
	defaultArtifactTTL   = 5 * time.Minute
)

func artifactKey(artifactID string) string {
	return artifactKeyPrefix + artifactID
}

// ArtifactStore persists TTS artifact records keyed artifact:<artifact_id>
// with handle shape <base>/<artifact_id>.<encoding> (spec §6).
type ArtifactStore struct {
	kv   KV
	base string
}

// NewArtifactStore builds a store that mints handles rooted at base
// (the shared-storage directory the switch reads from).
func NewArtifactStore(kv KV, base string) *ArtifactStore {
	return &ArtifactStore{kv: kv, base: base}
}

// Handle computes the shared-storage path for an artifact without
// requiring a round-trip through the store.
func (s *ArtifactStore) Handle(artifactID, encoding string) string {
	return fmt.Sprintf("%s/%s.%s", s.base, artifactID, encoding)
}

// Create records a newly synthesized artifact with expires_at = now+ttl
// (default 5 minutes per spec §3), keyed by its own TTL in the KV layer
// so an un-cleaned record self-expires even if Release is never called.
func (s *ArtifactStore) Create(ctx context.Context, artifactID, callID, encoding string, sampleRate, durationMs, byteLength int, now time.Time, ttl time.Duration) (*Artifact, error) {
	if ttl <= 0 {
		ttl = defaultArtifactTTL
	}
	art := &Artifact{
		ArtifactID: artifactID,
		Handle:     s.Handle(artifactID, encoding),
		DurationMs: durationMs,
		ByteLength: byteLength,
		SampleRate: sampleRate,
		Encoding:   encoding,
		CallID:     callID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	raw, err := json.Marshal(art)
	if err != nil {
		return nil, fmt.Errorf("store: marshal artifact %s: %w", artifactID, err)
	}
	if err := s.kv.Set(ctx, artifactKey(artifactID), raw, ttl); err != nil {
		return nil, err
	}
	return art, nil
}

// Load fetches an artifact record, if still present (a missing record
// means it already expired or was released).
func (s *ArtifactStore) Load(ctx context.Context, artifactID string) (*Artifact, bool, error) {
	raw, ok, err := s.kv.Get(ctx, artifactKey(artifactID))
	if err != nil || !ok {
		return nil, ok, err
	}
	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal artifact %s: %w", artifactID, err)
	}
	return &art, true, nil
}

// Release removes an artifact record, called after playback completes
// or on call teardown — whichever is first (spec §3 lifecycle).
func (s *ArtifactStore) Release(ctx context.Context, artifactID string) error {
	return s.kv.Delete(ctx, artifactKey(artifactID))
}
