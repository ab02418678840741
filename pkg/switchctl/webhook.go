package switchctl

import (
	"encoding/json"
	"net/http"
)

// PlaybackCompleteEvent is the body the switch posts when a channel
// finishes playing an artifact (spec §6 "playback-complete event
// mechanism").
type PlaybackCompleteEvent struct {
	ChannelID  string `json:"channel_id"`
	CallID     string `json:"call_id"`
	ArtifactID string `json:"artifact_id"`
}

// PlaybackCompleteHandler is invoked for each webhook delivery.
type PlaybackCompleteHandler func(PlaybackCompleteEvent)

// WebhookHandler returns an http.Handler that decodes playback-complete
// webhooks and invokes handler for each one.
func WebhookHandler(handler PlaybackCompleteHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var event PlaybackCompleteEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler(event)
		w.WriteHeader(http.StatusNoContent)
	})
}
