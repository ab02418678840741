package switchctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			t.Fatalf("expected basic auth credentials to be set")
		}
		json.NewEncoder(w).Encode([]Channel{{ChannelID: "ch1", CallID: "call-1", State: "up"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	channels, err := c.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 1 || channels[0].ChannelID != "ch1" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
}

func TestHangupIdempotentOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	if err := c.Hangup(context.Background(), "gone"); err != nil {
		t.Fatalf("expected hangup of missing channel to succeed, got %v", err)
	}
}

func TestHangupPropagatesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	if err := c.Hangup(context.Background(), "ch1"); err == nil {
		t.Fatalf("expected hangup to propagate non-404 errors")
	}
}

func TestPlayAudio(t *testing.T) {
	var gotHandle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotHandle = body["handle"]
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	if err := c.PlayAudio(context.Background(), "ch1", "/srv/audio/a1.wav"); err != nil {
		t.Fatalf("play audio: %v", err)
	}
	if gotHandle != "/srv/audio/a1.wav" {
		t.Fatalf("unexpected handle sent: %s", gotHandle)
	}
}

func TestWebhookHandlerDecodesEvent(t *testing.T) {
	var got PlaybackCompleteEvent
	handler := WebhookHandler(func(event PlaybackCompleteEvent) {
		got = event
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()

	body, _ := json.Marshal(PlaybackCompleteEvent{ChannelID: "ch1", CallID: "call-1", ArtifactID: "art-1"})
	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got.ArtifactID != "art-1" {
		t.Fatalf("unexpected decoded event: %+v", got)
	}
}
