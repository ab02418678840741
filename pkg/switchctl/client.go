package switchctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError wraps a non-2xx HTTP response from the switch.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("switchctl: %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// Client calls the telephony switch's HTTP control API with basic auth
// (spec §6 "Switch control interface"). The path shape is
// implementation-dictated; this client uses the REST-ish layout DMRHub's
// own provider clients favor (plain net/http, no generated SDK).
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

// NewClient builds a switch control client.
func NewClient(baseURL, user, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Channel describes one active media channel on the switch.
//
// RemoteRTPAddr is only populated on the OriginateSnoop response: it names
// the host:port the switch will send this channel's RTP to, which the
// caller needs to bind a local rtpengine.Endpoint and learn where to send
// audio back. Discovery of new channels and their media address is
// implementation-dictated (spec.md §1); this is voicebridge's choice of
// wire shape for it, not a contract the switch itself defines.
type Channel struct {
	ChannelID     string `json:"channel_id"`
	CallID        string `json:"call_id"`
	State         string `json:"state"`
	RemoteRTPAddr string `json:"remote_rtp_addr,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("switchctl: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("switchctl: build request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("switchctl: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("switchctl: decode response: %w", err)
		}
	}
	return nil
}

// ListChannels enumerates active channels on the switch.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// PlayAudio instructs the switch to play an artifact handle on a channel.
func (c *Client) PlayAudio(ctx context.Context, channelID, handle string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/play", map[string]string{
		"handle": handle,
	}, nil)
}

// StopPlayback stops any in-progress playback on a channel (used for
// barge-in).
func (c *Client) StopPlayback(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/stop", nil, nil)
}

// Hangup terminates a channel. Per spec §6, hanging up a channel that is
// already gone must not fail the orchestrator, so a 404 is treated as
// success.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/hangup", nil, nil)
	if err == nil {
		return nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// OriginateSnoop starts a snoop channel that duplicates media for a
// target channel, used to feed the RTP engine.
func (c *Client) OriginateSnoop(ctx context.Context, channelID string) (Channel, error) {
	var snoop Channel
	err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/snoop", nil, &snoop)
	return snoop, err
}
