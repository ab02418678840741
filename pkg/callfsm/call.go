package callfsm

import "time"

// Instructions is spec §3's per-call configuration value object. It is
// immutable for the call lifetime unless an explicit UpdateInstructions
// event is processed.
type Instructions struct {
	SystemPrompt      string
	Language          string
	Voice             string
	MaxCallDuration   time.Duration
	SilenceTimeout    time.Duration
	ResponseTimeout   time.Duration
	Recording         bool
	Transcription     bool
	TransferTarget    string
	Metadata          map[string]string
}

// Call is spec §3's Call entity.
type Call struct {
	CallID          string
	ChannelID       string
	CallerID        string
	Inbound         bool
	CreatedAt       time.Time
	LastActivity    time.Time
	LocalPort       int
	RemoteHost      string
	RemotePort      int
	Codec           string
	SSRC            uint32
	State           State
	Instructions    Instructions
	ConversationID  string
}
