package callfsm

import (
	"context"
	"time"
)

// Defaults per spec §4.4: max call duration 30 minutes, silence timeout 30
// seconds. These are spec.md's literal defaults, not the narrower values
// used internally by the original Python call controller (5min/2min),
// which apply to a different deployment profile and are not carried here.
const (
	DefaultMaxCallDuration = 30 * time.Minute
	DefaultSilenceTimeout  = 30 * time.Second
)

// Per-service response-timeout defaults, per spec §5.
const (
	DefaultLLMResponseTimeout = 30 * time.Second
	DefaultSTTResponseTimeout = 15 * time.Second
	DefaultTTSResponseTimeout = 20 * time.Second
)

// Timers drives the three per-call timers named in spec §4.4: max
// duration, silence timeout, and response timeout (armed only while in
// PROCESSING). Each timer enqueues the corresponding FSM event when it
// fires; the FSM itself decides whether that event is valid from the
// call's current state.
type Timers struct {
	fsm             *FSM
	maxDuration     time.Duration
	silenceTimeout  time.Duration
	responseTimeout time.Duration

	responseTimer *time.Timer
	stop          chan struct{}
}

// NewTimers creates (but does not start) a call's timer set.
func NewTimers(fsm *FSM, maxDuration, silenceTimeout, responseTimeout time.Duration) *Timers {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxCallDuration
	}
	if silenceTimeout <= 0 {
		silenceTimeout = DefaultSilenceTimeout
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultLLMResponseTimeout
	}
	return &Timers{
		fsm:             fsm,
		maxDuration:     maxDuration,
		silenceTimeout:  silenceTimeout,
		responseTimeout: responseTimeout,
		stop:            make(chan struct{}),
	}
}

// Run starts the max-duration watchdog (the silence watchdog is started
// separately by WatchSilence). It exits when the call's context is
// cancelled (terminal state reached).
func (t *Timers) Run(ctx context.Context) {
	maxTimer := time.NewTimer(t.maxDuration)
	defer maxTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.fsm.Context().Done():
			return
		case <-maxTimer.C:
			t.fsm.Enqueue(Event{Type: EventMaxDurationExceeded})
			return
		case <-t.stop:
			return
		}
	}
}

// silenceWatch is driven by the audio pipeline: call NoteActivity whenever
// a frame arrives, and the watchdog goroutine (started once via
// WatchSilence) fires EventSilenceTimeout if SilenceTimeout elapses
// between activity notes while in LISTENING or PROCESSING.
type silenceWatch struct {
	reset chan struct{}
}

// WatchSilence starts the silence-timeout watchdog. Returns a function to
// call on every received frame (speech or not) to reset the timer.
func (t *Timers) WatchSilence(ctx context.Context) (noteActivity func()) {
	sw := &silenceWatch{reset: make(chan struct{}, 1)}
	go func() {
		timer := time.NewTimer(t.silenceTimeout)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.fsm.Context().Done():
				return
			case <-sw.reset:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(t.silenceTimeout)
			case <-timer.C:
				state := t.fsm.Current()
				if state == StateListening || state == StateProcessing {
					t.fsm.Enqueue(Event{Type: EventSilenceTimeout})
					return
				}
				timer.Reset(t.silenceTimeout)
			}
		}
	}()
	return func() {
		select {
		case sw.reset <- struct{}{}:
		default:
		}
	}
}

// ArmResponseTimeout starts the response-timeout watchdog on entering
// PROCESSING. Cancel by calling the returned function once a result
// arrives.
func (t *Timers) ArmResponseTimeout(onTimeout func()) (cancel func()) {
	timer := time.AfterFunc(t.responseTimeout, onTimeout)
	return func() { timer.Stop() }
}

// Stop halts any timers still running outside of context cancellation.
func (t *Timers) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}
