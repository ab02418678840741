package rtpengine

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// ChannelRecord is the per-call record the correlation manager binds an
// SSRC to: enough to route decoded frames and outbound pacing to the right
// call without the RTP engine holding a pointer into call/session state.
type ChannelRecord struct {
	CallID       string
	LocalPort    int
	RemoteHost   string
	RemotePort   int
	OutboundSSRC uint32
}

// CorrelationManager maintains ssrc→call_id, call_id→channel and
// port→call_id maps. Binding is idempotent and permanent for the stream's
// lifetime: once an SSRC is bound to a call, it is never rebound to another
// call, matching spec §4.2's correlation contract. Reads vastly outnumber
// writes (new calls), so all three maps use xsync's lock-free concurrent
// map rather than a mutex-guarded Go map.
type CorrelationManager struct {
	ssrcToCall *xsync.MapOf[uint32, string]
	callToChan *xsync.MapOf[string, *ChannelRecord]
	portToCall *xsync.MapOf[int, string]
}

// NewCorrelationManager creates an empty correlation manager.
func NewCorrelationManager() *CorrelationManager {
	return &CorrelationManager{
		ssrcToCall: xsync.NewMapOf[uint32, string](),
		callToChan: xsync.NewMapOf[string, *ChannelRecord](),
		portToCall: xsync.NewMapOf[int, string](),
	}
}

// BindListeningPort records which call owns a leased local port, so that
// the first packet arriving on that port can be correlated to a call.
func (c *CorrelationManager) BindListeningPort(port int, callID string, rec *ChannelRecord) {
	c.portToCall.Store(port, callID)
	c.callToChan.Store(callID, rec)
}

// BindSSRC performs the idempotent, permanent ssrc→call_id bind. If the
// SSRC is already bound, the existing binding is returned and no
// modification is made, even if localPort now belongs to a different call.
func (c *CorrelationManager) BindSSRC(ssrc uint32, localPort int) (callID string, ok bool) {
	if existing, found := c.ssrcToCall.Load(ssrc); found {
		return existing, true
	}
	callID, found := c.portToCall.Load(localPort)
	if !found {
		return "", false
	}
	actual, _ := c.ssrcToCall.LoadOrStore(ssrc, callID)
	return actual, true
}

// CallForSSRC resolves a bound SSRC to its call ID.
func (c *CorrelationManager) CallForSSRC(ssrc uint32) (string, bool) {
	return c.ssrcToCall.Load(ssrc)
}

// Channel returns the channel record for a call.
func (c *CorrelationManager) Channel(callID string) (*ChannelRecord, bool) {
	return c.callToChan.Load(callID)
}

// Release removes all bindings for a terminated call, including any SSRCs
// bound to it. Called once the FSM reaches a terminal state.
func (c *CorrelationManager) Release(callID string) {
	rec, ok := c.callToChan.LoadAndDelete(callID)
	if ok {
		c.portToCall.Delete(rec.LocalPort)
	}
	c.ssrcToCall.Range(func(ssrc uint32, cid string) bool {
		if cid == callID {
			c.ssrcToCall.Delete(ssrc)
		}
		return true
	})
}
