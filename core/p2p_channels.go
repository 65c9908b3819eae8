package core

// Propagation channels (snark, snark-commitment, transaction and
// streaming-rpc) share one small machine: the channel as a whole moves
// Enabled → Init → Pending → Ready, and each direction then cycles
// WaitingForRequest → Requested → Responding → Responded with sliding
// indices so neither side can flood the other.

// PropagationStatus is the channel lifecycle.
type PropagationStatus string

const (
	PropagationDisabled PropagationStatus = "disabled"
	PropagationEnabled  PropagationStatus = "enabled"
	PropagationInit     PropagationStatus = "init"
	PropagationPending  PropagationStatus = "pending"
	PropagationReady    PropagationStatus = "ready"
)

// PropagationSideStatus is the request/response cycle of one direction.
type PropagationSideStatus string

const (
	SideWaitingForRequest PropagationSideStatus = "waiting_for_request"
	SideRequested         PropagationSideStatus = "requested"
	SideResponding        PropagationSideStatus = "responding"
	SideResponded         PropagationSideStatus = "responded"
)

// PropagationSide tracks one direction of the channel.
type PropagationSide struct {
	Status        PropagationSideStatus `json:"status"`
	RequestedLimit uint8                `json:"requested_limit,omitempty"`
	NextSendIndex uint64                `json:"next_send_index"`
	LastIndex     uint64                `json:"last_index"`
	PendingSince  Timestamp             `json:"pending_since,omitempty"`
}

// PropagationChannel is the per-peer state of one propagation protocol.
// Local is the peer requesting data from us; Remote is us requesting from
// the peer.
type PropagationChannel struct {
	Status PropagationStatus `json:"status"`
	Local  PropagationSide   `json:"local"`
	Remote PropagationSide   `json:"remote"`
}

func newPropagationChannel() PropagationChannel {
	return PropagationChannel{
		Status: PropagationDisabled,
		Local:  PropagationSide{Status: SideWaitingForRequest},
		Remote: PropagationSide{Status: SideWaitingForRequest},
	}
}

// enable arms the channel; Init follows when the stream opens.
func (c *PropagationChannel) enable() {
	if c.Status == PropagationDisabled {
		c.Status = PropagationEnabled
	}
}

// onInit marks the stream open request sent.
func (c *PropagationChannel) onInit(now Timestamp) bool {
	if c.Status != PropagationEnabled {
		return false
	}
	c.Status = PropagationInit
	c.Local.PendingSince = now
	return true
}

// onPending marks the stream negotiation in flight.
func (c *PropagationChannel) onPending() bool {
	if c.Status != PropagationInit {
		return false
	}
	c.Status = PropagationPending
	return true
}

// onReady completes channel setup.
func (c *PropagationChannel) onReady() bool {
	if c.Status != PropagationPending && c.Status != PropagationInit {
		return false
	}
	c.Status = PropagationReady
	c.Local = PropagationSide{Status: SideWaitingForRequest}
	c.Remote = PropagationSide{Status: SideWaitingForRequest}
	return true
}

// requestFromPeer records our outgoing request for up to limit items above
// Remote.LastIndex.
func (c *PropagationChannel) requestFromPeer(limit uint8, now Timestamp) bool {
	if c.Status != PropagationReady || c.Remote.Status == SideRequested {
		return false
	}
	c.Remote.Status = SideRequested
	c.Remote.RequestedLimit = limit
	c.Remote.PendingSince = now
	return true
}

// onPeerResponse records one received item; the cycle closes when the peer
// signalled it is done for this request.
func (c *PropagationChannel) onPeerResponse(index uint64, done bool) bool {
	if c.Status != PropagationReady {
		return false
	}
	if c.Remote.Status != SideRequested && c.Remote.Status != SideResponding {
		return false
	}
	if index <= c.Remote.LastIndex && c.Remote.LastIndex != 0 {
		return false
	}
	c.Remote.LastIndex = index
	c.Remote.Status = SideResponding
	if done {
		c.Remote.Status = SideResponded
	}
	return true
}

// nextRequestReady reports whether we may issue another request.
func (c *PropagationChannel) nextRequestReady() bool {
	return c.Status == PropagationReady &&
		(c.Remote.Status == SideWaitingForRequest || c.Remote.Status == SideResponded)
}

// onPeerRequest records the peer asking us for up to limit items.
func (c *PropagationChannel) onPeerRequest(limit uint8) bool {
	if c.Status != PropagationReady {
		return false
	}
	if c.Local.Status == SideRequested || c.Local.Status == SideResponding {
		return false
	}
	c.Local.Status = SideRequested
	c.Local.RequestedLimit = limit
	return true
}

// sendBudget reports how many items we may still push for the live request.
func (c *PropagationChannel) sendBudget() int {
	if c.Local.Status != SideRequested && c.Local.Status != SideResponding {
		return 0
	}
	sent := c.Local.NextSendIndex - c.Local.LastIndex
	budget := int(c.Local.RequestedLimit) - int(sent)
	if budget < 0 {
		return 0
	}
	return budget
}

// onLocalSend advances the send index after pushing one item.
func (c *PropagationChannel) onLocalSend(done bool) {
	c.Local.NextSendIndex++
	c.Local.Status = SideResponding
	if done {
		c.Local.Status = SideResponded
		c.Local.LastIndex = c.Local.NextSendIndex
	}
}
