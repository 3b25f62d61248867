// Package reliable adds acknowledgements, retransmission and peer timeouts
// on top of an unreliable datagram transport.
package reliable

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cfoust/snek/pkg/protocol"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

type Transport interface {
	SendDatagram(addr string, data []byte) error
}

// PendingSend is a message still waiting for its ACK.
type PendingSend struct {
	Seq       uint64
	Addr      string
	Packet    []byte
	Kind      protocol.Kind
	TargetID  int32
	FirstSent time.Time
	LastSent  time.Time
}

// Target is a peer the heartbeat keeps alive.
type Target struct {
	ID   int32
	Addr string
}

type Options struct {
	// Unacknowledged messages are resent after PingInterval and idle peers
	// are pinged at the same rate.
	PingInterval time.Duration
	// A message unacknowledged for longer than PeerTimeout marks its target
	// as dead.
	PeerTimeout time.Duration
	// OnTimeout is called once per dead target, without any lock held.
	OnTimeout func(targetID int32, addr string)
	Now       func() time.Time
}

type Messenger struct {
	transport Transport
	options   Options

	mutex    deadlock.Mutex
	seq      uint64
	pending  map[uint64]*PendingSend
	lastSent map[int32]time.Time
}

func New(transport Transport, options Options) *Messenger {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.OnTimeout == nil {
		options.OnTimeout = func(int32, string) {}
	}

	return &Messenger{
		transport: transport,
		options:   options,
		pending:   make(map[uint64]*PendingSend),
		lastSent:  make(map[int32]time.Time),
	}
}

func (m *Messenger) write(addr string, packet []byte) error {
	err := m.transport.SendDatagram(addr, packet)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("failed to send datagram")
	}
	return err
}

// Send numbers msg, remembers it until it is acknowledged when it expects
// an ACK, and writes it to addr. It returns the sequence number used.
func (m *Messenger) Send(msg protocol.Message, addr string, targetID int32) (uint64, error) {
	now := m.options.Now()

	m.mutex.Lock()
	m.seq++
	msg.Seq = m.seq
	packet, err := protocol.Encode(msg)
	if err != nil {
		m.mutex.Unlock()
		return 0, fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}

	if msg.Tracked() {
		m.pending[msg.Seq] = &PendingSend{
			Seq:       msg.Seq,
			Addr:      addr,
			Packet:    packet,
			Kind:      msg.Kind(),
			TargetID:  targetID,
			FirstSent: now,
			LastSent:  now,
		}
	}
	m.lastSent[targetID] = now
	m.mutex.Unlock()

	return msg.Seq, m.write(addr, packet)
}

// SendUnreliable numbers and writes msg without waiting for an ACK.
func (m *Messenger) SendUnreliable(msg protocol.Message, addr string) error {
	m.mutex.Lock()
	m.seq++
	msg.Seq = m.seq
	m.mutex.Unlock()

	packet, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	return m.write(addr, packet)
}

func (m *Messenger) reply(msg protocol.Message, addr string) error {
	packet, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	m.lastSent[msg.ReceiverID] = m.options.Now()
	m.mutex.Unlock()

	return m.write(addr, packet)
}

// Ack acknowledges the message numbered seq. ACKs reuse the number they
// acknowledge.
func (m *Messenger) Ack(seq uint64, senderID, receiverID int32, addr string) error {
	return m.reply(protocol.Message{
		Seq:        seq,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Ack:        &protocol.Ack{},
	}, addr)
}

// Reject answers the message numbered seq with an ERROR.
func (m *Messenger) Reject(seq uint64, senderID int32, text string, addr string) error {
	return m.reply(protocol.Message{
		Seq:        seq,
		SenderID:   senderID,
		ReceiverID: -1,
		Error:      &protocol.Error{Message: text},
	}, addr)
}

// Resolve drops the pending message numbered seq. Unknown numbers are stale
// and report false.
func (m *Messenger) Resolve(seq uint64) (PendingSend, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	pending, ok := m.pending[seq]
	if !ok {
		return PendingSend{}, false
	}
	delete(m.pending, seq)
	return *pending, true
}

func (m *Messenger) Pending() []PendingSend {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]PendingSend, 0, len(m.pending))
	for _, pending := range m.pending {
		out = append(out, *pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Sweep resends messages idle for a ping interval and expires those older
// than the peer timeout. Every pending message to an expired target is
// dropped.
func (m *Messenger) Sweep(now time.Time) {
	var resend []PendingSend
	expired := make(map[int32]string)

	m.mutex.Lock()
	for seq, pending := range m.pending {
		if now.Sub(pending.FirstSent) > m.options.PeerTimeout {
			expired[pending.TargetID] = pending.Addr
			delete(m.pending, seq)
			continue
		}

		if now.Sub(pending.LastSent) >= m.options.PingInterval {
			pending.LastSent = now
			resend = append(resend, *pending)
		}
	}

	if len(expired) > 0 {
		for seq, pending := range m.pending {
			if _, ok := expired[pending.TargetID]; ok {
				delete(m.pending, seq)
			}
		}
		for target := range expired {
			delete(m.lastSent, target)
		}
		filtered := resend[:0]
		for _, pending := range resend {
			if _, ok := expired[pending.TargetID]; !ok {
				filtered = append(filtered, pending)
			}
		}
		resend = filtered
	}
	m.mutex.Unlock()

	sort.Slice(resend, func(i, j int) bool { return resend[i].Seq < resend[j].Seq })
	for _, pending := range resend {
		log.Debug().
			Uint64("seq", pending.Seq).
			Str("kind", pending.Kind.String()).
			Int32("target", pending.TargetID).
			Msg("retransmitting")
		m.write(pending.Addr, pending.Packet)
	}

	targets := make([]int32, 0, len(expired))
	for target := range expired {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, target := range targets {
		log.Info().Int32("target", target).Str("addr", expired[target]).Msg("peer timed out")
		m.options.OnTimeout(target, expired[target])
	}
}

// Heartbeat pings every target nothing was sent to for a ping interval.
func (m *Messenger) Heartbeat(now time.Time, selfID int32, targets []Target) {
	for _, target := range targets {
		m.mutex.Lock()
		last, ok := m.lastSent[target.ID]
		m.mutex.Unlock()

		if ok && now.Sub(last) < m.options.PingInterval {
			continue
		}

		m.Send(protocol.Message{
			SenderID:   selfID,
			ReceiverID: target.ID,
			Ping:       &protocol.Ping{},
		}, target.Addr, target.ID)
	}
}

// Forget drops everything pending for a peer.
func (m *Messenger) Forget(targetID int32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for seq, pending := range m.pending {
		if pending.TargetID == targetID {
			delete(m.pending, seq)
		}
	}
	delete(m.lastSent, targetID)
}

// Redirect points every pending message for one peer at another, e.g. when
// the master changes.
func (m *Messenger) Redirect(from, to int32, addr string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.options.Now()
	for _, pending := range m.pending {
		if pending.TargetID != from {
			continue
		}
		pending.TargetID = to
		pending.Addr = addr
		pending.FirstSent = now
	}
	delete(m.lastSent, from)
}

func (m *Messenger) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.pending = make(map[uint64]*PendingSend)
	m.lastSent = make(map[int32]time.Time)
}

// Poll runs Sweep and Heartbeat until the context ends. targets is asked
// for the local id and the peers to keep alive on every round.
func (m *Messenger) Poll(ctx context.Context, targets func() (int32, []Target)) {
	interval := m.options.PingInterval / 2
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.options.Now()
			m.Sweep(now)
			if targets != nil {
				selfID, peers := targets()
				m.Heartbeat(now, selfID, peers)
			}
		}
	}
}
