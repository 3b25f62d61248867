package reliable

import (
	"testing"
	"time"

	"github.com/cfoust/snek/pkg/geom"
	"github.com/cfoust/snek/pkg/protocol"

	"github.com/sasha-s/go-deadlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type datagram struct {
	addr string
	msg  protocol.Message
}

type fakeTransport struct {
	mutex deadlock.Mutex
	sent  []datagram
}

func (f *fakeTransport) SendDatagram(addr string, data []byte) error {
	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	f.mutex.Lock()
	f.sent = append(f.sent, datagram{addr, msg})
	f.mutex.Unlock()
	return nil
}

func (f *fakeTransport) take() []datagram {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

type timeout struct {
	target int32
	addr   string
}

func setup() (*Messenger, *fakeTransport, *clock, *[]timeout) {
	transport := &fakeTransport{}
	c := &clock{now: time.Unix(1000, 0)}
	var timeouts []timeout
	m := New(transport, Options{
		PingInterval: 100 * time.Millisecond,
		PeerTimeout:  800 * time.Millisecond,
		OnTimeout: func(target int32, addr string) {
			timeouts = append(timeouts, timeout{target, addr})
		},
		Now: c.Now,
	})
	return m, transport, c, &timeouts
}

func steer(d geom.Direction) protocol.Message {
	return protocol.Message{SenderID: 1, ReceiverID: 0, Steer: &protocol.Steer{Direction: d}}
}

func TestSequenceNumbers(t *testing.T) {
	m, transport, _, _ := setup()

	var last uint64
	for i := 0; i < 10; i++ {
		seq, err := m.Send(steer(geom.Up), "a:1", 0)
		require.NoError(t, err)
		require.Greater(t, seq, last)
		last = seq
	}

	require.NoError(t, m.Ack(3, 1, 0, "a:1"))
	require.NoError(t, m.SendUnreliable(protocol.Message{Announcement: &protocol.Announcement{}}, "group:1"))

	sent := transport.take()
	require.Len(t, sent, 12)
	assert.Equal(t, uint64(3), sent[10].msg.Seq)
	assert.Equal(t, protocol.AckKind, sent[10].msg.Kind())
	assert.Equal(t, last+1, sent[11].msg.Seq)

	// Only the steers wait for an ACK.
	assert.Len(t, m.Pending(), 10)
}

func TestResolve(t *testing.T) {
	m, _, _, timeouts := setup()

	seq, err := m.Send(steer(geom.Left), "a:1", 0)
	require.NoError(t, err)

	_, ok := m.Resolve(seq + 100)
	assert.False(t, ok)
	assert.Len(t, m.Pending(), 1)

	pending, ok := m.Resolve(seq)
	require.True(t, ok)
	assert.Equal(t, protocol.SteerKind, pending.Kind)
	assert.Equal(t, "a:1", pending.Addr)
	assert.Empty(t, m.Pending())

	// A duplicate ACK is stale.
	_, ok = m.Resolve(seq)
	assert.False(t, ok)
	assert.Empty(t, *timeouts)
}

func TestRetransmit(t *testing.T) {
	m, transport, c, timeouts := setup()

	seq, err := m.Send(steer(geom.Down), "a:1", 0)
	require.NoError(t, err)
	transport.take()

	m.Sweep(c.Advance(50 * time.Millisecond))
	assert.Empty(t, transport.take())

	m.Sweep(c.Advance(50 * time.Millisecond))
	sent := transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, seq, sent[0].msg.Seq)
	assert.Equal(t, "a:1", sent[0].addr)

	// The retransmit restarts the idle clock, not the timeout.
	m.Sweep(c.Advance(50 * time.Millisecond))
	assert.Empty(t, transport.take())
	assert.Empty(t, *timeouts)
	assert.Len(t, m.Pending(), 1)
}

func TestTimeout(t *testing.T) {
	m, transport, c, timeouts := setup()

	_, err := m.Send(steer(geom.Down), "a:1", 0)
	require.NoError(t, err)
	c.Advance(100 * time.Millisecond)
	_, err = m.Send(steer(geom.Up), "a:1", 0)
	require.NoError(t, err)
	_, err = m.Send(steer(geom.Up), "b:1", 2)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		m.Sweep(c.Advance(100 * time.Millisecond))
	}
	assert.Empty(t, *timeouts)

	m.Sweep(c.Advance(10 * time.Millisecond))
	require.Equal(t, []timeout{{0, "a:1"}}, *timeouts)

	// Everything for the dead peer is gone, the other peer is untouched.
	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, int32(2), pending[0].TargetID)

	transport.take()
	m.Sweep(c.Advance(100 * time.Millisecond))
	for _, sent := range transport.take() {
		assert.Equal(t, "b:1", sent.addr)
	}
}

func TestRemovedOnlyByAckOrTimeout(t *testing.T) {
	m, _, c, timeouts := setup()

	acked, _ := m.Send(steer(geom.Up), "a:1", 0)
	silent, _ := m.Send(steer(geom.Up), "a:1", 0)

	for i := 0; i < 8; i++ {
		m.Sweep(c.Advance(90 * time.Millisecond))
		if i == 3 {
			_, ok := m.Resolve(acked)
			require.True(t, ok)
		}
	}

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, silent, pending[0].Seq)
	assert.Empty(t, *timeouts)

	m.Sweep(c.Advance(200 * time.Millisecond))
	assert.Len(t, *timeouts, 1)
	assert.Empty(t, m.Pending())
}

func TestHeartbeat(t *testing.T) {
	m, transport, c, _ := setup()
	targets := []Target{{ID: 1, Addr: "a:1"}, {ID: 2, Addr: "b:1"}}

	m.Heartbeat(c.now, 0, targets)
	sent := transport.take()
	require.Len(t, sent, 2)
	for _, d := range sent {
		assert.Equal(t, protocol.PingKind, d.msg.Kind())
		assert.Equal(t, int32(0), d.msg.SenderID)
	}

	// Traffic to peer 1 keeps it from being pinged.
	c.Advance(60 * time.Millisecond)
	require.NoError(t, m.Ack(9, 0, 1, "a:1"))
	transport.take()

	m.Heartbeat(c.Advance(50*time.Millisecond), 0, targets)
	sent = transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, "b:1", sent[0].addr)
}

func TestForgetAndRedirect(t *testing.T) {
	m, transport, c, timeouts := setup()

	m.Send(steer(geom.Up), "a:1", 0)
	m.Send(steer(geom.Up), "b:1", 1)

	c.Advance(700 * time.Millisecond)
	m.Redirect(0, 1, "b:1")
	m.Forget(1)
	assert.Empty(t, m.Pending())

	m.Send(steer(geom.Up), "a:1", 0)
	c.Advance(700 * time.Millisecond)
	m.Redirect(0, 1, "b:1")
	transport.take()

	// The redirected message gets a fresh timeout.
	m.Sweep(c.Advance(200 * time.Millisecond))
	assert.Empty(t, *timeouts)
	sent := transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, "b:1", sent[0].addr)

	m.Reset()
	assert.Empty(t, m.Pending())
}
