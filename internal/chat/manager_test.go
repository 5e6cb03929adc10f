package chat

import (
	"testing"

	"tutorlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	peer   domain.PeerIdentity
	open   bool
	sent   [][]byte
	closed bool

	// openOnRegister makes the link open the moment its open handler is
	// registered, before Attach gets to its own IsOpen check.
	openOnRegister bool

	onMessage func([]byte)
	onOpen    func()
	onClose   func()
}

func newFakeLink(peer domain.PeerIdentity) *fakeLink {
	return &fakeLink{peer: peer}
}

func (l *fakeLink) Peer() domain.PeerIdentity { return l.peer }
func (l *fakeLink) IsOpen() bool              { return l.open && !l.closed }

func (l *fakeLink) Send(payload []byte) error {
	l.sent = append(l.sent, payload)
	return nil
}

func (l *fakeLink) OnMessage(fn func([]byte)) { l.onMessage = fn }

func (l *fakeLink) OnOpen(fn func()) {
	l.onOpen = fn
	if l.openOnRegister {
		l.open = true
		fn()
	}
}

func (l *fakeLink) OnClose(fn func()) { l.onClose = fn }

func (l *fakeLink) Close() error {
	if !l.closed {
		l.closed = true
		if l.onClose != nil {
			l.onClose()
		}
	}
	return nil
}

func (l *fakeLink) simulateOpen() {
	l.open = true
	if l.onOpen != nil {
		l.onOpen()
	}
}

func (l *fakeLink) receive(t *testing.T, msg Message) {
	t.Helper()
	data, err := Encode(msg)
	require.NoError(t, err)
	l.onMessage(data)
}

func TestSendAppendsLocallyBeforeDelivery(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	m.Attach(link)
	link.simulateOpen()

	m.Send("hello")

	transcript := m.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "hello", transcript[0].Body)
	assert.Equal(t, "alice", transcript[0].SenderName)

	// One system handshake plus the chat message went over the wire.
	require.Len(t, link.sent, 2)
}

func TestSendWithNoOpenLinkIsANoOp(t *testing.T) {
	m := NewManager("alice", nil)

	m.Send("nobody hears this")

	// Local transcript still records it.
	assert.Len(t, m.Transcript(), 1)
	assert.Equal(t, 1, m.ParticipantCount())
}

func TestReceiveOrderIsArrivalOrder(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	m.Attach(link)
	link.simulateOpen()

	link.receive(t, Message{Kind: KindChat, SenderName: "bob", Body: "m1"})
	link.receive(t, Message{Kind: KindChat, SenderName: "bob", Body: "m2"})
	link.receive(t, Message{Kind: KindChat, SenderName: "bob", Body: "m3"})

	transcript := m.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, "m1", transcript[0].Body)
	assert.Equal(t, "m2", transcript[1].Body)
	assert.Equal(t, "m3", transcript[2].Body)
}

func TestSystemMessagesNeverReachTranscript(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	m.Attach(link)
	link.simulateOpen()

	link.receive(t, Message{Kind: KindSystem, SenderName: "bob", Body: "connected"})

	assert.Empty(t, m.Transcript())
}

func TestParticipantCountTracksOpenLinks(t *testing.T) {
	m := NewManager("alice", nil)

	var counts []int
	m.OnParticipantChange(func(count int) { counts = append(counts, count) })

	link1 := newFakeLink("peer-1")
	link2 := newFakeLink("peer-2")
	m.Attach(link1)
	m.Attach(link2)
	link1.simulateOpen()
	link2.simulateOpen()

	assert.Equal(t, 3, m.ParticipantCount())

	link1.Close()
	assert.Equal(t, 2, m.ParticipantCount())

	link2.Close()
	assert.Equal(t, 1, m.ParticipantCount())
	assert.Equal(t, []int{2, 3, 2, 1}, counts)
}

func TestAttachAlreadyOpenLink(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	link.open = true

	m.Attach(link)

	assert.Equal(t, 2, m.ParticipantCount())
	// The handshake still goes out exactly once.
	require.Len(t, link.sent, 1)
	msgs, err := DecodeAll(link.sent[0])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, KindSystem, msgs[0].Kind)
}

func TestAttachLinkOpeningMidAttachAnnouncesOnce(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	link.openOnRegister = true

	var counts []int
	m.OnParticipantChange(func(c int) { counts = append(counts, c) })

	// The link opens between handler registration and Attach's own
	// already-open check: both paths run, but only one announces.
	m.Attach(link)

	assert.Equal(t, []int{2}, counts)
	require.Len(t, link.sent, 1)
	assert.Equal(t, 2, m.ParticipantCount())
}

func TestCloseAllIdempotent(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	m.Attach(link)
	link.simulateOpen()

	m.CloseAll()
	m.CloseAll()

	assert.True(t, link.closed)
	assert.Equal(t, 1, m.ParticipantCount())
}

func TestMultipleMessagesInOneFrame(t *testing.T) {
	m := NewManager("alice", nil)
	link := newFakeLink("peer-1")
	m.Attach(link)
	link.simulateOpen()

	first, err := Encode(Message{Kind: KindChat, SenderName: "bob", Body: "a"})
	require.NoError(t, err)
	second, err := Encode(Message{Kind: KindChat, SenderName: "bob", Body: "b"})
	require.NoError(t, err)
	link.onMessage(append(first, second...))

	transcript := m.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "a", transcript[0].Body)
	assert.Equal(t, "b", transcript[1].Body)
}
