package manager

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/busgate/internal/busconn"
	"github.com/alanyoungcy/busgate/internal/decode"
	"github.com/alanyoungcy/busgate/internal/domain"
)

// fakeQueue is a minimal subtable.OutboundQueue used to observe fan-out
// without a real WebSocket adapter.
type fakeQueue struct {
	received []*domain.Event
	full     bool
	closed   bool
}

func (q *fakeQueue) TrySend(ev *domain.Event) bool {
	if q.closed {
		return false
	}
	if q.full {
		return false
	}
	q.received = append(q.received, ev)
	return true
}

func (q *fakeQueue) Closed() bool { return q.closed }

func newTestManager(t *testing.T) (*Manager, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close(); _ = clientSide.Close() })

	conn, err := busconn.Wrap(clientSide, "", 128)
	require.NoError(t, err)

	tags, err := decode.NewTagCache(128)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(conn, tags, log), serverSide
}

// writeFrame starts the write in the background and returns immediately:
// net.Pipe is a synchronous, unbuffered rendezvous, so Write only returns
// once the Manager's PollRead has consumed the bytes. Waiting here for the
// write to finish would deadlock against the test's own subsequent read.
func writeFrame(t *testing.T, conn net.Conn, frame string) {
	t.Helper()
	go func() {
		_, _ = conn.Write([]byte(frame))
	}()
}

func TestManager_SubscribeIssuesSubscribeOnFirstChannel(t *testing.T) {
	m, server := newTestManager(t)
	q := &fakeQueue{}

	readCh := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := server.Read(buf)
		readCh <- string(buf[:n])
	}()

	m.Subscribe(domain.Subscription{Timeline: domain.Public()}, q)

	select {
	case cmd := <-readCh:
		assert.Contains(t, cmd, "SUBSCRIBE")
		assert.Contains(t, cmd, "timeline:public")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SUBSCRIBE command")
	}
	assert.Equal(t, 1, m.Count())
}

func TestManager_DispatchesMessageToSubscriber(t *testing.T) {
	m, server := newTestManager(t)
	q := &fakeQueue{}

	go func() {
		buf := make([]byte, 256)
		server.Read(buf) // drain the SUBSCRIBE command
	}()
	m.Subscribe(domain.Subscription{Timeline: domain.Public()}, q)
	time.Sleep(10 * time.Millisecond)

	payload := `{"event":"update","payload":"{\"id\":\"1\"}"}`
	frame := "*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$" +
		itoaLen(len(payload)) + "\r\n" + payload + "\r\n"
	writeFrame(t, server, frame)

	m.mu.Lock()
	_, _, err := m.conn.PollRead(500 * time.Millisecond)
	require.NoError(t, err)
	m.parseLoop()
	m.mu.Unlock()

	require.Len(t, q.received, 1)
	assert.Equal(t, domain.EventUpdate, q.received[0].Kind)
}

func TestManager_BackpressureRewindsAndRetries(t *testing.T) {
	m, server := newTestManager(t)
	q := &fakeQueue{full: true}

	go func() {
		buf := make([]byte, 256)
		server.Read(buf)
	}()
	m.Subscribe(domain.Subscription{Timeline: domain.Public()}, q)
	time.Sleep(10 * time.Millisecond)

	payload := `{"event":"update","payload":"{}"}`
	frame := "*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$" +
		itoaLen(len(payload)) + "\r\n" + payload + "\r\n"
	writeFrame(t, server, frame)

	m.mu.Lock()
	_, _, err := m.conn.PollRead(500 * time.Millisecond)
	require.NoError(t, err)
	startBeforeParse := m.conn.ReadStart()
	m.parseLoop()
	stuckStart := m.conn.ReadStart()
	m.mu.Unlock()

	assert.Empty(t, q.received, "backpressured queue should not have received the event")
	assert.Equal(t, startBeforeParse, stuckStart, "rewind should restore read_start to the message start")

	q.full = false
	m.mu.Lock()
	m.parseLoop()
	m.mu.Unlock()
	assert.Len(t, q.received, 1, "retry after backpressure clears should deliver exactly once")
}

// TestManager_BackpressureDoesNotReplayEarlierMessage guards against an
// off-by-one in rewindToOffset: with two buffered messages, only the second
// (backpressured) one may be replayed once backpressure clears -- the first,
// already-delivered message must never be re-parsed and re-fanned-out.
func TestManager_BackpressureDoesNotReplayEarlierMessage(t *testing.T) {
	m, server := newTestManager(t)
	q := &fakeQueue{}

	go func() {
		buf := make([]byte, 256)
		server.Read(buf)
	}()
	m.Subscribe(domain.Subscription{Timeline: domain.Public()}, q)
	time.Sleep(10 * time.Millisecond)

	firstInner := `{"id":"1"}`
	firstWire := `{"event":"update","payload":"{\"id\":\"1\"}"}`
	firstFrame := "*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$" +
		itoaLen(len(firstWire)) + "\r\n" + firstWire + "\r\n"
	secondInner := `{"id":"2"}`
	secondWire := `{"event":"update","payload":"{\"id\":\"2\"}"}`
	secondFrame := "*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$" +
		itoaLen(len(secondWire)) + "\r\n" + secondWire + "\r\n"

	writeFrame(t, server, firstFrame)
	m.mu.Lock()
	_, _, err := m.conn.PollRead(500 * time.Millisecond)
	require.NoError(t, err)
	m.parseLoop()
	m.mu.Unlock()
	require.Len(t, q.received, 1, "first message should deliver normally")

	q.full = true
	writeFrame(t, server, secondFrame)
	m.mu.Lock()
	_, _, err = m.conn.PollRead(500 * time.Millisecond)
	require.NoError(t, err)
	m.parseLoop()
	m.mu.Unlock()
	assert.Len(t, q.received, 1, "second message backpressured: still only one delivered")

	q.full = false
	m.mu.Lock()
	m.parseLoop()
	m.mu.Unlock()

	require.Len(t, q.received, 2, "retry should deliver exactly the deferred second message")
	assert.Equal(t, firstInner, q.received[0].RawPayload, "first message must not be replayed")
	assert.Equal(t, secondInner, q.received[1].RawPayload, "second message is the one retried")
}

// TestManager_SkipsLeadingGarbage guards against a livelock on a malformed
// prefix with no valid frame boundary behind it (spec.md S5): the Manager
// must scan forward past the garbage and deliver the well-formed frame that
// follows it, rather than re-parsing the same unparseable window forever.
func TestManager_SkipsLeadingGarbage(t *testing.T) {
	m, server := newTestManager(t)
	q := &fakeQueue{}

	go func() {
		buf := make([]byte, 256)
		server.Read(buf)
	}()
	m.Subscribe(domain.Subscription{Timeline: domain.Public()}, q)
	time.Sleep(10 * time.Millisecond)

	wire := `{"event":"update","payload":"{}"}`
	frame := "garbage\r\n*3\r\n$7\r\nmessage\r\n$15\r\ntimeline:public\r\n$" +
		itoaLen(len(wire)) + "\r\n" + wire + "\r\n"
	writeFrame(t, server, frame)

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		_, _, err := m.conn.PollRead(500 * time.Millisecond)
		require.NoError(t, err)
		m.parseLoop()
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parseLoop livelocked on leading garbage")
	}

	require.Len(t, q.received, 1, "frame following the garbage should still be delivered")
	assert.Equal(t, domain.EventUpdate, q.received[0].Kind)
	assert.Equal(t, "{}", q.received[0].RawPayload)
}

func itoaLen(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
