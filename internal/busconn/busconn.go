// Package busconn owns the raw duplex connection to the message bus: the
// growable read buffer Manager advances WireParser over, and the command
// encoder used to SUBSCRIBE/UNSUBSCRIBE/PING. It deliberately does not use
// go-redis's pub/sub client -- the fan-out path needs direct control over
// buffer compaction and rewind that a higher-level client would hide.
package busconn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/busgate/internal/domain"
)

const (
	initialBufSize = 16 * 1024
	maxBufSize     = 8 * 1024 * 1024
)

// CmdKind selects which command Send encodes.
type CmdKind int

const (
	CmdSubscribe CmdKind = iota
	CmdUnsubscribe
	CmdPing
)

func (k CmdKind) wireName() string {
	switch k {
	case CmdSubscribe:
		return "SUBSCRIBE"
	case CmdUnsubscribe:
		return "UNSUBSCRIBE"
	case CmdPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// BusConnection wraps the duplex byte pipe to the bus: the configured
// namespace prefix, the growable unread-input window Manager parses, and the
// id->name half of the hashtag tag cache (the name->id half lives in
// internal/decode, consulted when decoding inbound channel names).
type BusConnection struct {
	conn      net.Conn
	w         *bufio.Writer
	namespace string

	input       []byte
	readStart   int
	writeEnd    int
	tagNameByID *lru.Cache[int64, string]
}

// Dial opens a TCP connection to the bus at addr and wraps it.
func Dial(ctx context.Context, addr, namespace string, tagCacheSize int) (*BusConnection, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("busconn: dial %s: %w", addr, err)
	}
	return Wrap(conn, namespace, tagCacheSize)
}

// Wrap adapts an already-established connection (e.g. a net.Pipe in tests,
// or a connection accepted by a different dialer). Production call sites
// should prefer Dial; Wrap exists so tests can exercise the parse/rewind
// logic without a real bus socket.
func Wrap(conn net.Conn, namespace string, tagCacheSize int) (*BusConnection, error) {
	cache, err := lru.New[int64, string](tagCacheSize)
	if err != nil {
		return nil, fmt.Errorf("busconn: tag cache: %w", err)
	}
	return &BusConnection{
		conn:        conn,
		w:           bufio.NewWriter(conn),
		namespace:   namespace,
		input:       make([]byte, initialBufSize),
		tagNameByID: cache,
	}, nil
}

// Namespace returns the configured channel namespace prefix (may be empty).
func (bc *BusConnection) Namespace() string { return bc.namespace }

// PutTagName records a confirmed hashtag id->name mapping, consulted when
// encoding outgoing SUBSCRIBE/UNSUBSCRIBE commands for hashtag timelines.
func (bc *BusConnection) PutTagName(id int64, name string) {
	bc.tagNameByID.Add(id, name)
}

// TagName returns the cached name for a hashtag id, if known.
func (bc *BusConnection) TagName(id int64) (string, bool) {
	return bc.tagNameByID.Get(id)
}

// Window returns the current unread slice of the input buffer: the bytes
// Manager has received but not yet consumed past a parsed frame boundary.
func (bc *BusConnection) Window() []byte {
	return bc.input[bc.readStart:bc.writeEnd]
}

// Advance moves the read cursor forward by n bytes after Manager has
// successfully parsed and dispatched a frame.
func (bc *BusConnection) Advance(n int) {
	bc.readStart += n
}

// RewindTo moves the read cursor to an absolute offset in the buffered
// input: backward to a frame boundary after backpressure, or forward past
// malformed bytes (see internal/manager's rewind and skip logic).
func (bc *BusConnection) RewindTo(offset int) {
	bc.readStart = offset
}

// ReadStart and WriteEnd expose the raw cursor pair for callers (notably
// Manager's rewind search) that need to scan the already-buffered bytes
// directly rather than through Window.
func (bc *BusConnection) ReadStart() int { return bc.readStart }
func (bc *BusConnection) WriteEnd() int  { return bc.writeEnd }
func (bc *BusConnection) RawInput() []byte { return bc.input }

// Compact shifts the unread bytes to offset 0, reclaiming space at the tail
// of the buffer without discarding anything still unparsed. A no-op if the
// read cursor is already at 0.
func (bc *BusConnection) Compact() {
	if bc.readStart == 0 {
		return
	}
	n := copy(bc.input, bc.input[bc.readStart:bc.writeEnd])
	bc.readStart = 0
	bc.writeEnd = n
}

// grow doubles the buffer (bounded by maxBufSize) to make room for more
// input, compacting first since that alone may free enough space.
func (bc *BusConnection) grow() error {
	bc.Compact()
	if bc.writeEnd < len(bc.input) {
		return nil
	}
	newSize := len(bc.input) * 2
	if newSize > maxBufSize {
		if len(bc.input) >= maxBufSize {
			return fmt.Errorf("busconn: input buffer exceeds %d bytes with no frame boundary", maxBufSize)
		}
		newSize = maxBufSize
	}
	grown := make([]byte, newSize)
	copy(grown, bc.input[:bc.writeEnd])
	bc.input = grown
	return nil
}

// ReadResult discriminates the outcome of PollRead.
type ReadResult int

const (
	ReadReady ReadResult = iota
	ReadNotReady
	ReadClosed
)

// PollRead performs a single nonblocking-style read (via a short deadline)
// appending into the buffer's tail, growing and compacting as needed. n is
// the number of bytes appended when ReadReady.
func (bc *BusConnection) PollRead(deadline time.Duration) (result ReadResult, n int, err error) {
	if bc.writeEnd == len(bc.input) {
		if err := bc.grow(); err != nil {
			return ReadClosed, 0, err
		}
	}

	if err := bc.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return ReadClosed, 0, fmt.Errorf("busconn: set read deadline: %w", err)
	}

	n, err = bc.conn.Read(bc.input[bc.writeEnd:])
	if n > 0 {
		bc.writeEnd += n
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if n > 0 {
				return ReadReady, n, nil
			}
			return ReadNotReady, 0, nil
		}
		return ReadClosed, n, fmt.Errorf("busconn: read: %w", err)
	}
	if n == 0 {
		return ReadClosed, 0, fmt.Errorf("busconn: connection closed by peer")
	}
	return ReadReady, n, nil
}

// channelName renders the namespace-prefixed wire form of a Timeline,
// mirroring the naming rules consumed by internal/decode in reverse.
func (bc *BusConnection) channelName(tl domain.Timeline) (string, error) {
	var suffix string
	switch tl.Kind {
	case domain.TimelinePublic:
		suffix = "timeline:public"
	case domain.TimelinePublicLocal:
		suffix = "timeline:public:local"
	case domain.TimelineHashtag, domain.TimelineHashtagLocal:
		name, ok := bc.TagName(tl.Tag)
		if !ok {
			return "", fmt.Errorf("busconn: %w: hashtag id %d not in cache", domain.ErrUnknownTag, tl.Tag)
		}
		if tl.Kind == domain.TimelineHashtagLocal {
			suffix = "timeline:hashtag:" + name + ":local"
		} else {
			suffix = "timeline:hashtag:" + name
		}
	case domain.TimelineList:
		suffix = "timeline:list:" + tl.ID
	case domain.TimelineDirect:
		suffix = "timeline:direct:" + tl.ID
	case domain.TimelineUser:
		suffix = "timeline:" + tl.ID
	case domain.TimelineUserNotification:
		suffix = "timeline:" + tl.ID + ":notification"
	default:
		return "", fmt.Errorf("busconn: unknown timeline kind %v", tl.Kind)
	}
	if bc.namespace == "" {
		return suffix, nil
	}
	return bc.namespace + ":" + suffix, nil
}

// SendCmd encodes and writes a single SUBSCRIBE/UNSUBSCRIBE/PING command.
// Partial writes are completed before returning: bufio.Writer buffers the
// full command and Flush blocks (subject to the connection's write
// deadline) until every byte is on the wire.
func (bc *BusConnection) SendCmd(kind CmdKind, timelines []domain.Timeline) error {
	var b strings.Builder
	switch kind {
	case CmdPing:
		fmt.Fprintf(&b, "%s\r\n", kind.wireName())
	default:
		if len(timelines) == 0 {
			return fmt.Errorf("busconn: %s requires at least one timeline", kind.wireName())
		}
		names := make([]string, 0, len(timelines))
		for _, tl := range timelines {
			name, err := bc.channelName(tl)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		fmt.Fprintf(&b, "%s %s\r\n", kind.wireName(), strings.Join(names, " "))
	}

	if err := bc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return fmt.Errorf("busconn: set write deadline: %w", err)
	}
	if _, err := bc.w.WriteString(b.String()); err != nil {
		return fmt.Errorf("busconn: write %s: %w", kind.wireName(), err)
	}
	if err := bc.w.Flush(); err != nil {
		return fmt.Errorf("busconn: flush %s: %w", kind.wireName(), err)
	}
	return nil
}

// Close closes the underlying connection.
func (bc *BusConnection) Close() error {
	return bc.conn.Close()
}
