package quicnet

import (
	"errors"
	"io"
	"sync"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/protocol/call"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

// Link carries reliable calls as records on one bidirectional stream and
// unreliable calls as datagrams, falling back to the stream when a
// datagram cannot be sent.
type Link struct {
	connection.LinkState
	conn    *quic.Conn
	stream  *quic.Stream
	limits  call.Limits
	handler connection.Handler

	writeMu sync.Mutex

	mu    sync.Mutex
	inbox [][]byte
}

func newLink(id connection.Identity, conn *quic.Conn, stream *quic.Stream, limits call.Limits, h connection.Handler) *Link {
	return &Link{
		LinkState: connection.NewLinkState(id),
		conn:      conn,
		stream:    stream,
		limits:    limits,
		handler:   h,
	}
}

func (l *Link) start() {
	go l.readStream()
	go l.readDatagrams()
}

func (l *Link) readStream() {
	for {
		record, err := call.ReadRecord(l.stream, l.limits)
		if err != nil {
			l.lost(err)
			return
		}
		l.push(record)
	}
}

func (l *Link) readDatagrams() {
	for {
		data, err := l.conn.ReceiveDatagram(l.conn.Context())
		if err != nil {
			return
		}
		l.push(data)
	}
}

func (l *Link) push(data []byte) {
	if !l.IsActive() {
		return
	}
	l.mu.Lock()
	l.inbox = append(l.inbox, data)
	l.mu.Unlock()
}

// lost reports a remote failure once, on the handler's goroutine.
func (l *Link) lost(err error) {
	if !l.IsActive() {
		return
	}
	if errors.Is(err, io.EOF) {
		log.Debug().Msgf("quicnet.Link.lost identity=%s stream closed", l.Identity())
	} else {
		log.Warn().Msgf("quicnet.Link.lost identity=%s err=%v", l.Identity(), err)
	}
	l.handler.Post(func() {
		if l.IsActive() {
			l.handler.HandleConnectionDisrupted(l.Identity())
		}
	})
}

func (l *Link) Send(data []byte, transmission protocol.Transmission) error {
	if !l.IsActive() {
		return nil
	}
	if transmission == protocol.Unreliable {
		if err := l.conn.SendDatagram(data); err == nil {
			return nil
		}
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return call.WriteRecord(l.stream, data, l.limits)
}

func (l *Link) Receive() ([]byte, bool) {
	if !l.IsActive() {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.inbox) == 0 {
		return nil, false
	}
	next := l.inbox[0]
	l.inbox[0] = nil
	l.inbox = l.inbox[1:]
	return next, true
}

func (l *Link) Close() {
	if !l.MarkClosed() {
		return
	}
	_ = l.conn.CloseWithError(0, "closed")
}
