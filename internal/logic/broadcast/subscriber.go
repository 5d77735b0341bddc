package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clusterlens/clusterlens/internal/auth"
	"github.com/clusterlens/clusterlens/internal/logic/mirror"
)

// subscriber is one connected observer. Its outbound path is a
// buffered channel drained by a dedicated write pump so that fan-out
// to other subscribers never waits on this one's transport.
type subscriber struct {
	id         string
	identity   auth.Identity
	conn       Conn
	namespaces map[string]struct{}

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once

	// lastPong is the unix-nano timestamp of the most recent liveness
	// signal (connect, pong, or any well-formed inbound frame).
	lastPong atomic.Int64

	logger *slog.Logger
}

func newSubscriber(id string, identity auth.Identity, conn Conn, namespaces []string, logger *slog.Logger) *subscriber {
	sub := &subscriber{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan Message, sendBufferSize),
		done:     make(chan struct{}),
		logger:   logger.With("subscriber", id, "subject", identity.Subject),
	}

	if len(namespaces) > 0 {
		sub.namespaces = make(map[string]struct{}, len(namespaces))
		for _, ns := range namespaces {
			if ns != "" {
				sub.namespaces[ns] = struct{}{}
			}
		}
	}

	sub.touch()

	return sub
}

// allows reports whether an event passes this subscriber's namespace
// filter. Node events always pass; nodes are not namespace-scoped.
func (s *subscriber) allows(evt mirror.Event) bool {
	if len(s.namespaces) == 0 || evt.Kind == mirror.KindNode {
		return true
	}

	_, ok := s.namespaces[evt.EventNamespace()]

	return ok
}

// enqueue offers a message to the send buffer without blocking.
// Returns false when the buffer is full or the subscriber is gone.
func (s *subscriber) enqueue(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) touch() {
	s.lastPong.Store(time.Now().UnixNano())
}

func (s *subscriber) sinceLastPong() time.Duration {
	return time.Since(time.Unix(0, s.lastPong.Load()))
}

// close sends the close frame once and releases the write pump.
func (s *subscriber) close(code int, reason string) {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(code, reason); err != nil {
			s.logger.Debug("close subscriber connection", "reason", err)
		}

		close(s.done)
	})
}

// writePump drains the send buffer onto the transport. Exits on write
// error or close.
func (s *subscriber) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("subscriber write failed", "reason", err)
				s.close(closeGoingAway, "write failed")

				return
			}
		}
	}
}

// readLoop consumes inbound frames in the caller's goroutine. A
// malformed frame gets an error reply and the connection stays open;
// transport errors end the loop.
func (s *subscriber) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		var msg Message

		err := s.conn.ReadJSON(&msg)
		if err != nil {
			if isDecodeError(err) {
				s.enqueue(newErrorMessage("malformed_message", "message is not valid JSON"))

				continue
			}

			s.logger.Debug("subscriber read ended", "reason", err)

			return
		}

		switch msg.Type {
		case TypePing:
			s.touch()
			s.enqueue(newPongMessage())
		case TypePong:
			s.touch()
		default:
			s.touch()
			s.enqueue(newErrorMessage("unsupported_message", "unsupported message type: "+string(msg.Type)))
		}
	}
}

// isDecodeError distinguishes a malformed payload from a dead
// transport.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}

	var typeErr *json.UnmarshalTypeError

	return errors.As(err, &typeErr)
}
