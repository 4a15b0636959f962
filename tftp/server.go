package tftp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	"inet.af/netaddr"
)

// Server is a read-only TFTP server. A single dispatch goroutine owns
// every session's state; per-socket reader goroutines only forward raw
// datagrams onto a shared channel, the channel-based translation of
// pypxe's select()-driven single listen loop.
type Server struct {
	Addr netaddr.IPPort
	Root string
	Log  logr.Logger

	// Timeout is the per-block ACK wait before retransmission. Defaults
	// to 5 seconds.
	Timeout time.Duration
	// MaxRetries bounds how many times one block is sent, the first
	// transmission included, so at most MaxRetries-1 retransmissions
	// happen; the session is abandoned in the same sweep that makes the
	// last send. Defaults to 3.
	MaxRetries int

	sweepInterval time.Duration
}

func (s *Server) setDefaults() {
	if s.Log.GetSink() == nil {
		s.Log = logr.Discard()
	}
	if s.Timeout == 0 {
		s.Timeout = 5 * time.Second
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 3
	}
	if s.sweepInterval == 0 {
		s.sweepInterval = time.Second
	}
}

// inbound is one datagram arriving on either the main listen socket or a
// session's dedicated ephemeral socket.
type inbound struct {
	isNew  bool
	key    string
	data   []byte
	remote *net.UDPAddr
}

// ListenAndServe binds the main listen socket and runs the dispatch loop
// until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.setDefaults()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: s.Addr.IP().IPAddr().IP, Port: int(s.Addr.Port())})
	if err != nil {
		return fmt.Errorf("tftp: listen: %w", err)
	}
	defer conn.Close()

	events := make(chan inbound, 64)
	go s.readLoop(ctx, conn, "", events)

	return s.dispatch(ctx, events)
}

// readLoop blocks on ReadFromUDP, forwarding each datagram as an inbound
// event. key == "" marks the main listen socket (new sessions); a
// non-empty key routes the datagram to an existing session.
func (s *Server) readLoop(ctx context.Context, conn *net.UDPConn, key string, out chan<- inbound) {
	buf := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		evt := inbound{key: key, data: data, remote: addr}
		if key == "" {
			evt.isNew = true
		}

		select {
		case out <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch is the single goroutine that owns every session's state. It
// never blocks on anything but the event channel and a retry-sweep
// ticker, matching the TFTP component's single-dispatcher concurrency
// requirement.
func (s *Server) dispatch(ctx context.Context, events chan inbound) error {
	sessions := map[string]*session{}
	negotiating := map[string]bool{}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, sess := range sessions {
				sess.complete()
			}

			return nil

		case evt := <-events:
			if evt.isNew {
				s.handleNew(ctx, sessions, negotiating, evt, events)

				continue
			}

			sess, ok := sessions[evt.key]
			if !ok || sess.dead {
				continue
			}

			opcode, err := packetOpcode(evt.data)
			if err != nil {
				continue
			}
			if opcode != opACK {
				continue
			}

			block, err := parseACK(evt.data[2:])
			if err != nil {
				continue
			}

			if negotiating[evt.key] && block == 0 {
				sess.handleOptionsAck()
				negotiating[evt.key] = false
			} else {
				sess.handleACK(block)
			}

		case <-ticker.C:
			for key, sess := range sessions {
				if sess.dead {
					delete(sessions, key)
					delete(negotiating, key)

					continue
				}
				if sess.noAck() {
					sess.sendBlock()
				}
				if sess.noRetries() {
					sess.log.Info("timeout, abandoning session", "filename", sess.filename)
					sess.complete()
				}
			}
		}
	}
}

func (s *Server) handleNew(ctx context.Context, sessions map[string]*session, negotiating map[string]bool, evt inbound, events chan<- inbound) {
	opcode, err := packetOpcode(evt.data)
	if err != nil {
		return
	}

	key := evt.remote.String()
	log := s.Log.WithValues("client", key)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: s.Addr.IP().IPAddr().IP, Port: 0})
	if err != nil {
		log.Error(err, "failed to allocate session socket")

		return
	}

	if opcode == opWRQ {
		sess := newSession(key, evt.remote, conn, log, s.MaxRetries, s.Timeout)
		sess.sendError(ErrIllegalOp, "write support not implemented")
		sess.complete()

		return
	}

	if opcode != opRRQ {
		conn.Close()

		return
	}

	sess := newSession(key, evt.remote, conn, log, s.MaxRetries, s.Timeout)
	sessions[key] = sess

	go s.readLoop(ctx, conn, key, events)

	sess.start(evt.data[2:], s.Root)
	if len(sess.filename) > 0 && sess.block == 0 {
		negotiating[key] = true
	}
}
