package tftp

import (
	"errors"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/tinkerbell/netbootd/pathguard"
)

// session is the per-client TFTP state machine (spec's "new" / "options-sent"
// / "sending" / "awaiting-ack" / "done" states), keyed by the remote
// (ip, port) pair. Each session owns a dedicated ephemeral UDP socket,
// mirroring pypxe's per-Client ParentSocket.
type session struct {
	key    string
	remote *net.UDPAddr
	conn   *net.UDPConn
	log    logr.Logger

	file      *os.File
	filename  string
	fileSize  int64
	blockSize int

	block     int64 // the block most recently sent, awaiting its ACK
	lastBlock int64
	wrap      uint32
	armWrap   bool

	blksizeChanged bool
	tsizeReq       bool

	retries    int
	maxRetries int
	timeout    time.Duration
	lastSent   time.Time

	dead bool
}

func newSession(key string, remote *net.UDPAddr, conn *net.UDPConn, log logr.Logger, maxRetries int, timeout time.Duration) *session {
	return &session{
		key:        key,
		remote:     remote,
		conn:       conn,
		log:        log,
		blockSize:  defaultBlockSize,
		block:      1,
		retries:    maxRetries,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

// start resolves the RRQ body, opens the file under root, and begins the
// transfer (or negotiation, if options were sent).
func (s *session) start(body []byte, root string) {
	rr, err := parseReadRequest(body)
	if err != nil {
		s.log.V(1).Info("malformed RRQ", "err", err)
		s.complete()

		return
	}

	if rr.mode != "octet" {
		s.sendError(ErrIllegalOp, "mode "+rr.mode+" not supported")
		s.complete()

		return
	}

	resolved, err := pathguard.Normalize(root, rr.filename)
	if err != nil {
		s.sendError(ErrAccess, "path traversal error")
		s.complete()

		return
	}

	fi, err := os.Stat(resolved)
	if err != nil || !fi.Mode().IsRegular() {
		s.sendError(ErrNotFound, "file not found")
		s.complete()

		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		s.sendError(ErrNotFound, "file not found")
		s.complete()

		return
	}

	s.file = f
	s.filename = resolved
	s.fileSize = fi.Size()
	s.log.Info("file requested", "filename", resolved, "size", s.fileSize)

	if blk, ok := rr.options["blksize"]; ok {
		if n, err := strconv.Atoi(blk); err == nil && n > 0 {
			s.blockSize = n
			s.blksizeChanged = true
		}
	}
	s.lastBlock = int64(math.Ceil(float64(s.fileSize) / float64(s.blockSize)))
	if _, ok := rr.options["tsize"]; ok {
		s.tsizeReq = true
	}

	if s.fileSize > (1<<16)*int64(s.blockSize) {
		s.log.Info("request exceeds 16-bit wire block space, attempting transfer anyway", "filesize", s.fileSize, "blksize", s.blockSize)
	}

	if len(rr.options) > 0 {
		s.block = 0
		s.replyOptions()

		return
	}

	s.sendBlock()
}

func (s *session) replyOptions() {
	pkt := encodeOACK(s.blksizeChanged, s.blockSize, s.tsizeReq, s.fileSize)
	s.write(pkt)
}

// sendBlock reads the current block from the file and transmits it, or
// marks the session dead on a read error.
func (s *session) sendBlock() {
	buf := make([]byte, s.blockSize)
	off := s.blockSize * int(s.block-1)
	n, err := s.file.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		s.log.Error(err, "error reading block", "block", s.block)
		s.dead = true

		return
	}

	wireBlock := uint16(s.block % 65536)
	s.write(encodeData(wireBlock, buf[:n]))
	s.log.V(1).Info("sent block", "block", s.block, "last", s.lastBlock)
	s.retries--
	s.lastSent = time.Now()
}

// handleACK advances or ignores an ACK per the wraparound rules in
// pypxe's Client.handle (opcode 4 branch): duplicate and out-of-sequence
// ACKs are logged and ignored, and a wire block of 0 following an armed
// wraparound increments the logical wrap counter. The counter keeps
// counting on every later wrap too; there is no limit on the number of
// wraps.
func (s *session) handleACK(wireBlock uint16) {
	if wireBlock == 0 && s.armWrap {
		s.wrap++
		s.armWrap = false
	}
	if wireBlock == 32768 {
		s.armWrap = true
	}

	cur := uint16(s.block % 65536)
	switch {
	case wireBlock < cur:
		s.log.V(1).Info("ignoring duplicate ACK", "block", s.block)
	case wireBlock > cur:
		s.log.V(1).Info("ignoring out-of-sequence ACK", "block", s.block)
	case int64(wireBlock)+int64(s.wrap)*65536 == s.lastBlock:
		if s.fileSize%int64(s.blockSize) == 0 {
			s.block = int64(s.wrap)*65536 + int64(wireBlock) + 1
			s.sendBlock()
		}
		s.log.Info("completed transfer", "filename", s.filename)
		s.complete()
	default:
		s.block = int64(s.wrap)*65536 + int64(wireBlock) + 1
		s.retries = s.maxRetries
		s.sendBlock()
	}
}

func (s *session) handleOptionsAck() {
	s.block = 1
	s.sendBlock()
}

func (s *session) noAck() bool {
	return !s.dead && !s.lastSent.IsZero() && time.Since(s.lastSent) > s.timeout
}

func (s *session) noRetries() bool {
	return s.retries <= 0
}

func (s *session) sendError(code uint16, message string) {
	s.write(encodeError(code, message))
	s.log.Info("sending error", "code", code, "message", message)
}

func (s *session) write(b []byte) {
	if _, err := s.conn.WriteToUDP(b, s.remote); err != nil {
		s.log.Error(err, "write failed")
		s.dead = true
	}
}

func (s *session) complete() {
	if s.file != nil {
		s.file.Close()
	}
	s.conn.Close()
	s.dead = true
}
