// Package tftp implements a read-only TFTP server (RFC 1350) with
// blksize/tsize option negotiation (RFC 2347/2348) and single-dispatcher
// multiplexing across every active client session.
package tftp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Opcodes, per RFC 1350 §5.
const (
	opRRQ   uint16 = 1
	opWRQ   uint16 = 2
	opDATA  uint16 = 3
	opACK   uint16 = 4
	opERROR uint16 = 5
	opOACK  uint16 = 6
)

// Error codes, per RFC 1350 page 10.
const (
	ErrUndefined  uint16 = 0
	ErrNotFound   uint16 = 1
	ErrAccess     uint16 = 2
	ErrDiskFull   uint16 = 3
	ErrIllegalOp  uint16 = 4
	ErrUnknownTID uint16 = 5
	ErrFileExists uint16 = 6
	ErrNoSuchUser uint16 = 7
)

var errShortPacket = errors.New("tftp: packet too short")

// defaultBlockSize is used until a client negotiates a larger blksize.
const defaultBlockSize = 512

// readRequest is a parsed RRQ payload (opcode already stripped).
type readRequest struct {
	filename string
	mode     string
	options  map[string]string
}

// parseReadRequest splits the null-terminated filename/mode/options
// fields out of an RRQ body.
func parseReadRequest(body []byte) (readRequest, error) {
	parts := bytes.Split(body, []byte{0})
	// A well-formed RRQ is filename\0mode\0[opt\0val\0]...\0 — trailing
	// split produces one empty element we drop.
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 2 {
		return readRequest{}, errShortPacket
	}

	rr := readRequest{
		filename: string(parts[0]),
		mode:     string(parts[1]),
		options:  map[string]string{},
	}

	rest := parts[2:]
	for i := 0; i+1 < len(rest); i += 2 {
		rr.options[string(rest[i])] = string(rest[i+1])
	}

	return rr, nil
}

func parseACK(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, errShortPacket
	}

	return binary.BigEndian.Uint16(body[:2]), nil
}

func packetOpcode(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, errShortPacket
	}

	return binary.BigEndian.Uint16(b[:2]), nil
}

func encodeData(block uint16, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(buf[0:2], opDATA)
	binary.BigEndian.PutUint16(buf[2:4], block)
	copy(buf[4:], data)

	return buf
}

func encodeError(code uint16, message string) []byte {
	buf := make([]byte, 0, 4+len(message)+1)
	head := make([]byte, 4)
	binary.BigEndian.PutUint16(head[0:2], opERROR)
	binary.BigEndian.PutUint16(head[2:4], code)
	buf = append(buf, head...)
	buf = append(buf, []byte(message)...)
	buf = append(buf, 0)

	return buf
}

// encodeOACK echoes negotiated options, in the order pypxe emits them:
// blksize first (if changed), then tsize (presence-only, value is the
// file's size).
func encodeOACK(blksizeChanged bool, blksize int, tsizeRequested bool, filesize int64) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, opOACK)
	if blksizeChanged {
		buf = append(buf, []byte("blksize")...)
		buf = append(buf, 0)
		buf = append(buf, []byte(strconv.Itoa(blksize))...)
		buf = append(buf, 0)
	}
	if tsizeRequested {
		buf = append(buf, []byte("tsize")...)
		buf = append(buf, 0)
		buf = append(buf, []byte(fmt.Sprintf("%d", filesize))...)
		buf = append(buf, 0)
	}

	return buf
}
