package nbd

import "encoding/binary"

// Handshake-phase constants, newstyle negotiation (fixed-newstyle,
// no-zeroes).
const (
	nbdMagic     = "NBDMAGIC"
	ihaveOpt     = "IHAVEOPT"
	handshakeFlg = uint16(3) // FIXED_NEWSTYLE | NO_ZEROES

	clientFlagNoZeroes = uint32(2)

	optExportName = uint32(1)

	// optionErrMagic prefixes an error reply to an option request during
	// negotiation, distinct from the transmission-phase reply magic.
	optionErrMagic = uint64(0x3e889045565a9)
	repErrUnsup    = uint32(1<<31 + 1)

	exportFlagHasFlags = uint16(1)
	exportFlagReadOnly = uint16(2)
)

// Transmission-phase constants.
const (
	requestMagic = uint32(0x25609513)
	replyMagic   = uint32(0x67446698)

	cmdRead       = uint32(0)
	cmdWrite      = uint32(1)
	cmdDisconnect = uint32(2)
)

type request struct {
	command uint32
	handle  uint64
	offset  uint64
	length  uint32
}

func parseRequest(b []byte) request {
	return request{
		command: binary.BigEndian.Uint32(b[0:4]),
		handle:  binary.BigEndian.Uint64(b[4:12]),
		offset:  binary.BigEndian.Uint64(b[12:20]),
		length:  binary.BigEndian.Uint32(b[20:24]),
	}
}

func encodeReply(code uint32, handle uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], replyMagic)
	binary.BigEndian.PutUint32(buf[4:8], code)
	binary.BigEndian.PutUint64(buf[8:16], handle)

	return buf
}

func encodeOptionError(code uint32, data []byte) []byte {
	buf := make([]byte, 16+len(data))
	binary.BigEndian.PutUint64(buf[0:8], optionErrMagic)
	binary.BigEndian.PutUint32(buf[8:12], code)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(data)))
	copy(buf[16:], data)

	return buf
}
