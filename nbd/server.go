// Package nbd implements an NBD server (newstyle handshake, fixed-newstyle
// and no-zeroes) exposing exactly one export, with plain, on-disk
// copy-on-write, and in-memory copy-on-write overlay strategies.
package nbd

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"inet.af/netaddr"

	"github.com/tinkerbell/netbootd/pathguard"
)

// Server serves a single export over NBD.
type Server struct {
	Addr netaddr.IPPort
	Root string
	// Export is the block device path, resolved through the path guard
	// under Root. This is also the export name clients must request.
	Export string
	Log    logr.Logger

	// Write allows the plain (non-CoW) overlay to write through to the
	// source file. Ignored when CoW is set: CoW always permits writes,
	// routed to the overlay instead of the source.
	Write bool
	// CoW enables copy-on-write; the source file is opened read-only and
	// never mutated.
	CoW bool
	// CoWInMem backs the CoW overlay with memory instead of a per-client
	// disk file. Only meaningful when CoW is set.
	CoWInMem bool
	// CopyToRAM slurps the source file into memory at startup instead of
	// reading it off disk on every miss. Only meaningful when CoW is set.
	CopyToRAM bool

	exportName string
	size       int64
	src        *source
	file       *os.File
}

func (s *Server) setDefaults() {
	if s.Log.GetSink() == nil {
		s.Log = logr.Discard()
	}
}

// ListenAndServe opens the export, binds the listener, and accepts
// connections until ctx is cancelled, serving each on its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.setDefaults()

	resolved, err := pathguard.Normalize(s.Root, s.Export)
	if err != nil {
		return fmt.Errorf("nbd: resolve export: %w", err)
	}
	s.exportName = s.Export

	mode := os.O_RDONLY
	if s.Write && !s.CoW {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(resolved, mode, 0)
	if err != nil {
		return fmt.Errorf("nbd: open export: %w", err)
	}
	s.file = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()

		return fmt.Errorf("nbd: stat export: %w", err)
	}
	s.size = fi.Size()

	var reader io.ReaderAt = f
	if s.CoW && s.CopyToRAM {
		s.Log.Info("copying export to RAM", "export", s.exportName, "size", s.size)
		buf := make([]byte, s.size)
		if _, err := io.ReadFull(io.NewSectionReader(f, 0, s.size), buf); err != nil {
			f.Close()

			return fmt.Errorf("nbd: copy to RAM: %w", err)
		}
		reader = bytesReaderAt(buf)
	}
	s.src = &source{reader: reader, seekLock: &sync.Mutex{}}

	ln, err := net.Listen("tcp4", s.Addr.String())
	if err != nil {
		f.Close()

		return fmt.Errorf("nbd: listen: %w", err)
	}
	defer f.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("nbd: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// newOverlay selects the write strategy for one client connection, the
// Go counterpart of pypxe's writes.write(cow, in_mem) class selector.
func (s *Server) newOverlay(remote net.Addr) (overlay, error) {
	switch {
	case s.CoW && s.CoWInMem:
		return &cowOverlay{src: s.src, store: &memStore{}}, nil
	case s.CoW:
		path := fmt.Sprintf("nbd-cow-%s", strings.NewReplacer(":", "-", ".", "-").Replace(remote.String()))
		store, err := newDiskStore(path)
		if err != nil {
			return nil, err
		}

		return &cowOverlay{src: s.src, store: store}, nil
	default:
		var rw io.WriterAt
		if s.Write {
			rw = s.file
		}

		return &plainOverlay{src: s.src, rw: rw}, nil
	}
}

// handleConn runs the handshake and then the transmission loop for one
// client, closing conn when either finishes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.Log.WithValues("remote", conn.RemoteAddr().String())

	if err := s.handshake(conn, log); err != nil {
		log.Info("handshake failed", "error", err.Error())

		return
	}

	ov, err := s.newOverlay(conn.RemoteAddr())
	if err != nil {
		log.Error(err, "failed to construct overlay")

		return
	}
	defer ov.close()

	s.transmit(conn, ov, log)
}

// handshake performs the newstyle negotiation described by the
// transmission phase's preceding option loop: fixed-newstyle/no-zeroes
// flags, a single supported option (EXPORT_NAME), and the export info
// reply. Returns nil only once an EXPORT_NAME matching the configured
// export has been accepted.
func (s *Server) handshake(conn net.Conn, log logr.Logger) error {
	if _, err := io.WriteString(conn, nbdMagic); err != nil {
		return err
	}
	if _, err := io.WriteString(conn, ihaveOpt); err != nil {
		return err
	}
	flagBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(flagBuf, handshakeFlg)
	if _, err := conn.Write(flagBuf); err != nil {
		return err
	}

	cflagBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, cflagBuf); err != nil {
		return err
	}
	cflags := binary.BigEndian.Uint32(cflagBuf)

	for {
		hdr := make([]byte, 16)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return err
		}
		op := binary.BigEndian.Uint32(hdr[8:12])
		length := binary.BigEndian.Uint32(hdr[12:16])

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return err
		}

		if op != optExportName {
			if _, err := conn.Write(encodeOptionError(repErrUnsup, nil)); err != nil {
				return err
			}

			continue
		}

		name := string(payload)
		if name != s.exportName {
			return fmt.Errorf("export name mismatch: got %q want %q", name, s.exportName)
		}
		log.Info("export requested", "name", name)

		flags := exportFlagHasFlags
		if !s.Write && !s.CoW {
			flags |= exportFlagReadOnly
		}

		info := make([]byte, 0, 10+124)
		sizeBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(sizeBuf, uint64(s.size))
		info = append(info, sizeBuf...)
		flagBuf2 := make([]byte, 2)
		binary.BigEndian.PutUint16(flagBuf2, flags)
		info = append(info, flagBuf2...)
		if cflags&clientFlagNoZeroes == 0 {
			info = append(info, make([]byte, 124)...)
		}
		_, err := conn.Write(info)

		return err
	}
}

// transmit serves READ/WRITE/DISCONNECT requests until the client
// disconnects or sends a malformed request. Replies are emitted strictly
// in request order; a single connection never pipelines concurrently.
func (s *Server) transmit(conn net.Conn, ov overlay, log logr.Logger) {
	hdr := make([]byte, 28)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		magic := binary.BigEndian.Uint32(hdr[0:4])
		if magic != requestMagic {
			return
		}
		req := parseRequest(hdr[4:28])

		switch req.command {
		case cmdRead:
			data, err := ov.read(int64(req.offset), int64(req.length))
			if err != nil {
				log.Error(err, "read failed")
				conn.Write(encodeReply(1, req.handle))

				continue
			}
			if _, err := conn.Write(encodeReply(0, req.handle)); err != nil {
				return
			}
			if _, err := conn.Write(data); err != nil {
				return
			}

		case cmdWrite:
			data := make([]byte, req.length)
			if _, err := io.ReadFull(conn, data); err != nil {
				return
			}
			if err := ov.write(int64(req.offset), data); err != nil {
				log.Error(err, "write failed")
				if _, werr := conn.Write(encodeReply(1, req.handle)); werr != nil {
					return
				}

				continue
			}
			if _, err := conn.Write(encodeReply(0, req.handle)); err != nil {
				return
			}

		case cmdDisconnect:
			log.Info("client disconnected")

			return

		default:
			if _, err := conn.Write(encodeOptionError(repErrUnsup, nil)); err != nil {
				return
			}
		}
	}
}
