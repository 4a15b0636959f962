// Package httpd implements a deliberately minimal, non-persistent
// GET/HEAD-only file server for boot artifacts.
package httpd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"inet.af/netaddr"

	"github.com/tinkerbell/netbootd/pathguard"
)

// Server is a minimal HTTP/1.1 GET/HEAD server. Connections are never
// kept alive: one request is served per accepted connection, then it is
// closed, matching pypxe's HTTPD.handle_request.
type Server struct {
	Addr netaddr.IPPort
	Root string
	Log  logr.Logger
}

func (s *Server) setDefaults() {
	if s.Log.GetSink() == nil {
		s.Log = logr.Discard()
	}
}

// ListenAndServe accepts connections until ctx is cancelled, serving
// each on its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.setDefaults()

	ln, err := net.Listen("tcp4", s.Addr.String())
	if err != nil {
		return fmt.Errorf("httpd: listen: %w", err)
	}

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
				return fmt.Errorf("httpd: accept: %w", err)
			}
		}
		go s.handle(conn)
	}
}

// handle serves exactly one request-line from conn and closes it.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 4096)
	tp := textproto.NewReader(reader)

	line, err := tp.ReadLine()
	if err != nil {
		return
	}
	// Drain and discard headers; the contract ignores them entirely.
	_, _ = tp.ReadMIMEHeader()

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return
	}
	method, target := fields[0], fields[1]

	log := s.Log.WithValues("remote", conn.RemoteAddr().String(), "method", method, "target", target)

	if method != "GET" && method != "HEAD" {
		writeStatus(conn, "501 Not Implemented")
		log.Info("rejected method")

		return
	}

	rel := strings.TrimLeft(target, "/")
	resolved, err := pathguard.Normalize(s.Root, rel)
	if err != nil {
		writeStatus(conn, "403 Forbidden")
		log.Info("path traversal attempt")

		return
	}

	fi, err := os.Stat(resolved)
	if err != nil || !fi.Mode().IsRegular() {
		writeStatus(conn, "404 Not Found")

		return
	}

	header := "HTTP/1.1 200 OK\r\nContent-Length: " + strconv.FormatInt(fi.Size(), 10) + "\r\n\r\n"
	if _, err := io.WriteString(conn, header); err != nil {
		return
	}
	if method == "HEAD" {
		return
	}

	f, err := os.Open(resolved)
	if err != nil {
		log.Error(err, "failed to open resolved file after stat")

		return
	}
	defer f.Close()

	buf := make([]byte, 8192)
	if _, err := io.CopyBuffer(conn, f, buf); err != nil {
		log.Error(err, "error streaming file")

		return
	}
	log.Info("file sent", "size", fi.Size())
}

func writeStatus(conn net.Conn, status string) {
	io.WriteString(conn, "HTTP/1.1 "+status+"\r\n\r\n")
}
