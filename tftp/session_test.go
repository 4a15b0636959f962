package tftp

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

// pairedSession returns a session bound to one end of a loopback UDP pair,
// with the other end usable to read what the session sends.
func pairedSession(t *testing.T) (*session, *net.UDPConn) {
	t.Helper()

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen server conn: %v", err)
	}
	clientConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen client conn: %v", err)
	}
	t.Cleanup(func() {
		clientConn.Close()
	})

	remote := clientConn.LocalAddr().(*net.UDPAddr)
	sess := newSession("test", remote, serverConn, logr.Discard(), 3, 5*time.Second)

	return sess, clientConn
}

func writeFixture(t *testing.T, contents []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.img")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	return dir
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65536)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}

	return buf[:n]
}

func TestSessionStartNoOptionsSendsFirstBlock(t *testing.T) {
	root := writeFixture(t, []byte("hello world"))
	sess, client := pairedSession(t)
	defer sess.complete()

	sess.start([]byte("boot.img\x00octet\x00"), root)

	pkt := readPacket(t, client)
	opcode, err := packetOpcode(pkt)
	if err != nil || opcode != opDATA {
		t.Fatalf("opcode = %v, err = %v, want DATA", opcode, err)
	}
	if got := string(pkt[4:]); got != "hello world" {
		t.Errorf("data = %q, want %q", got, "hello world")
	}
}

func TestSessionStartWithOptionsSendsOACK(t *testing.T) {
	root := writeFixture(t, make([]byte, 2000))
	sess, client := pairedSession(t)
	defer sess.complete()

	sess.start([]byte("boot.img\x00octet\x00blksize\x001024\x00tsize\x000\x00"), root)

	pkt := readPacket(t, client)
	opcode, err := packetOpcode(pkt)
	if err != nil || opcode != opOACK {
		t.Fatalf("opcode = %v, err = %v, want OACK", opcode, err)
	}
	if sess.block != 0 {
		t.Errorf("block = %d, want 0 (awaiting ACK(0))", sess.block)
	}
}

func TestSessionTraversalSendsAccessError(t *testing.T) {
	root := writeFixture(t, []byte("x"))
	sess, client := pairedSession(t)
	defer sess.complete()

	sess.start([]byte("../../etc/passwd\x00octet\x00"), root)

	pkt := readPacket(t, client)
	opcode, err := packetOpcode(pkt)
	if err != nil || opcode != opERROR {
		t.Fatalf("opcode = %v, err = %v, want ERROR", opcode, err)
	}
	if code, _ := parseACK(pkt[2:4]); code != ErrAccess {
		t.Errorf("error code = %d, want %d", code, ErrAccess)
	}
	if !sess.dead {
		t.Error("session not marked dead after traversal error")
	}
}

func TestSessionMissingFileSendsNotFoundError(t *testing.T) {
	root := writeFixture(t, []byte("x"))
	sess, client := pairedSession(t)
	defer sess.complete()

	sess.start([]byte("missing.img\x00octet\x00"), root)

	pkt := readPacket(t, client)
	if code, _ := parseACK(pkt[2:4]); code != ErrNotFound {
		t.Errorf("error code = %d, want %d", code, ErrNotFound)
	}
}

func TestSessionHandleACKAdvancesAndCompletes(t *testing.T) {
	contents := make([]byte, 10)
	root := writeFixture(t, contents)
	sess, client := pairedSession(t)
	defer sess.complete()

	sess.blockSize = 4
	sess.fileSize = int64(len(contents))
	sess.lastBlock = 3 // ceil(10/4) == 3
	f, err := os.Open(filepath.Join(root, "boot.img"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sess.file = f
	sess.filename = f.Name()

	sess.sendBlock() // block 1
	readPacket(t, client)

	sess.handleACK(1)
	if sess.block != 2 {
		t.Fatalf("block = %d, want 2", sess.block)
	}
	readPacket(t, client)

	sess.handleACK(2)
	if sess.block != 3 {
		t.Fatalf("block = %d, want 3", sess.block)
	}
	readPacket(t, client)

	sess.handleACK(3)
	if !sess.dead {
		t.Error("session not marked dead after final ACK")
	}
}

func TestSessionHandleACKWraparound(t *testing.T) {
	root := writeFixture(t, make([]byte, 70000))
	sess, client := pairedSession(t)
	defer sess.complete()
	defer client.Close()

	f, err := os.Open(filepath.Join(root, "boot.img"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sess.file = f

	sess.blockSize = 1
	sess.fileSize = 70000
	sess.lastBlock = 70000
	sess.block = 32768

	sess.handleACK(32768) // arms wraparound, advances to 32769
	if sess.block != 32769 {
		t.Fatalf("block = %d, want 32769", sess.block)
	}
	if !sess.armWrap {
		t.Fatal("armWrap not set after seeing wire block 32768")
	}

	// simulate block advancing until the wire counter wraps to 0
	sess.block = 65536
	sess.handleACK(0)
	if sess.wrap != 1 {
		t.Fatalf("wrap = %d, want 1", sess.wrap)
	}
	if sess.block != 65537 {
		t.Fatalf("block = %d, want 65537", sess.block)
	}
}

func TestSessionDuplicateAndOutOfSequenceACKsIgnored(t *testing.T) {
	sess, client := pairedSession(t)
	defer sess.complete()
	defer client.Close()

	sess.blockSize = 1
	sess.fileSize = 10
	sess.lastBlock = 10
	sess.block = 5

	sess.handleACK(3) // duplicate
	if sess.block != 5 {
		t.Errorf("block = %d after duplicate ACK, want unchanged 5", sess.block)
	}

	sess.handleACK(9) // out of sequence
	if sess.block != 5 {
		t.Errorf("block = %d after out-of-sequence ACK, want unchanged 5", sess.block)
	}
}
