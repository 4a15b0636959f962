package tftp

import (
	"bytes"
	"testing"
)

func TestParseReadRequest(t *testing.T) {
	body := []byte("pxelinux.0\x00octet\x00blksize\x001432\x00tsize\x000\x00")
	rr, err := parseReadRequest(body)
	if err != nil {
		t.Fatalf("parseReadRequest: %v", err)
	}
	if rr.filename != "pxelinux.0" {
		t.Errorf("filename = %q, want pxelinux.0", rr.filename)
	}
	if rr.mode != "octet" {
		t.Errorf("mode = %q, want octet", rr.mode)
	}
	if rr.options["blksize"] != "1432" {
		t.Errorf("options[blksize] = %q, want 1432", rr.options["blksize"])
	}
	if _, ok := rr.options["tsize"]; !ok {
		t.Error("options[tsize] missing")
	}
}

func TestParseReadRequestNoOptions(t *testing.T) {
	body := []byte("boot.img\x00octet\x00")
	rr, err := parseReadRequest(body)
	if err != nil {
		t.Fatalf("parseReadRequest: %v", err)
	}
	if len(rr.options) != 0 {
		t.Errorf("options = %v, want empty", rr.options)
	}
}

func TestEncodeData(t *testing.T) {
	got := encodeData(1, []byte("hello"))
	want := []byte{0x00, 0x03, 0x00, 0x01, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeData = %v, want %v", got, want)
	}
}

func TestEncodeDataWraps16Bit(t *testing.T) {
	got := encodeData(uint16(70000%65536), nil)
	want := []byte{0x00, 0x03, 0x11, 0x70}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeData wraparound = %v, want %v", got, want)
	}
}

func TestEncodeError(t *testing.T) {
	got := encodeError(ErrNotFound, "nope")
	want := []byte{0x00, 0x05, 0x00, 0x01, 'n', 'o', 'p', 'e', 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeError = %v, want %v", got, want)
	}
}

func TestEncodeOACK(t *testing.T) {
	got := encodeOACK(true, 1432, true, 43008)
	want := append([]byte{0x00, 0x06}, []byte("blksize\x001432\x00tsize\x0043008\x00")...)
	if !bytes.Equal(got, want) {
		t.Errorf("encodeOACK = %q, want %q", got, want)
	}
}

func TestEncodeOACKBlksizeOnly(t *testing.T) {
	got := encodeOACK(true, 1024, false, 0)
	want := append([]byte{0x00, 0x06}, []byte("blksize\x001024\x00")...)
	if !bytes.Equal(got, want) {
		t.Errorf("encodeOACK = %q, want %q", got, want)
	}
}
