package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"inet.af/netaddr"
)

func TestBindingsLookup(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "static.yaml")
	contents := `
"00:11:22:33:44:55":
  ipaddr: 192.168.1.50
  router: 192.168.1.1
  dns:
    - 192.168.1.1
    - 8.8.8.8
`
	if err := os.WriteFile(file, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b, err := NewBindings(logr.Discard(), file)
	if err != nil {
		t.Fatalf("NewBindings: %v", err)
	}
	defer b.Close()

	sb, ok := b.Lookup("00:11:22:33:44:55")
	if !ok {
		t.Fatal("Lookup: not found")
	}
	if sb.IPAddr != netaddr.MustParseIP("192.168.1.50") {
		t.Errorf("IPAddr = %s, want 192.168.1.50", sb.IPAddr)
	}
	if sb.Router != netaddr.MustParseIP("192.168.1.1") {
		t.Errorf("Router = %s, want 192.168.1.1", sb.Router)
	}
	if len(sb.DNS) != 2 {
		t.Errorf("DNS = %v, want 2 entries", sb.DNS)
	}

	if !b.Has("00:11:22:33:44:55") {
		t.Error("Has(00:11:22:33:44:55) = false, want true")
	}
	if b.Has("aa:bb:cc:dd:ee:ff") {
		t.Error("Has(unknown mac) = true, want false")
	}
}

func TestBindingsLookupMissing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "static.yaml")
	if err := os.WriteFile(file, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b, err := NewBindings(logr.Discard(), file)
	if err != nil {
		t.Fatalf("NewBindings: %v", err)
	}
	defer b.Close()

	if b.Has("00:11:22:33:44:55") {
		t.Error("Has on empty file = true, want false")
	}
}
