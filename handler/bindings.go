package handler

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"github.com/go-logr/logr"
	"inet.af/netaddr"
)

// staticRecord is the on-disk shape of one static-binding entry.
type staticRecord struct {
	IPAddr string   `json:"ipaddr"`
	Subnet string   `json:"subnet,omitempty"`
	Router string   `json:"router,omitempty"`
	DNS    []string `json:"dns,omitempty"`
}

// Bindings watches a YAML file mapping MAC addresses to StaticBinding
// overrides, keeping an in-memory copy current as the file changes: an
// fsnotify.Watcher on the file's directory triggers a full re-parse on
// every fsnotify.Write event for the file.
type Bindings struct {
	Log logr.Logger

	path    string
	watcher *fsnotify.Watcher

	mu   sync.RWMutex
	data map[string]StaticBinding
}

// NewBindings loads path and begins watching it for changes.
func NewBindings(l logr.Logger, p string) (*Bindings, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path.Dir(p)); err != nil {
		return nil, err
	}

	b := &Bindings{
		Log:     l,
		path:    path.Clean(p),
		watcher: watcher,
	}
	if err := b.reload(); err != nil {
		return nil, err
	}

	return b, nil
}

// Start watches the bindings file for changes until ctx-like done is
// closed by the caller stopping the watcher; it is a blocking method run
// on its own background task.
func (b *Bindings) Start(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Name == b.path && event.Op&fsnotify.Write == fsnotify.Write {
				if err := b.reload(); err != nil {
					b.Log.Error(err, "failed to reload static bindings", "file", b.path)
				} else {
					b.Log.Info("reloaded static bindings", "file", b.path)
				}
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.Log.Info("error watching static bindings file", "err", err)
		}
	}
}

func (b *Bindings) reload() error {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("reading static bindings: %w", err)
	}
	records := map[string]staticRecord{}
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parsing static bindings: %w", err)
	}

	parsed := make(map[string]StaticBinding, len(records))
	for mac, rec := range records {
		sb := StaticBinding{}
		if rec.IPAddr != "" {
			ip, err := netaddr.ParseIP(rec.IPAddr)
			if err != nil {
				return fmt.Errorf("static binding %s: %w", mac, err)
			}
			sb.IPAddr = ip
		}
		if rec.Subnet != "" {
			if ip, err := netaddr.ParseIP(rec.Subnet); err == nil {
				sb.Subnet = ip
			}
		}
		if rec.Router != "" {
			if ip, err := netaddr.ParseIP(rec.Router); err == nil {
				sb.Router = ip
			}
		}
		for _, d := range rec.DNS {
			if ip, err := netaddr.ParseIP(d); err == nil {
				sb.DNS = append(sb.DNS, ip)
			}
		}
		parsed[strings.ToUpper(mac)] = sb
	}

	b.mu.Lock()
	b.data = parsed
	b.mu.Unlock()

	return nil
}

// Lookup returns the static binding for key (an uppercase colon-separated
// MAC), if one is configured.
func (b *Bindings) Lookup(key string) (StaticBinding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, ok := b.data[strings.ToUpper(key)]

	return sb, ok
}

// Has reports whether key has a static binding, used for whitelist-mode
// gating.
func (b *Bindings) Has(key string) bool {
	_, ok := b.Lookup(key)

	return ok
}

// Close stops the underlying file watcher.
func (b *Bindings) Close() error {
	return b.watcher.Close()
}
