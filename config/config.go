// Package config collects the full CLI/file configuration surface for
// the netbootd supervisor: flag registration, file-backed overrides,
// defaulting, and validation.
package config

import (
	"inet.af/netaddr"
)

// Config is the fully-resolved configuration for one supervisor run,
// after flags, file overrides, and defaults have all been merged.
type Config struct {
	// Shared applies across every service.
	Shared Shared `yaml:"shared"`

	DHCP DHCP `yaml:"dhcp"`
	TFTP TFTP `yaml:"tftp"`
	HTTP HTTP `yaml:"http"`
	NBD  NBD  `yaml:"nbd"`

	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	Debug    string `yaml:"debug"`
	Syslog   bool   `yaml:"syslog"`
}

// Shared holds the boot-root and default-filename settings consumed by
// every service via the path guard.
type Shared struct {
	NetbootDir  string `yaml:"netbootDir" validate:"required"`
	NetbootFile string `yaml:"netbootFile"`
}

// DHCP is the DHCP/ProxyDHCP service's configuration surface.
type DHCP struct {
	Enabled    bool         `yaml:"enabled"`
	Proxy      bool         `yaml:"proxy"`
	Whitelist  bool         `yaml:"whitelist"`
	IP         netaddr.IP   `yaml:"ip" validate:"required"`
	Port       uint16       `yaml:"port"`
	OfferFrom  netaddr.IP   `yaml:"offerFrom"`
	OfferTo    netaddr.IP   `yaml:"offerTo"`
	SubnetMask netaddr.IP   `yaml:"subnetMask"`
	Router     netaddr.IP   `yaml:"router"`
	DNS        []netaddr.IP `yaml:"dns"`
	Broadcast  netaddr.IP   `yaml:"broadcast"`
	FileServer netaddr.IP   `yaml:"fileServer" validate:"required"`
	LeaseTime  uint32       `yaml:"leaseTime"`
	IPXE       bool         `yaml:"ipxe"`

	// SnapshotPath, if set, persists the lease table across restarts.
	SnapshotPath string `yaml:"snapshotPath"`
	// BindingsPath, if set, watches a static MAC->lease override file.
	BindingsPath string `yaml:"bindingsPath"`
}

// TFTP is the TFTP service's configuration surface.
type TFTP struct {
	Enabled    bool       `yaml:"enabled"`
	IP         netaddr.IP `yaml:"ip"`
	Port       uint16     `yaml:"port"`
	Timeout    int        `yaml:"timeoutSeconds"`
	MaxRetries int        `yaml:"maxRetries"`
}

// HTTP is the HTTP service's configuration surface.
type HTTP struct {
	Enabled bool       `yaml:"enabled"`
	IP      netaddr.IP `yaml:"ip"`
	Port    uint16     `yaml:"port"`
}

// NBD is the NBD service's configuration surface.
type NBD struct {
	Enabled     bool       `yaml:"enabled"`
	BlockDevice string     `yaml:"blockDevice"`
	Write       bool       `yaml:"write"`
	CoW         bool       `yaml:"cow"`
	CoWInMem    bool       `yaml:"cowInMem"`
	CopyToRAM   bool       `yaml:"copyToRam"`
	IP          netaddr.IP `yaml:"ip"`
	Port        uint16     `yaml:"port"`
}

// Default returns the built-in defaults. Merge fills them in underneath
// any field still at its zero value after flags and the config file.
func Default() *Config {
	return &Config{
		Shared: Shared{
			NetbootDir: ".",
		},
		DHCP: DHCP{
			Port:      67,
			LeaseTime: 86400,
			IPXE:      true,
		},
		TFTP: TFTP{
			Port:       69,
			Timeout:    5,
			MaxRetries: 3,
		},
		HTTP: HTTP{
			Port: 8080,
		},
		NBD: NBD{
			Port: 10809,
			CoW:  true,
		},
		LogLevel: "info",
	}
}

// NetbootFile returns the configured boot filename, computing the
// appliance default from the iPXE/HTTP toggles when unset: pxelinux.0,
// boot.ipxe, or boot.http.ipxe.
func (c *Config) NetbootFile() string {
	if c.Shared.NetbootFile != "" {
		return c.Shared.NetbootFile
	}
	if !c.DHCP.IPXE {
		return "pxelinux.0"
	}
	if c.HTTP.Enabled {
		return "boot.http.ipxe"
	}

	return "boot.ipxe"
}
