package config

import (
	"flag"
	"fmt"

	"inet.af/netaddr"
)

// ipFlag is a flag.Value for a netaddr.IP, the same idiom as the
// teacher's dhcpAddr flag type.
type ipFlag netaddr.IP

func (f *ipFlag) String() string {
	ip := netaddr.IP(*f)
	if ip.IsZero() {
		return ""
	}

	return ip.String()
}

func (f *ipFlag) Set(value string) error {
	ip, err := netaddr.ParseIP(value)
	if err != nil {
		return err
	}
	*f = ipFlag(ip)

	return nil
}

// ipListFlag is a repeatable flag.Value collecting one IP per occurrence,
// used for DHCP option 6 (DNS servers).
type ipListFlag []netaddr.IP

func (f *ipListFlag) String() string {
	out := ""
	for i, ip := range *f {
		if i > 0 {
			out += ","
		}
		out += ip.String()
	}

	return out
}

func (f *ipListFlag) Set(value string) error {
	ip, err := netaddr.ParseIP(value)
	if err != nil {
		return err
	}
	*f = append(*f, ip)

	return nil
}

// RegisterFlags registers the configuration flags on fs, writing
// parsed values directly into c. Call Merge after Parse to layer a
// config file underneath whatever flags were actually set.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Shared.NetbootDir, "netboot-dir", c.Shared.NetbootDir, "boot root directory; all file lookups are confined under it")
	fs.StringVar(&c.Shared.NetbootFile, "netboot-file", c.Shared.NetbootFile, "boot filename; defaults to pxelinux.0/boot.ipxe/boot.http.ipxe depending on --ipxe/--http")

	fs.BoolVar(&c.DHCP.Enabled, "dhcp", c.DHCP.Enabled, "enable the DHCP service")
	fs.BoolVar(&c.DHCP.Proxy, "dhcp-proxy", c.DHCP.Proxy, "run DHCP in ProxyDHCP mode (implies --dhcp)")
	fs.BoolVar(&c.DHCP.Whitelist, "dhcp-whitelist", c.DHCP.Whitelist, "only answer clients with a static binding")
	fs.Var((*ipFlag)(&c.DHCP.IP), "dhcp-ip", "DHCP server listen address")
	fs.Var((*portFlag)(&c.DHCP.Port), "dhcp-port", "DHCP server listen port")
	fs.Var((*ipFlag)(&c.DHCP.OfferFrom), "dhcp-offer-from", "first address in the lease range")
	fs.Var((*ipFlag)(&c.DHCP.OfferTo), "dhcp-offer-to", "last address in the lease range")
	fs.Var((*ipFlag)(&c.DHCP.SubnetMask), "dhcp-subnet-mask", "option 1, subnet mask")
	fs.Var((*ipFlag)(&c.DHCP.Router), "dhcp-router", "option 3, router")
	fs.Var((*ipListFlag)(&c.DHCP.DNS), "dhcp-dns", "option 6, DNS server (repeatable)")
	fs.Var((*ipFlag)(&c.DHCP.Broadcast), "dhcp-broadcast", "destination address of every DHCP reply (default 255.255.255.255)")
	fs.Var((*ipFlag)(&c.DHCP.FileServer), "dhcp-file-server", "option 66, next-server / TFTP file server")
	fs.StringVar(&c.DHCP.SnapshotPath, "dhcp-snapshot", c.DHCP.SnapshotPath, "lease snapshot file, loaded at start and rewritten on shutdown")
	fs.StringVar(&c.DHCP.BindingsPath, "dhcp-bindings", c.DHCP.BindingsPath, "static MAC binding overrides file")
	fs.BoolVar(&c.DHCP.IPXE, "ipxe", c.DHCP.IPXE, "enable iPXE chainload")

	fs.BoolVar(&c.TFTP.Enabled, "tftp", c.TFTP.Enabled, "enable the TFTP service")
	fs.Var((*ipFlag)(&c.TFTP.IP), "tftp-ip", "TFTP server listen address")
	fs.Var((*portFlag)(&c.TFTP.Port), "tftp-port", "TFTP server listen port")
	fs.IntVar(&c.TFTP.Timeout, "tftp-timeout", c.TFTP.Timeout, "per-block ACK timeout, in seconds")
	fs.IntVar(&c.TFTP.MaxRetries, "tftp-max-retries", c.TFTP.MaxRetries, "sends of one block, the first included, before abandoning a session")

	fs.BoolVar(&c.HTTP.Enabled, "http", c.HTTP.Enabled, "enable the HTTP service")
	fs.Var((*ipFlag)(&c.HTTP.IP), "http-ip", "HTTP server listen address")
	fs.Var((*portFlag)(&c.HTTP.Port), "http-port", "HTTP server listen port")

	fs.BoolVar(&c.NBD.Enabled, "nbd", c.NBD.Enabled, "enable the NBD service (also implied by --nbd-block-device)")
	fs.StringVar(&c.NBD.BlockDevice, "nbd-block-device", c.NBD.BlockDevice, "exported block device path, relative to --netboot-dir")
	fs.BoolVar(&c.NBD.Write, "nbd-write", c.NBD.Write, "allow writes to the export (ignored when --nbd-cow is set; CoW always allows writes to the overlay)")
	fs.BoolVar(&c.NBD.CoW, "nbd-cow", c.NBD.CoW, "route writes through a copy-on-write overlay instead of the source file")
	fs.BoolVar(&c.NBD.CoWInMem, "nbd-cow-in-mem", c.NBD.CoWInMem, "back the copy-on-write overlay with memory instead of a per-client disk file")
	fs.BoolVar(&c.NBD.CopyToRAM, "nbd-copy-to-ram", c.NBD.CopyToRAM, "copy the export into memory at startup (requires --nbd-cow)")
	fs.Var((*ipFlag)(&c.NBD.IP), "nbd-ip", "NBD server listen address")
	fs.Var((*portFlag)(&c.NBD.Port), "nbd-port", "NBD server listen port")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.Debug, "debug", c.Debug, "'all' raises the global log level to debug; other values have no effect")
	fs.BoolVar(&c.Syslog, "syslog", c.Syslog, "send logs to syslog instead of stdout")
}

// portFlag is a flag.Value for a uint16 port, used where a raw integer
// flag would silently accept out-of-range values.
type portFlag uint16

func (p *portFlag) String() string { return fmt.Sprintf("%d", *p) }

func (p *portFlag) Set(value string) error {
	var n uint16
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return fmt.Errorf("invalid port %q: %w", value, err)
	}
	*p = portFlag(n)

	return nil
}
