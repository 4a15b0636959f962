package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"inet.af/netaddr"

	netbootd "github.com/tinkerbell/netbootd"
	"github.com/tinkerbell/netbootd/config"
	"github.com/tinkerbell/netbootd/handler"
	"github.com/tinkerbell/netbootd/httpd"
	"github.com/tinkerbell/netbootd/nbd"
	"github.com/tinkerbell/netbootd/persistence"
	"github.com/tinkerbell/netbootd/tftp"
)

// newLogger builds a zerolog-backed logr.Logger, the same construction
// the teacher's defaultLogger uses, extended with an optional syslog
// sink. debug is honoured only when it is "all", which forces the debug
// level; per-component tags are not parsed.
func newLogger(level, debug string, syslog bool) logr.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	var w = os.Stdout
	zl := zerolog.New(w)
	zl = zl.With().Caller().Timestamp().Logger()

	if syslog {
		sw, err := newSyslogWriter()
		if err != nil {
			zl.Warn().Err(err).Msg("syslog unavailable, falling back to stdout")
		} else {
			zl = zerolog.New(sw).With().Timestamp().Logger()
		}
	}

	lvl := zerolog.InfoLevel
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	if debug == "all" {
		lvl = zerolog.DebugLevel
	}
	zl = zl.Level(lvl)

	return zerologr.New(&zl)
}

// run wires cfg into the four protocol services and runs them as peer
// tasks until ctx is cancelled or one of them fails, the generalization
// of the teacher's single-service command.Run to four services sharing
// one boot root.
func run(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	root := cfg.Shared.NetbootDir
	netbootFile := cfg.NetbootFile()

	if cfg.DHCP.IPXE {
		switch {
		case cfg.HTTP.Enabled:
			netbootFile = fmt.Sprintf("http://%s/%s", cfg.DHCP.FileServer, netbootFile)
		default:
			netbootFile = fmt.Sprintf("tftp://%s/%s", cfg.DHCP.FileServer, netbootFile)
		}
	}

	var bindings *handler.Bindings
	if cfg.DHCP.BindingsPath != "" {
		b, err := handler.NewBindings(log.WithName("bindings"), cfg.DHCP.BindingsPath)
		if err != nil {
			return fmt.Errorf("loading static bindings: %w", err)
		}
		bindings = b
	}

	leases := handler.NewLeaseTable()
	if cfg.DHCP.SnapshotPath != "" {
		if err := persistence.Load(log.WithName("persistence"), leases, cfg.DHCP.SnapshotPath); err != nil {
			return fmt.Errorf("loading lease snapshot: %w", err)
		}
	}

	h := &handler.Handler{
		Log:          log.WithName(dhcpLoggerName(cfg.DHCP.Proxy)),
		Proxy:        cfg.DHCP.Proxy,
		ServerIP:     cfg.DHCP.IP,
		OfferFrom:    cfg.DHCP.OfferFrom,
		OfferTo:      cfg.DHCP.OfferTo,
		SubnetMask:   cfg.DHCP.SubnetMask,
		Router:       cfg.DHCP.Router,
		DNS:          cfg.DHCP.DNS,
		LeaseSeconds: cfg.DHCP.LeaseTime,
		Broadcast:    cfg.DHCP.Broadcast,
		FileServer:   cfg.DHCP.FileServer,
		FileName:     netbootFile,
		IPXEEnabled:  cfg.DHCP.IPXE,
		Whitelist:    cfg.DHCP.Whitelist,
		Bindings:     bindings,
		Leases:       leases,
	}

	listener := &netbootd.Listener{
		Addr: netaddr.IPPortFrom(cfg.DHCP.IP, cfg.DHCP.Port),
	}

	if err := tryChroot(log, root); err == nil {
		root = "/"
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.DHCP.Enabled || cfg.DHCP.Proxy {
		g.Go(func() error {
			log.Info("starting dhcp server", "proxy", cfg.DHCP.Proxy, "addr", listener.Addr)
			err := listener.ListenAndServe(gctx, h)
			log.Info("dhcp server stopped")

			return err
		})
	}

	if cfg.TFTP.Enabled {
		srv := &tftp.Server{
			Addr:       netaddr.IPPortFrom(cfg.TFTP.IP, cfg.TFTP.Port),
			Root:       root,
			Log:        log.WithName("tftp"),
			Timeout:    time.Duration(cfg.TFTP.Timeout) * time.Second,
			MaxRetries: cfg.TFTP.MaxRetries,
		}
		g.Go(func() error {
			log.Info("starting tftp server", "addr", srv.Addr)
			err := srv.ListenAndServe(gctx)
			log.Info("tftp server stopped")

			return err
		})
	}

	if cfg.HTTP.Enabled {
		srv := &httpd.Server{
			Addr: netaddr.IPPortFrom(cfg.HTTP.IP, cfg.HTTP.Port),
			Root: root,
			Log:  log.WithName("httpd"),
		}
		g.Go(func() error {
			log.Info("starting http server", "addr", srv.Addr)
			err := srv.ListenAndServe(gctx)
			log.Info("http server stopped")

			return err
		})
	}

	if cfg.NBD.Enabled || cfg.NBD.BlockDevice != "" {
		srv := &nbd.Server{
			Addr:      netaddr.IPPortFrom(cfg.NBD.IP, cfg.NBD.Port),
			Root:      root,
			Export:    cfg.NBD.BlockDevice,
			Log:       log.WithName("nbd"),
			Write:     cfg.NBD.Write,
			CoW:       cfg.NBD.CoW,
			CoWInMem:  cfg.NBD.CoWInMem,
			CopyToRAM: cfg.NBD.CopyToRAM,
		}
		g.Go(func() error {
			log.Info("starting nbd server", "addr", srv.Addr, "export", srv.Export)
			err := srv.ListenAndServe(gctx)
			log.Info("nbd server stopped")

			return err
		})
	}

	if bindings != nil {
		done := make(chan struct{})
		g.Go(func() error {
			bindings.Start(done)

			return nil
		})
		go func() {
			<-gctx.Done()
			close(done)
			bindings.Close()
		}()
	}

	err := g.Wait()

	if cfg.DHCP.SnapshotPath != "" {
		if saveErr := persistence.Save(leases, cfg.DHCP.SnapshotPath); saveErr != nil {
			log.Error(saveErr, "saving lease snapshot")
		}
	}

	return err
}

func dhcpLoggerName(proxy bool) string {
	if proxy {
		return "proxydhcp"
	}

	return "dhcp"
}

// tryChroot chdirs into root and chroots the process into it. This is
// advisory: it requires CAP_SYS_CHROOT (root) and only works on
// platforms that implement syscall.Chroot. Callers fall back to serving
// directly out of root (still confined by the path guard) when it
// fails.
func tryChroot(log logr.Logger, root string) error {
	if root == "" || root == "." {
		log.Info("netboot-dir unset or '.', skipping chroot")

		return fmt.Errorf("chroot skipped: no root configured")
	}

	if err := os.Chdir(root); err != nil {
		log.Info("chroot skipped: chdir failed", "err", err.Error())

		return err
	}
	if err := syscall.Chroot("."); err != nil {
		log.Info("chroot skipped: insufficient privilege or unsupported platform", "err", err.Error())

		return err
	}

	log.Info("chrooted into netboot-dir", "root", root)

	return nil
}
