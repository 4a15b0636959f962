// Package handler implements the unified DHCP/ProxyDHCP request handler:
// lease allocation, static-binding overrides, architecture-based boot
// filename selection, iPXE chainload, and PXE vendor-option emission.
package handler

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"inet.af/netaddr"

	"github.com/tinkerbell/netbootd/otelattr"
)

const tracerName = "github.com/tinkerbell/netbootd/handler"

const chainloadStub = "chainload.kpxe"

// Handler implements dhcp.Handler. It serves both plain DHCP (offering
// leases from [OfferFrom, OfferTo]) and ProxyDHCP mode (PXE options only,
// no lease assigned), selected by Proxy.
type Handler struct {
	Log logr.Logger

	// Proxy switches between full DHCP lease service and ProxyDHCP
	// (options-only, ack-only) mode.
	Proxy bool

	ServerIP     netaddr.IP
	OfferFrom    netaddr.IP
	OfferTo      netaddr.IP
	SubnetMask   netaddr.IP
	Router       netaddr.IP
	DNS          []netaddr.IP
	LeaseSeconds uint32
	// Broadcast is the destination address used for every reply
	// (port 68). Defaults to the limited broadcast address
	// (255.255.255.255) when zero.
	Broadcast netaddr.IP

	FileServer netaddr.IP
	// FileName is the boot filename used when architecture-based
	// selection does not apply; already wrapped by the supervisor when
	// iPXE is enabled: http:// with HTTP enabled, tftp:// without.
	FileName           string
	FileNameOverridden bool
	IPXEEnabled        bool

	Whitelist bool
	Bindings  *Bindings
	Leases    *LeaseTable

	// ExpectedHostname and BootedCallback implement the optional
	// boot-notification hook: when option 12 matches ExpectedHostname
	// and option 50 is present, BootedCallback is invoked with the
	// address carried in option 50.
	ExpectedHostname string
	BootedCallback   func(netaddr.IP)

	OTELEnabled bool
}

func (h *Handler) setDefaults() {
	if h.Log.GetSink() == nil {
		h.Log = logr.Discard()
	}
	if h.LeaseSeconds == 0 {
		h.LeaseSeconds = 86400
	}
	if h.Leases == nil {
		h.Leases = NewLeaseTable()
	}
}

// Name returns the name of the handler, satisfying dhcp.Handler.
func (h *Handler) Name() string {
	if h.Proxy {
		return "proxydhcp"
	}

	return "dhcp"
}

// Handle responds to DHCP DISCOVER/REQUEST messages. It satisfies
// dhcp.Handler.
func (h *Handler) Handle(conn net.PacketConn, peer net.Addr, pkt *dhcpv4.DHCPv4) {
	h.setDefaults()
	if pkt == nil {
		return
	}

	log := h.Log.WithValues("mac", pkt.ClientHWAddr.String(), "msgType", pkt.MessageType())

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(context.Background(), fmt.Sprintf("dhcp %s", pkt.MessageType()))
	defer span.End()

	h.maybeNotifyBooted(pkt)

	mac := pkt.ClientHWAddr
	macStr := macKey(mac)

	if h.Whitelist && (h.Bindings == nil || !h.Bindings.Has(macStr)) {
		log.V(1).Info("whitelist: mac has no static binding, ignoring")
		span.SetStatus(codes.Ok, "whitelisted out")

		return
	}

	if !hasPXEClass(pkt) {
		log.V(1).Info("not a PXE client request, ignoring")
		span.SetStatus(codes.Ok, "not a PXE client")

		return
	}

	var binding *StaticBinding
	if h.Bindings != nil {
		if sb, ok := h.Bindings.Lookup(macStr); ok {
			binding = &sb
		}
	}

	var msgType dhcpv4.MessageType
	switch pkt.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		msgType = dhcpv4.MessageTypeOffer
	case dhcpv4.MessageTypeRequest:
		peerIsZero := isZeroAddr(peer)
		switch {
		case peerIsZero && !h.Proxy:
			msgType = dhcpv4.MessageTypeAck
		case !peerIsZero && h.Proxy:
			msgType = dhcpv4.MessageTypeAck
		default:
			log.V(1).Info("request does not match server mode, ignoring")
			span.SetStatus(codes.Ok, "request/mode mismatch")

			return
		}
	default:
		return
	}

	lease, pending := h.resolveLease(mac, binding, time.Now())
	bootfile := h.resolveBootfile(pkt, pending)

	var traceparent []byte
	if h.OTELEnabled {
		traceparent = otelattr.TraceparentFromContext(ctx)
	}

	reply, err := h.buildReply(pkt, msgType, lease, binding, bootfile, traceparent)
	if err != nil {
		log.Error(err, "failed to build reply")
		span.SetStatus(codes.Error, err.Error())

		return
	}

	if msgType == dhcpv4.MessageTypeAck && h.IPXEEnabled && pending {
		h.Leases.ClearIPXEPending(mac)
	}

	if _, err := conn.WriteTo(reply.ToBytes(), h.broadcastPeer()); err != nil {
		log.Error(err, "failed to send reply")
		span.SetStatus(codes.Error, err.Error())

		return
	}

	log.Info("sent reply", "bootfile", bootfile)
	span.SetStatus(codes.Ok, "sent reply")
}

// resolveLease returns the address (and any static overrides) to use in
// the reply, plus whether the iPXE chainload flag is currently armed for
// this MAC. In Proxy mode no lease is allocated; the zero Lease is
// returned.
func (h *Handler) resolveLease(mac net.HardwareAddr, binding *StaticBinding, now time.Time) (Lease, bool) {
	existing, found := h.Leases.Get(mac)
	pending := h.IPXEEnabled
	if found {
		pending = existing.IPXEPending
	} else {
		h.Leases.SetIPXEPending(mac, h.IPXEEnabled)
	}

	if h.Proxy {
		return Lease{}, pending
	}

	if found && !existing.IP.IsZero() {
		return h.Leases.Renew(mac, existing.IP, time.Duration(h.LeaseSeconds)*time.Second, now), pending
	}

	ip := netaddr.IP{}
	if binding != nil && !binding.IPAddr.IsZero() {
		ip = binding.IPAddr
	} else {
		var err error
		ip, err = h.Leases.NextIP(h.OfferFrom, h.OfferTo, now)
		if err != nil {
			h.Log.Error(err, "out of leases")

			return Lease{}, pending
		}
	}

	return h.Leases.Renew(mac, ip, time.Duration(h.LeaseSeconds)*time.Second, now), pending
}

// resolveBootfile applies the iPXE-chainload-one-shot and
// architecture-based filename selection rules.
func (h *Handler) resolveBootfile(pkt *dhcpv4.DHCPv4, ipxePending bool) string {
	if h.IPXEEnabled && ipxePending {
		return chainloadStub
	}
	if !h.FileNameOverridden {
		if bin, ok := ArchToBootFile[GetArch(pkt)]; ok {
			return bin
		}
	}

	return h.FileName
}

func (h *Handler) maybeNotifyBooted(pkt *dhcpv4.DHCPv4) {
	if h.BootedCallback == nil || h.ExpectedHostname == "" {
		return
	}
	hostname := pkt.GetOneOption(dhcpv4.OptionHostName)
	if string(hostname) != h.ExpectedHostname {
		return
	}
	reqIP := pkt.GetOneOption(dhcpv4.OptionRequestedIPAddress)
	if len(reqIP) != 4 {
		return
	}
	ip := netaddr.IPFrom4([4]byte{reqIP[0], reqIP[1], reqIP[2], reqIP[3]})
	h.BootedCallback(ip)
}

// hasPXEClass reports whether pkt carries option 60 with "PXEClient" as a
// substring, the request filter every DHCP/ProxyDHCP packet must pass.
func hasPXEClass(pkt *dhcpv4.DHCPv4) bool {
	return strings.Contains(pkt.ClassIdentifier(), "PXEClient")
}

func isZeroAddr(peer net.Addr) bool {
	udp, ok := peer.(*net.UDPAddr)
	if !ok {
		return false
	}

	return udp.IP.IsUnspecified()
}

// broadcastPeer returns the configured broadcast destination at port 68,
// per spec: every reply goes to (broadcast-address, 68) regardless of the
// request's source port.
func (h *Handler) broadcastPeer() net.Addr {
	bcast := h.Broadcast
	if bcast.IsZero() {
		bcast = netaddr.MustParseIP("255.255.255.255")
	}

	return &net.UDPAddr{IP: bcast.IPAddr().IP, Port: 68}
}
