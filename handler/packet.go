package handler

import (
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// pxeVendorOpts builds the ProxyDHCP vendor-specific option 43 payload:
// sub-option 6 (PXE boot-server discovery control, value 8 = bypass, boot
// from filename), sub-option 10 (PXE discovery control, "\x00PXE", as
// dhcp.py's craft_options emits), sub-option 69 (opentelemetry
// traceparent, when non-empty), terminated by the encapsulated 0xFF end
// marker.
func pxeVendorOpts(traceparent []byte) []byte {
	b := []byte{6, 1, 8, 10, 4, 0x00, 'P', 'X', 'E'}
	if len(traceparent) > 0 {
		b = append(b, 69, byte(len(traceparent)))
		b = append(b, traceparent...)
	}
	b = append(b, 0xff)

	return b
}

// buildReply constructs the OFFER/ACK packet for req. lease and binding
// describe the address (and overrides) already resolved by the caller;
// bootfile is the already-selected boot filename (possibly the chainload
// stub).
func (h *Handler) buildReply(req *dhcpv4.DHCPv4, msgType dhcpv4.MessageType, lease Lease, binding *StaticBinding, bootfile string, traceparent []byte) (*dhcpv4.DHCPv4, error) {
	reply, err := dhcpv4.NewReplyFromRequest(req)
	if err != nil {
		return nil, err
	}

	reply.OpCode = dhcpv4.OpcodeBootReply
	reply.HWType = req.HWType
	reply.HopCount = 0
	reply.TransactionID = req.TransactionID
	reply.NumSeconds = 0
	reply.ClientHWAddr = req.ClientHWAddr
	reply.ServerHostName = ""
	reply.GatewayIPAddr = net.IPv4(0, 0, 0, 0)
	reply.Options = dhcpv4.Options{}
	reply.ClientIPAddr = net.IPv4(0, 0, 0, 0)

	if h.Proxy {
		reply.Flags = 0x8000
		reply.YourIPAddr = net.IPv4(0, 0, 0, 0)
		reply.ServerIPAddr = net.IPv4(0, 0, 0, 0)
		reply.BootFileName = bootfile
	} else {
		reply.Flags = 0
		reply.YourIPAddr = lease.IP.IPAddr().IP
		reply.ServerIPAddr = h.FileServer.IPAddr().IP
		reply.BootFileName = ""
	}

	reply.UpdateOption(dhcpv4.OptMessageType(msgType))
	reply.UpdateOption(dhcpv4.OptServerIdentifier(h.ServerIP.IPAddr().IP))

	if !h.Proxy {
		subnet := h.SubnetMask
		if binding != nil && !binding.Subnet.IsZero() {
			subnet = binding.Subnet
		}
		reply.UpdateOption(dhcpv4.OptSubnetMask(net.IPMask(subnet.IPAddr().IP.To4())))

		router := h.Router
		if binding != nil && !binding.Router.IsZero() {
			router = binding.Router
		}
		reply.UpdateOption(dhcpv4.OptRouter(router.IPAddr().IP))

		dns := h.DNS
		if binding != nil && len(binding.DNS) > 0 {
			dns = binding.DNS
		}
		dnsIPs := make([]net.IP, 0, len(dns))
		for _, ip := range dns {
			dnsIPs = append(dnsIPs, ip.IPAddr().IP)
		}
		if len(dnsIPs) > 0 {
			reply.UpdateOption(dhcpv4.OptDNS(dnsIPs...))
		}

		reply.UpdateOption(dhcpv4.OptIPAddressLeaseTime(time.Duration(h.LeaseSeconds) * time.Second))
	}

	reply.UpdateOption(dhcpv4.OptGeneric(dhcpv4.OptionTFTPServerName, []byte(h.FileServer.String())))
	reply.UpdateOption(dhcpv4.OptGeneric(dhcpv4.OptionBootfileName, append([]byte(bootfile), 0x00)))

	if h.Proxy {
		reply.UpdateOption(dhcpv4.OptClassIdentifier("PXEClient"))
		reply.UpdateOption(dhcpv4.OptGeneric(dhcpv4.OptionVendorSpecificInformation, pxeVendorOpts(traceparent)))
	}

	return reply, nil
}
