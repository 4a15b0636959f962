package handler

import (
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
)

// ArchToBootFile maps DHCP option 93 client-architecture values to the
// boot filename served for that architecture. Per RFC 2132 §8.4 and the
// PXE spec, 0x0007 (EFI BC) and 0x0009 (EFI x86-64) both resolve to the
// 64-bit EFI loader; this duplication is intentional, not an oversight.
var ArchToBootFile = map[iana.Arch]string{
	iana.INTEL_X86PC: "pxelinux.0",
	iana.EFI_IA32:    "syslinux.efi32",
	iana.EFI_BC:      "syslinux.efi64",
	iana.EFI_X86_64:  "syslinux.efi64",
}

// GetArch returns the first client architecture pulled from DHCP option
// 93, or iana.Arch(255) ("unknown") when the option is absent. Values not
// in ArchToBootFile are returned unchanged.
func GetArch(pkt *dhcpv4.DHCPv4) iana.Arch {
	fwt := pkt.ClientArch()
	if len(fwt) == 0 {
		return iana.Arch(255)
	}

	return fwt[0]
}
