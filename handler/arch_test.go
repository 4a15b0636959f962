package handler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
)

func TestGetArch(t *testing.T) {
	tests := map[string]struct {
		pkt  *dhcpv4.DHCPv4
		want iana.Arch
	}{
		"bios": {
			pkt:  &dhcpv4.DHCPv4{Options: dhcpv4.OptionsFromList(dhcpv4.OptClientArch(iana.INTEL_X86PC))},
			want: iana.INTEL_X86PC,
		},
		"efi bc": {
			pkt:  &dhcpv4.DHCPv4{Options: dhcpv4.OptionsFromList(dhcpv4.OptClientArch(iana.EFI_BC))},
			want: iana.EFI_BC,
		},
		"unknown: option missing": {
			pkt:  &dhcpv4.DHCPv4{},
			want: iana.Arch(255),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := GetArch(tt.pkt)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestArchToBootFile(t *testing.T) {
	tests := map[string]struct {
		arch iana.Arch
		want string
		ok   bool
	}{
		"bios":       {arch: iana.INTEL_X86PC, want: "pxelinux.0", ok: true},
		"efi ia32":   {arch: iana.EFI_IA32, want: "syslinux.efi32", ok: true},
		"efi bc":     {arch: iana.EFI_BC, want: "syslinux.efi64", ok: true},
		"efi x86-64": {arch: iana.EFI_X86_64, want: "syslinux.efi64", ok: true},
		"unknown":    {arch: iana.Arch(255), ok: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := ArchToBootFile[tt.arch]
			if ok != tt.ok {
				t.Fatalf("want found=%v, got found=%v", tt.ok, ok)
			}
			if got != tt.want {
				t.Fatalf("want %q, got %q", tt.want, got)
			}
		})
	}
}
