package qemu

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Profile holds the static launch parameters of one guest architecture.
type Profile struct {
	Binary    string
	Args      []string
	Append    []string
	NetDev    string
	RNGDevice string
}

// Profiles is a read-only table keyed by "os/arch". Build it once with
// DefaultProfiles and share it freely.
type Profiles map[string]Profile

// linuxAppend is added to the kernel command line whenever a custom kernel
// is booted, so guest oopses and warnings surface as panics.
var linuxAppend = []string{
	"earlyprintk=serial",
	"oops=panic",
	"nmi_watchdog=panic",
	"panic_on_warn=1",
	"panic=1",
	"ftrace_dump_on_oops=orig_cpu",
	"vsyscall=native",
	"net.ifnames=0",
	"biosdevname=0",
}

func DefaultProfiles() Profiles {
	return Profiles{
		"linux/amd64": {
			Binary: "qemu-system-x86_64",
			Args:   []string{"-enable-kvm", "-cpu", "host,migratable=off"},
			NetDev: "e1000",
			Append: []string{
				"root=/dev/sda",
				"console=ttyS0",
				"kvm-intel.nested=1",
				"kvm-intel.unrestricted_guest=1",
				"kvm-intel.vmm_exclusive=1",
				"kvm-intel.fasteoi=1",
				"kvm-intel.ept=1",
				"kvm-intel.flexpriority=1",
				"kvm-intel.vpid=1",
				"kvm-intel.emulate_invalid_guest_state=1",
				"kvm-intel.eptad=1",
				"kvm-intel.enable_shadow_vmcs=1",
				"kvm-intel.pml=1",
				"kvm-intel.enable_apicv=1",
			},
		},
		"linux/386": {
			Binary: "qemu-system-i386",
			NetDev: "e1000",
			Append: []string{"root=/dev/sda", "console=ttyS0"},
		},
		"linux/arm64": {
			Binary: "qemu-system-aarch64",
			Args:   []string{"-machine", "virt,virtualization=on", "-cpu", "cortex-a57"},
			NetDev: "virtio-net-pci",
			Append: []string{"root=/dev/vda", "console=ttyAMA0"},
		},
		"linux/arm": {
			Binary: "qemu-system-arm",
			NetDev: "virtio-net-pci",
			Append: []string{"root=/dev/vda", "console=ttyAMA0"},
		},
		"linux/mips64le": {
			Binary: "qemu-system-mips64el",
			Args:   []string{"-M", "malta", "-cpu", "MIPS64R2-generic", "-nodefaults"},
			NetDev: "e1000",
			Append: []string{"root=/dev/sda", "console=ttyS0"},
		},
		"linux/ppc64le": {
			Binary: "qemu-system-ppc64",
			Args:   []string{"-enable-kvm", "-vga", "none"},
			NetDev: "virtio-net-pci",
		},
		"linux/riscv64": {
			Binary: "qemu-system-riscv64",
			Args:   []string{"-machine", "virt"},
			NetDev: "virtio-net-pci",
			Append: []string{"root=/dev/vda", "console=ttyS0"},
		},
		"linux/s390x": {
			Binary:    "qemu-system-s390x",
			Args:      []string{"-M", "s390-ccw-virtio", "-cpu", "max,zpci=on"},
			NetDev:    "virtio-net-pci",
			RNGDevice: "virtio-rng-ccw",
			Append:    []string{"root=/dev/vda"},
		},
	}
}

// Lookup returns the profile for target. Unknown targets wrap
// ErrUnknownTarget.
func (p Profiles) Lookup(target string) (Profile, error) {
	prof, ok := p[strings.TrimSpace(target)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s (supported: %s)", ErrUnknownTarget, target, strings.Join(p.Targets(), ", "))
	}
	prof.Args = slices.Clone(prof.Args)
	prof.Append = slices.Clone(prof.Append)
	if prof.RNGDevice == "" {
		prof.RNGDevice = "virtio-rng-pci"
	}
	return prof, nil
}

// Targets returns the supported targets in sorted order.
func (p Profiles) Targets() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
