package qemu

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// HostIP is the host address inside the user-mode network.
	HostIP = "10.0.2.10"
	// SSHHost is where forwarded guest SSH is reachable.
	SSHHost = "127.0.0.1"

	DefaultMemory = "1G,slots=3,maxmem=4G"
	DefaultSMP    = 2
)

// Config selects what to boot.
type Config struct {
	Target     string
	ImagePath  string
	KernelPath string
	// MemoryMiB of zero uses DefaultMemory.
	MemoryMiB int64
	// SMP of zero uses DefaultSMP.
	SMP int
	// SharedMemory files are exposed to the guest as ivshmem devices.
	SharedMemory []SharedMemory
	// Binary overrides the profile's qemu binary.
	Binary string
}

type SharedMemory struct {
	Path    string
	SizeMiB int64
}

type SSHConfig struct {
	KeyPath string
	User    string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("missing target")
	}
	if strings.TrimSpace(c.ImagePath) == "" {
		return fmt.Errorf("missing disk image")
	}
	if c.SMP < 0 || c.MemoryMiB < 0 {
		return fmt.Errorf("memory and cpu count must not be negative")
	}
	for i, shm := range c.SharedMemory {
		if shm.Path == "" || shm.SizeMiB <= 0 {
			return fmt.Errorf("shared memory %d requires a path and positive size", i)
		}
	}
	return nil
}

// BuildArgs assembles the qemu argument list for cfg with guest port 22
// forwarded to sshPort.
func BuildArgs(prof Profile, cfg Config, sshPort uint16) []string {
	args := []string{
		"-display", "none",
		"-serial", "stdio",
		"-no-reboot",
		"-snapshot",
		"-device", prof.RNGDevice,
	}
	args = append(args, prof.Args...)

	mem := DefaultMemory
	if cfg.MemoryMiB > 0 {
		mem = strconv.FormatInt(cfg.MemoryMiB, 10)
	}
	smp := cfg.SMP
	if smp <= 0 {
		smp = DefaultSMP
	}
	args = append(args, "-m", mem, "-smp", strconv.Itoa(smp))

	args = append(args,
		"-device", prof.NetDev+",netdev=net0",
		"-netdev", fmt.Sprintf("user,id=net0,host=%s,hostfwd=tcp::%d-:22", HostIP, sshPort),
		"-drive", fmt.Sprintf("file=%s,index=0,media=disk", cfg.ImagePath),
	)

	if cfg.KernelPath != "" {
		cmdline := append(append([]string{}, prof.Append...), linuxAppend...)
		args = append(args, "-kernel", cfg.KernelPath, "-append", strings.Join(cmdline, " "))
	}

	for i, shm := range cfg.SharedMemory {
		args = append(args,
			"-device", fmt.Sprintf("ivshmem-plain,memdev=hostmem%d", i),
			"-object", fmt.Sprintf("memory-backend-file,size=%dM,share,mem-path=%s,id=hostmem%d", shm.SizeMiB, shm.Path, i),
		)
	}
	return args
}
