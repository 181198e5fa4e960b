package qemu

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func argAfter(args []string, flag string) []string {
	var out []string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			out = append(out, args[i+1])
		}
	}
	return out
}

func TestLookupUnknownTarget(t *testing.T) {
	t.Parallel()

	_, err := DefaultProfiles().Lookup("plan9/amd64")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
	if !strings.Contains(err.Error(), "linux/amd64") {
		t.Fatalf("error should list supported targets: %v", err)
	}
}

func TestLookupReturnsDetachedProfile(t *testing.T) {
	t.Parallel()

	profiles := DefaultProfiles()
	prof, err := profiles.Lookup("linux/amd64")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	prof.Append[0] = "root=/dev/mutated"
	again, _ := profiles.Lookup("linux/amd64")
	if again.Append[0] != "root=/dev/sda" {
		t.Fatal("profile table mutated through lookup result")
	}
}

func TestBuildArgsDefaults(t *testing.T) {
	t.Parallel()

	prof, err := DefaultProfiles().Lookup("linux/amd64")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	args := BuildArgs(prof, Config{Target: "linux/amd64", ImagePath: "/images/stretch.img"}, 10022)

	for _, flag := range []string{"-no-reboot", "-snapshot", "-enable-kvm"} {
		if !slices.Contains(args, flag) {
			t.Fatalf("missing %s in %v", flag, args)
		}
	}
	checks := map[string]string{
		"-display": "none",
		"-serial":  "stdio",
		"-m":       DefaultMemory,
		"-smp":     "2",
		"-netdev":  "user,id=net0,host=10.0.2.10,hostfwd=tcp::10022-:22",
		"-drive":   "file=/images/stretch.img,index=0,media=disk",
	}
	for flag, want := range checks {
		got := argAfter(args, flag)
		if len(got) != 1 || got[0] != want {
			t.Fatalf("unexpected %s: got %v want %q", flag, got, want)
		}
	}
	if devices := argAfter(args, "-device"); !slices.Contains(devices, "virtio-rng-pci") || !slices.Contains(devices, "e1000,netdev=net0") {
		t.Fatalf("unexpected devices: %v", devices)
	}
	if slices.Contains(args, "-kernel") || slices.Contains(args, "-append") {
		t.Fatal("kernel flags present without kernel")
	}
}

func TestBuildArgsKernelAppendsPanicParameters(t *testing.T) {
	t.Parallel()

	prof, _ := DefaultProfiles().Lookup("linux/arm64")
	args := BuildArgs(prof, Config{
		Target:     "linux/arm64",
		ImagePath:  "/images/arm64.img",
		KernelPath: "/kernels/Image",
		MemoryMiB:  2048,
		SMP:        4,
	}, 2222)

	if got := argAfter(args, "-kernel"); len(got) != 1 || got[0] != "/kernels/Image" {
		t.Fatalf("unexpected kernel: %v", got)
	}
	appendLine := argAfter(args, "-append")
	if len(appendLine) != 1 {
		t.Fatalf("expected one -append, got %v", appendLine)
	}
	if !strings.HasPrefix(appendLine[0], "root=/dev/vda console=ttyAMA0 earlyprintk=serial oops=panic") {
		t.Fatalf("unexpected append line: %q", appendLine[0])
	}
	if !strings.HasSuffix(appendLine[0], "biosdevname=0") {
		t.Fatalf("append line missing trailing parameters: %q", appendLine[0])
	}
	if got := argAfter(args, "-m"); got[0] != "2048" {
		t.Fatalf("unexpected memory: %v", got)
	}
	if got := argAfter(args, "-smp"); got[0] != "4" {
		t.Fatalf("unexpected smp: %v", got)
	}
}

func TestBuildArgsSharedMemoryPairs(t *testing.T) {
	t.Parallel()

	prof, _ := DefaultProfiles().Lookup("linux/amd64")
	args := BuildArgs(prof, Config{
		Target:    "linux/amd64",
		ImagePath: "/img",
		SharedMemory: []SharedMemory{
			{Path: "/dev/shm/in", SizeMiB: 4},
			{Path: "/dev/shm/out", SizeMiB: 16},
		},
	}, 2222)

	devices := argAfter(args, "-device")
	objects := argAfter(args, "-object")
	for i, want := range []string{"ivshmem-plain,memdev=hostmem0", "ivshmem-plain,memdev=hostmem1"} {
		if !slices.Contains(devices, want) {
			t.Fatalf("missing device %d %q in %v", i, want, devices)
		}
	}
	wantObjects := []string{
		"memory-backend-file,size=4M,share,mem-path=/dev/shm/in,id=hostmem0",
		"memory-backend-file,size=16M,share,mem-path=/dev/shm/out,id=hostmem1",
	}
	if !slices.Equal(objects, wantObjects) {
		t.Fatalf("got %v want %v", objects, wantObjects)
	}
}

func TestS390xUsesCCWRNG(t *testing.T) {
	t.Parallel()

	prof, _ := DefaultProfiles().Lookup("linux/s390x")
	args := BuildArgs(prof, Config{Target: "linux/s390x", ImagePath: "/img"}, 2222)
	if !slices.Contains(argAfter(args, "-device"), "virtio-rng-ccw") {
		t.Fatalf("expected virtio-rng-ccw in %v", args)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing target", Config{ImagePath: "/img"}},
		{"missing image", Config{Target: "linux/amd64"}},
		{"negative smp", Config{Target: "linux/amd64", ImagePath: "/img", SMP: -1}},
		{"bad shm", Config{Target: "linux/amd64", ImagePath: "/img", SharedMemory: []SharedMemory{{Path: "/f"}}}},
	}
	for _, tc := range cases {
		if err := tc.cfg.validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
