package kcov

// This file mirrors the KCOV ioctl interface described in the kernel
// documentation under Documentation/dev-tools/kcov.rst.

const (
	// DevicePath is the debugfs node opened by generated programs.
	DevicePath = "/sys/kernel/debug/kcov"

	// CoverSize is the number of trace entries mapped per execution. The
	// first entry of the mapping holds the count of collected PCs.
	CoverSize = 1024 * 1024

	// EntrySize is the size in bytes of one trace entry (unsigned long) on
	// the 64-bit targets the executor runs on.
	EntrySize = 8

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone = 0
	iocRead = 2

	// InitTrace is _IOR('c', 1, unsigned long).
	InitTrace uintptr = (iocRead << iocDirShift) | (EntrySize << iocSizeShift) | ('c' << iocTypeShift) | (1 << iocNrShift)
	// Enable is _IO('c', 100).
	Enable uintptr = (iocNone << iocDirShift) | ('c' << iocTypeShift) | (100 << iocNrShift)
	// Disable is _IO('c', 101).
	Disable uintptr = (iocNone << iocDirShift) | ('c' << iocTypeShift) | (101 << iocNrShift)

	TracePC = 0
)

// CMacros are the ioctl and size definitions emitted into every
// instrumented translation unit.
const CMacros = `
#define KCOV_INIT_TRACE  _IOR('c', 1, unsigned long)
#define KCOV_ENABLE      _IO('c', 100)
#define KCOV_DISABLE     _IO('c', 101)
#define COVER_SIZE       1024*1024
#define KCOV_TRACE_PC    0
`
