package tcc

// Options configure the search paths of every compilation.
type Options struct {
	// RuntimeIncludeDir holds the compiler's own headers (stddef.h,
	// stdarg.h, ...). It is searched before the system paths.
	RuntimeIncludeDir string
	SysIncludePaths   []string
	LibraryPaths      []string
	// Diagnostics receives compiler messages that mention an error.
	Diagnostics func(string)
}

const DefaultRuntimeIncludeDir = "/usr/lib/x86_64-linux-gnu/tcc/include"

var (
	defaultSysIncludePaths = []string{"/usr/include", "/usr/local/include"}
	defaultLibraryPaths    = []string{"/usr/lib", "/usr/local/lib"}
)

func (o Options) withDefaults() Options {
	runtimeDir := o.RuntimeIncludeDir
	if runtimeDir == "" {
		runtimeDir = DefaultRuntimeIncludeDir
	}
	sys := o.SysIncludePaths
	if len(sys) == 0 {
		sys = defaultSysIncludePaths
	}
	out := o
	out.SysIncludePaths = append([]string{runtimeDir}, sys...)
	if len(out.LibraryPaths) == 0 {
		out.LibraryPaths = defaultLibraryPaths
	}
	return out
}
