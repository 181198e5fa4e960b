package tcc

import (
	"slices"
	"testing"
)

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	got := Options{}.withDefaults()
	if want := []string{DefaultRuntimeIncludeDir, "/usr/include", "/usr/local/include"}; !slices.Equal(got.SysIncludePaths, want) {
		t.Fatalf("unexpected sysinclude paths: got %v want %v", got.SysIncludePaths, want)
	}
	if want := []string{"/usr/lib", "/usr/local/lib"}; !slices.Equal(got.LibraryPaths, want) {
		t.Fatalf("unexpected library paths: got %v want %v", got.LibraryPaths, want)
	}
}

func TestOptionsRuntimeDirPrecedesConfiguredPaths(t *testing.T) {
	t.Parallel()

	got := Options{RuntimeIncludeDir: "/opt/tcc/include", SysIncludePaths: []string{"/sysroot/usr/include"}}.withDefaults()
	if want := []string{"/opt/tcc/include", "/sysroot/usr/include"}; !slices.Equal(got.SysIncludePaths, want) {
		t.Fatalf("got %v want %v", got.SysIncludePaths, want)
	}
}
