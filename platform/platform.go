// Package platform identifies the platforms packages are built for, in the
// conda subdir naming scheme, and detects the virtual packages of the system
// the process runs on.
package platform

import (
	"runtime"
)

// Platform is a conda-style subdir identifier, e.g. "linux-64" or "osx-arm64".
type Platform string

const (
	Linux64    Platform = "linux-64"
	LinuxArm64 Platform = "linux-aarch64"
	Osx64      Platform = "osx-64"
	OsxArm64   Platform = "osx-arm64"
	Win64      Platform = "win-64"
	NoArch     Platform = "noarch"
)

func (p Platform) String() string { return string(p) }

// IsWindows reports whether the platform is a Windows flavor.
func (p Platform) IsWindows() bool { return p == Win64 }

// Current returns the platform of the running process.
func Current() Platform {
	switch runtime.GOOS {
	case "linux":
		if runtime.GOARCH == "arm64" {
			return LinuxArm64
		}
		return Linux64
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return OsxArm64
		}
		return Osx64
	case "windows":
		return Win64
	default:
		return Platform(runtime.GOOS + "-" + runtime.GOARCH)
	}
}

// VirtualPackage describes a system capability (e.g. "__unix", "__linux")
// that a solver may match requirements against.
type VirtualPackage struct {
	Name    string
	Version string
	Build   string
}

func (v VirtualPackage) String() string {
	s := v.Name
	if v.Version != "" {
		s += "=" + v.Version
	}
	return s
}

// Detect returns the virtual packages of the current system. Detection is
// deliberately coarse: callers that need kernel or libc versions inject their
// own set through the dispatcher builder.
func Detect() []VirtualPackage {
	var pkgs []VirtualPackage
	switch runtime.GOOS {
	case "linux":
		pkgs = append(pkgs,
			VirtualPackage{Name: "__unix", Version: "0", Build: "0"},
			VirtualPackage{Name: "__linux", Version: "0", Build: "0"},
		)
	case "darwin":
		pkgs = append(pkgs,
			VirtualPackage{Name: "__unix", Version: "0", Build: "0"},
			VirtualPackage{Name: "__osx", Version: "0", Build: "0"},
		)
	case "windows":
		pkgs = append(pkgs, VirtualPackage{Name: "__win", Version: "0", Build: "0"})
	}
	pkgs = append(pkgs, VirtualPackage{Name: "__archspec", Version: "1", Build: runtime.GOARCH})
	return pkgs
}
