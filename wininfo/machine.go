package wininfo

import (
	"debug/pe"
	"runtime"
)

// hostMachine is the PE machine type of the code this binary emits.
func hostMachine() uint16 {
	return machineFor(runtime.GOARCH)
}

func machineFor(goarch string) uint16 {
	switch goarch {
	case "386":
		return pe.IMAGE_FILE_MACHINE_I386
	case "amd64":
		return pe.IMAGE_FILE_MACHINE_AMD64
	case "arm64":
		return pe.IMAGE_FILE_MACHINE_ARM64
	}
	return pe.IMAGE_FILE_MACHINE_UNKNOWN
}

// effectiveMachine folds the two IsWow64Process2 outputs into the machine the
// process executes: the WOW64 guest if there is one, otherwise the host.
func effectiveMachine(process, native uint16) uint16 {
	if process != pe.IMAGE_FILE_MACHINE_UNKNOWN {
		return process
	}
	return native
}
