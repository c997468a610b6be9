//go:build windows

package wininfo

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/wininfo/winsys"
)

var (
	modUser32 = windows.NewLazySystemDLL("user32.dll")

	procGetClassLongW = modUser32.NewProc("GetClassLongW")
)

// user32 exports GetClassLongPtr*/GetWindowLongPtr* only on 64-bit Windows;
// on 32-bit they are header macros over the non-Ptr functions.
func longPtrName(base string, unicode bool) string {
	name := base + "Ptr"
	if runtime.GOARCH == "386" {
		name = base
	}
	if unicode {
		return name + "W"
	}
	return name + "A"
}

var procGetClassLongPtrW = modUser32.NewProc(longPtrName("GetClassLong", true))

type system struct{}

// NewSystem returns the System backed by the calling process.
func NewSystem() System {
	return system{}
}

func (system) IsWindow(hwnd uintptr) bool {
	return windows.IsWindow(windows.HWND(hwnd))
}

func (system) IsWindowUnicode(hwnd uintptr) bool {
	return windows.IsWindowUnicode(windows.HWND(hwnd))
}

func (system) ClassAtom(hwnd uintptr) uint16 {
	r, _, _ := procGetClassLongW.Call(hwnd, negIndex(winsys.GCW_ATOM))
	return uint16(r)
}

func (system) ClassModule(hwnd uintptr) uintptr {
	r, _, _ := procGetClassLongPtrW.Call(hwnd, negIndex(winsys.GCLP_HMODULE))
	return r
}

// negIndex passes a negative int index through a uintptr argument.
func negIndex(i int32) uintptr {
	return uintptr(i)
}

func (system) Resolve(unicode bool) (winsys.Procs, error) {
	classInfo := "GetClassInfoExA"
	if unicode {
		classInfo = "GetClassInfoExW"
	}
	names := []string{
		classInfo,
		longPtrName("GetWindowLong", unicode),
		"SendMessageTimeoutW",
	}
	addrs := make([]uintptr, len(names))
	for n, name := range names {
		p := modUser32.NewProc(name)
		if err := p.Find(); err != nil {
			return winsys.Procs{}, errors.Wrapf(err, "resolve %s", name)
		}
		addrs[n] = p.Addr()
	}
	return winsys.Procs{
		GetClassInfoEx:     addrs[0],
		GetWindowLongPtr:   addrs[1],
		SendMessageTimeout: addrs[2],
	}, nil
}

// ModuleBounds locates an already loaded module in the calling process. It
// does not load the module.
func (system) ModuleBounds(name string) (winsys.ModuleBounds, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return winsys.ModuleBounds{}, err
	}
	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return winsys.ModuleBounds{}, errors.Wrapf(err, "%s is not loaded", name)
	}
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), h, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return winsys.ModuleBounds{}, errors.Wrapf(err, "query %s image", name)
	}
	return winsys.ModuleBounds{
		Name: name,
		Base: mi.BaseOfDll,
		Size: uintptr(mi.SizeOfImage),
	}, nil
}

// SameArchitecture compares the machine type the target process executes
// against the one this binary was built for. Where IsWow64Process2 is not
// available (before Windows 10 1511, so no ARM64 hosts) only the bitness is
// compared.
func (system) SameArchitecture(hwnd uintptr) (bool, error) {
	pid, err := windowPid(hwnd)
	if err != nil {
		return false, err
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return false, errors.Wrapf(err, "open process %d", pid)
	}
	defer windows.CloseHandle(h)

	var proc, native uint16
	err = windows.IsWow64Process2(h, &proc, &native)
	if err == nil {
		return effectiveMachine(proc, native) == hostMachine(), nil
	}
	var missing *windows.DLLError
	if !errors.As(err, &missing) {
		return false, errors.Wrapf(err, "IsWow64Process2 %d", pid)
	}

	var self, target bool
	if err := windows.IsWow64Process(windows.CurrentProcess(), &self); err != nil {
		return false, errors.Wrap(err, "IsWow64Process self")
	}
	if err := windows.IsWow64Process(h, &target); err != nil {
		return false, errors.Wrapf(err, "IsWow64Process %d", pid)
	}
	return self == target, nil
}

func windowPid(hwnd uintptr) (uint32, error) {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(hwnd), &pid); err != nil {
		return 0, errors.Wrapf(err, "owner of window %#x", hwnd)
	}
	if pid == 0 {
		return 0, errors.Wrapf(ErrInvalidWindow, "%#x has no owner", hwnd)
	}
	return pid, nil
}
