//go:build windows

package wininfo

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/wininfo/winsys"
)

// GetLocalWindowInfo runs the payload's three queries directly, through the
// same entry points, for a window owned by the calling process.
func GetLocalWindowInfo(hwnd uintptr) (*Info, error) {
	sys := NewSystem()
	if !sys.IsWindow(hwnd) {
		return nil, errors.Wrapf(ErrInvalidWindow, "%#x", hwnd)
	}
	pid, err := windowPid(hwnd)
	if err != nil {
		return nil, err
	}
	if pid != windows.GetCurrentProcessId() {
		return nil, errors.Wrapf(ErrNotLocal, "%#x belongs to process %d", hwnd, pid)
	}
	procs, err := sys.Resolve(sys.IsWindowUnicode(hwnd))
	if err != nil {
		return nil, errors.Wrap(err, "resolve user32 entry points")
	}

	rec := newRecord(hwnd, sys.ClassAtom(hwnd), sys.ClassModule(hwnd), procs)
	rec.wndproc, _, _ = syscall.SyscallN(procs.GetWindowLongPtr, hwnd, negIndex(winsys.GWLP_WNDPROC))
	ok, _, _ := syscall.SyscallN(procs.GetClassInfoEx, rec.hInst, uintptr(rec.atom), uintptr(unsafe.Pointer(&rec.wcOutput)))
	var result uintptr
	syscall.SyscallN(procs.SendMessageTimeout, hwnd, winsys.WM_GETTEXT, uintptr(rec.textSize),
		uintptr(unsafe.Pointer(&rec.text[0])), winsys.SMTO_ABORTIFHUNG, winsys.TextTimeoutMS,
		uintptr(unsafe.Pointer(&result)))
	if ok == 0 {
		return nil, errors.Wrapf(ErrRemoteFailed, "atom %#x", rec.atom)
	}

	return rec.info(), nil
}
