//go:build windows

// Package inject copies a code block and a data block into another process,
// runs the code on a remote thread with the data block as its argument, and
// copies the data block back once the thread exits.
package inject

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

const (
	PROCESS_CREATE_THREAD     = windows.PROCESS_CREATE_THREAD
	PROCESS_QUERY_INFORMATION = windows.PROCESS_QUERY_INFORMATION
	PROCESS_VM_OPERATION      = windows.PROCESS_VM_OPERATION
	PROCESS_VM_READ           = windows.PROCESS_VM_READ
	PROCESS_VM_WRITE          = windows.PROCESS_VM_WRITE

	PAGE_READWRITE    = windows.PAGE_READWRITE
	PAGE_EXECUTE_READ = windows.PAGE_EXECUTE_READ

	MEM_COMMIT  = windows.MEM_COMMIT
	MEM_RESERVE = windows.MEM_RESERVE
	MEM_RELEASE = windows.MEM_RELEASE

	nullRef = 0

	// DefaultTimeout bounds the wait for the remote thread.
	DefaultTimeout = 2 * time.Second
)

// ErrTimeout is returned when the remote thread outlives the wait. Its
// memory is left allocated in the target.
var ErrTimeout = errors.New("remote thread did not exit in time")

var (
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")

	ProcVirtualAllocEx     = modKernel32.NewProc("VirtualAllocEx")
	ProcVirtualFreeEx      = modKernel32.NewProc("VirtualFreeEx")
	ProcCreateRemoteThread = modKernel32.NewProc("CreateRemoteThread")
	ProcGetExitCodeThread  = modKernel32.NewProc("GetExitCodeThread")

	ProcFlushInstructionCache = modKernel32.NewProc("FlushInstructionCache")
)

// Inject is the state of one injection. The step functions below fill it in
// order; Remote runs them all.
type Inject struct {
	Pid     uint32
	Code    []byte
	Data    []byte
	Timeout time.Duration

	RemoteProcHandle windows.Handle
	CodeAddr         uintptr
	DataAddr         uintptr
	RThread          windows.Handle
	ThreadExited     bool
	ExitCode         uint32

	log logrus.FieldLogger
}

// Options tunes Remote.
type Options struct {
	Timeout time.Duration
	Log     logrus.FieldLogger
}

// Remote runs code in process pid with a remote copy of data as the thread
// parameter, copies the remote data back into data and returns the thread's
// exit code. Any OS failure along the way is returned wrapped. Remote
// allocations are released unless a thread was started and not seen to exit.
func Remote(pid uint32, code, data []byte, opts Options) (uint32, error) {
	if len(code) == 0 || len(data) == 0 {
		return 0, errors.New("empty code or data block")
	}
	i := &Inject{
		Pid:     pid,
		Code:    code,
		Data:    data,
		Timeout: opts.Timeout,
		log:     opts.Log,
	}
	if i.Timeout <= 0 {
		i.Timeout = DefaultTimeout
	}
	if i.log == nil {
		i.log = logrus.StandardLogger()
	}
	i.log = i.log.WithField("pid", pid)

	if err := OpenProcessHandle(i); err != nil {
		return 0, err
	}
	defer windows.CloseHandle(i.RemoteProcHandle)

	if err := VirtualAllocEx(i); err != nil {
		VirtualFreeEx(i)
		return 0, err
	}
	if err := run(i); err != nil {
		if releasable(i) {
			VirtualFreeEx(i)
		} else {
			i.log.WithError(err).Warn("remote thread may still be running, leaving its memory in place")
		}
		return 0, err
	}
	if err := VirtualFreeEx(i); err != nil {
		i.log.WithError(err).Warn("remote memory not released")
	}
	return i.ExitCode, nil
}

func run(i *Inject) error {
	if err := WriteProcessMemory(i); err != nil {
		return err
	}
	if err := ProtectCode(i); err != nil {
		return err
	}
	if err := CreateRemoteThread(i); err != nil {
		return err
	}
	if err := WaitForSingleObject(i); err != nil {
		return err
	}
	return ReadProcessMemory(i)
}

// releasable reports whether the remote regions can be freed: no thread was
// started in them, or the one that was has exited.
func releasable(i *Inject) bool {
	return i.RThread == 0 || i.ThreadExited
}

func OpenProcessHandle(i *Inject) error {
	var rights uint32 = PROCESS_CREATE_THREAD | PROCESS_QUERY_INFORMATION | PROCESS_VM_OPERATION | PROCESS_VM_WRITE | PROCESS_VM_READ
	h, err := windows.OpenProcess(rights, false, i.Pid)
	if err != nil {
		return errors.Wrapf(err, "open process %d", i.Pid)
	}
	i.RemoteProcHandle = h
	i.log.WithField("handle", h).Debug("opened process")
	return nil
}

// VirtualAllocEx reserves a RW region for the code and another for the data.
func VirtualAllocEx(i *Inject) error {
	var err error
	if i.CodeAddr, err = allocEx(i.RemoteProcHandle, len(i.Code)); err != nil {
		return errors.Wrap(err, "allocate code region")
	}
	if i.DataAddr, err = allocEx(i.RemoteProcHandle, len(i.Data)); err != nil {
		return errors.Wrap(err, "allocate data region")
	}
	i.log.WithFields(logrus.Fields{
		"code": i.CodeAddr,
		"data": i.DataAddr,
	}).Debug("allocated remote memory")
	return nil
}

func allocEx(process windows.Handle, size int) (uintptr, error) {
	var flAllocationType uint32 = MEM_COMMIT | MEM_RESERVE
	var flProtect uint32 = PAGE_READWRITE
	addr, _, lastErr := ProcVirtualAllocEx.Call(
		uintptr(process),
		uintptr(nullRef),
		uintptr(size),
		uintptr(flAllocationType),
		uintptr(flProtect))
	if addr == 0 {
		return 0, lastErr
	}
	return addr, nil
}

func WriteProcessMemory(i *Inject) error {
	var written uintptr
	if err := windows.WriteProcessMemory(i.RemoteProcHandle, i.CodeAddr, &i.Code[0], uintptr(len(i.Code)), &written); err != nil {
		return errors.Wrap(err, "write code")
	}
	if err := windows.WriteProcessMemory(i.RemoteProcHandle, i.DataAddr, &i.Data[0], uintptr(len(i.Data)), &written); err != nil {
		return errors.Wrap(err, "write data")
	}
	return nil
}

// ProtectCode flips the code region to RX once it has been written.
func ProtectCode(i *Inject) error {
	var old uint32
	if err := windows.VirtualProtectEx(i.RemoteProcHandle, i.CodeAddr, uintptr(len(i.Code)), PAGE_EXECUTE_READ, &old); err != nil {
		return errors.Wrap(err, "protect code region")
	}
	flushed, _, lastErr := ProcFlushInstructionCache.Call(
		uintptr(i.RemoteProcHandle),
		i.CodeAddr,
		uintptr(len(i.Code)))
	if flushed == 0 {
		return errors.Wrap(lastErr, "flush instruction cache")
	}
	return nil
}

func CreateRemoteThread(i *Inject) error {
	var threadId uint32 = 0
	var dwCreationFlags uint32 = 0
	remoteThread, _, lastErr := ProcCreateRemoteThread.Call(
		uintptr(i.RemoteProcHandle),
		uintptr(nullRef),
		uintptr(nullRef),
		i.CodeAddr,
		i.DataAddr,
		uintptr(dwCreationFlags),
		uintptr(unsafe.Pointer(&threadId)),
	)
	if remoteThread == 0 {
		return errors.Wrap(lastErr, "create remote thread")
	}
	i.RThread = windows.Handle(remoteThread)
	i.log.WithField("tid", threadId).Debug("started remote thread")
	return nil
}

// WaitForSingleObject waits for the remote thread, collects its exit code and
// closes its handle.
func WaitForSingleObject(i *Inject) error {
	defer windows.CloseHandle(i.RThread)

	ev, err := windows.WaitForSingleObject(i.RThread, uint32(i.Timeout/time.Millisecond))
	switch {
	case err != nil:
		return errors.Wrap(err, "wait for remote thread")
	case ev == uint32(windows.WAIT_TIMEOUT):
		return errors.Wrapf(ErrTimeout, "after %v", i.Timeout)
	case ev != windows.WAIT_OBJECT_0:
		return errors.Errorf("wait for remote thread: unexpected result %#x", ev)
	}
	i.ThreadExited = true

	success, _, lastErr := ProcGetExitCodeThread.Call(
		uintptr(i.RThread),
		uintptr(unsafe.Pointer(&i.ExitCode)))
	if success == 0 {
		return errors.Wrap(lastErr, "read remote thread exit code")
	}
	return nil
}

// ReadProcessMemory copies the data region back over i.Data.
func ReadProcessMemory(i *Inject) error {
	var read uintptr
	if err := windows.ReadProcessMemory(i.RemoteProcHandle, i.DataAddr, &i.Data[0], uintptr(len(i.Data)), &read); err != nil {
		return errors.Wrap(err, "read data back")
	}
	if read != uintptr(len(i.Data)) {
		return errors.Errorf("read data back: short read %d of %d", read, len(i.Data))
	}
	return nil
}

func VirtualFreeEx(i *Inject) error {
	var dwFreeType uint32 = MEM_RELEASE
	var size uint32 = 0
	var first error
	for _, addr := range []*uintptr{&i.CodeAddr, &i.DataAddr} {
		if *addr == 0 {
			continue
		}
		rFreeValue, _, lastErr := ProcVirtualFreeEx.Call(
			uintptr(i.RemoteProcHandle),
			*addr,
			uintptr(size),
			uintptr(dwFreeType))
		if rFreeValue == 0 && first == nil {
			first = errors.Wrapf(lastErr, "free remote region %#x", *addr)
		}
		*addr = 0
	}
	return first
}
