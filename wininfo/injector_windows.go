//go:build windows

package wininfo

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/r0lh/wininfo/inject"
	"github.com/r0lh/wininfo/winsys"
)

// threadInjector runs the payload through the inject package.
type threadInjector struct {
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewInjector returns the remote-thread Injector. A zero timeout selects
// inject.DefaultTimeout.
func NewInjector(timeout time.Duration, log logrus.FieldLogger) Injector {
	return &threadInjector{timeout: timeout, log: log}
}

func (t *threadInjector) Inject(hwnd uintptr, code []byte, record []byte) (uint32, error) {
	pid, err := windowPid(hwnd)
	if err != nil {
		return 0, err
	}
	return inject.Remote(pid, code, record, inject.Options{
		Timeout: t.timeout,
		Log:     t.log,
	})
}

// New returns a Fetcher for the calling process using remote threads.
func New(timeout time.Duration, opts ...Option) *Fetcher {
	f := NewFetcher(NewSystem(), nil, opts...)
	f.inj = NewInjector(timeout, f.log)
	return f
}

var defaultFetcher = New(inject.DefaultTimeout)

// GetRemoteWindowInfo queries hwnd's class, window procedure and text from
// inside its owning process. See (*Fetcher).GetRemoteWindowInfo.
func GetRemoteWindowInfo(hwnd uintptr, classOut *winsys.WndClassEx, procOut *uintptr, textOut []uint16) bool {
	return defaultFetcher.GetRemoteWindowInfo(hwnd, classOut, procOut, textOut)
}
