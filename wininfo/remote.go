// Package wininfo reads class information, the window procedure address and
// the window text of a window owned by another process.
//
// Class registrations are per process and a window procedure address only has
// meaning in its owner's address space, so the queries are run inside the
// target: a small position-independent payload is copied there together with
// a fixed-layout transfer record, executed on a remote thread, and the record
// is copied back.
//
// The payload calls user32 through pointers resolved in this process. That is
// only sound because user32.dll is mapped at the same base in every process
// of a session; the pointers are checked against its image before anything
// is injected.
package wininfo

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/r0lh/wininfo/winsys"
)

// System is the set of same-process queries the fetcher needs.
type System interface {
	IsWindow(hwnd uintptr) bool
	IsWindowUnicode(hwnd uintptr) bool
	ClassAtom(hwnd uintptr) uint16
	ClassModule(hwnd uintptr) uintptr
	// Resolve returns the payload's entry points in the caller's process,
	// picking the W or A variants.
	Resolve(unicode bool) (winsys.Procs, error)
	ModuleBounds(name string) (winsys.ModuleBounds, error)
	// SameArchitecture reports whether the process owning hwnd runs the
	// same instruction set as the caller.
	SameArchitecture(hwnd uintptr) (bool, error)
}

// Injector runs code in the process that owns hwnd with a pointer to a copy
// of record as its only argument. On return record holds the remote copy and
// the thread exit code is returned.
type Injector interface {
	Inject(hwnd uintptr, code []byte, record []byte) (uint32, error)
}

// Info is the result of a successful fetch.
type Info struct {
	Class   winsys.WndClassEx
	WndProc uintptr
	Text    string

	text []uint16
}

// Fetcher runs the remote query. The zero value is not usable; see NewFetcher.
type Fetcher struct {
	sys System
	inj Injector
	log logrus.FieldLogger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Fetcher) {
		f.log = l
	}
}

// NewFetcher returns a fetcher over explicit collaborators.
func NewFetcher(sys System, inj Injector, opts ...Option) *Fetcher {
	f := &Fetcher{
		sys: sys,
		inj: inj,
		log: logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch injects the payload into the process owning hwnd and returns what it
// collected. A window that does not answer WM_GETTEXT in time yields an empty
// Text, not an error.
func (f *Fetcher) Fetch(hwnd uintptr) (*Info, error) {
	log := f.log.WithField("hwnd", hwnd)

	payload, err := hostPayload()
	if err != nil {
		return nil, err
	}
	if !f.sys.IsWindow(hwnd) {
		return nil, errors.Wrapf(ErrInvalidWindow, "%#x", hwnd)
	}
	same, err := f.sys.SameArchitecture(hwnd)
	if err != nil {
		return nil, errors.Wrap(err, "query target architecture")
	}
	if !same {
		return nil, ErrArchMismatch
	}

	unicode := f.sys.IsWindowUnicode(hwnd)
	procs, err := f.sys.Resolve(unicode)
	if err != nil {
		return nil, errors.Wrap(err, "resolve user32 entry points")
	}
	rec := newRecord(hwnd, f.sys.ClassAtom(hwnd), f.sys.ClassModule(hwnd), procs)

	if err := checkRecord(f.sys, rec); err != nil {
		log.WithError(err).Warn("refusing to inject")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"unicode": unicode,
		"atom":    rec.atom,
		"code":    payload.Size(),
		"record":  len(rec.bytes()),
	}).Debug("injecting window query")

	ret, err := f.inj.Inject(hwnd, payload.Code, rec.bytes())
	if err != nil {
		return nil, errors.Wrap(err, "inject window query")
	}
	if ret == 0 {
		return nil, errors.Wrapf(ErrRemoteFailed, "atom %#x", rec.atom)
	}

	info := rec.info()
	log.WithField("wndproc", info.WndProc).Debug("window query complete")
	return info, nil
}

// GetRemoteWindowInfo is the flat form of Fetch. All outputs are always
// written: on failure the class record and procedure are zeroed and textOut
// holds an empty string. textOut receives at most len(textOut)-1 units plus a
// terminator. The class record's name pointers are always zero.
func (f *Fetcher) GetRemoteWindowInfo(hwnd uintptr, classOut *winsys.WndClassEx, procOut *uintptr, textOut []uint16) bool {
	info, err := f.Fetch(hwnd)
	if err != nil {
		f.log.WithField("hwnd", hwnd).WithError(err).Debug("remote window query failed")
		info = &Info{}
	}
	if classOut != nil {
		*classOut = info.Class
	}
	if procOut != nil {
		*procOut = info.WndProc
	}
	copyText(textOut, info.text)
	return err == nil
}
