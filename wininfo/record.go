package wininfo

import (
	"unicode/utf16"
	"unsafe"

	"github.com/r0lh/wininfo/winsys"
)

const ptrSize = int32(unsafe.Sizeof(uintptr(0)))

// recordTextLen is the capacity, in UTF-16 units, of the text buffer carried
// in the transfer record.
const recordTextLen = 200

// injData is the only memory shared with the payload. It is copied into the
// target process verbatim, so it must hold no Go pointers and its layout must
// match what BuildPayload encodes.
type injData struct {
	fnGetClassInfoEx     uintptr
	fnGetWindowLongPtr   uintptr
	fnSendMessageTimeout uintptr

	hwnd  uintptr
	atom  uint16
	hInst uintptr

	wcOutput winsys.WndClassEx
	wndproc  uintptr

	text     [recordTextLen]uint16
	textSize int32
}

// recordLayout is the set of field offsets the payload addresses.
type recordLayout struct {
	fnGetClassInfoEx     int32
	fnGetWindowLongPtr   int32
	fnSendMessageTimeout int32
	hwnd                 int32
	atom                 int32
	hInst                int32
	wcOutput             int32
	wndproc              int32
	text                 int32
	textSize             int32
}

func layoutOf() recordLayout {
	var r injData
	return recordLayout{
		fnGetClassInfoEx:     int32(unsafe.Offsetof(r.fnGetClassInfoEx)),
		fnGetWindowLongPtr:   int32(unsafe.Offsetof(r.fnGetWindowLongPtr)),
		fnSendMessageTimeout: int32(unsafe.Offsetof(r.fnSendMessageTimeout)),
		hwnd:                 int32(unsafe.Offsetof(r.hwnd)),
		atom:                 int32(unsafe.Offsetof(r.atom)),
		hInst:                int32(unsafe.Offsetof(r.hInst)),
		wcOutput:             int32(unsafe.Offsetof(r.wcOutput)),
		wndproc:              int32(unsafe.Offsetof(r.wndproc)),
		text:                 int32(unsafe.Offsetof(r.text)),
		textSize:             int32(unsafe.Offsetof(r.textSize)),
	}
}

// layoutFor computes the record layout for a pointer size using the
// platform C alignment rules, which Go's own layout also follows.
func layoutFor(ptr int32) recordLayout {
	align := func(off, n int32) int32 { return (off + n - 1) &^ (n - 1) }

	var l recordLayout
	l.fnGetClassInfoEx = 0
	l.fnGetWindowLongPtr = ptr
	l.fnSendMessageTimeout = 2 * ptr
	l.hwnd = 3 * ptr
	l.atom = 4 * ptr
	l.hInst = align(l.atom+2, ptr)
	l.wcOutput = l.hInst + ptr

	// cbSize, style, lpfnWndProc, cbClsExtra, cbWndExtra, then seven handles
	// and pointers starting at hInstance.
	instance := align(align(8, ptr)+ptr+8, ptr)
	wcSize := instance + 7*ptr

	l.wndproc = l.wcOutput + wcSize
	l.text = l.wndproc + ptr
	l.textSize = l.text + 2*recordTextLen
	return l
}

func newRecord(hwnd uintptr, atom uint16, hInst uintptr, procs winsys.Procs) *injData {
	r := &injData{
		fnGetClassInfoEx:     procs.GetClassInfoEx,
		fnGetWindowLongPtr:   procs.GetWindowLongPtr,
		fnSendMessageTimeout: procs.SendMessageTimeout,
		hwnd:                 hwnd,
		atom:                 atom,
		hInst:                hInst,
		textSize:             recordTextLen,
	}
	r.wcOutput.Size = uint32(unsafe.Sizeof(r.wcOutput))
	return r
}

// bytes aliases the record's memory. The slice must not outlive r.
func (r *injData) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r)), unsafe.Sizeof(*r))
}

// classInfo returns the class record with foreign string pointers cleared.
func (r *injData) classInfo() winsys.WndClassEx {
	wc := r.wcOutput
	wc.MenuName = 0
	wc.ClassName = 0
	return wc
}

// windowText decodes the text buffer up to its terminator. The last element
// is treated as a terminator even if the payload left it set.
func (r *injData) windowText() []uint16 {
	r.text[len(r.text)-1] = 0
	for i, c := range r.text {
		if c == 0 {
			return r.text[:i]
		}
	}
	return nil
}

func (r *injData) info() *Info {
	text := r.windowText()
	return &Info{
		Class:   r.classInfo(),
		WndProc: r.wndproc,
		Text:    utf16String(text),
		text:    append([]uint16(nil), text...),
	}
}

// copyText writes src into dst as a NUL-terminated string, truncating to
// len(dst)-1 units.
func copyText(dst, src []uint16) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], src)
	dst[n] = 0
}

func utf16String(s []uint16) string {
	return string(utf16.Decode(s))
}
