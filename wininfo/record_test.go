package wininfo

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r0lh/wininfo/winsys"
)

func TestLayoutMatchesGo(t *testing.T) {
	assert.Equal(t, layoutOf(), layoutFor(ptrSize))
}

func TestLayoutWindowsABI(t *testing.T) {
	l64 := layoutFor(8)
	assert.Equal(t, int32(24), l64.hwnd)
	assert.Equal(t, int32(32), l64.atom)
	assert.Equal(t, int32(40), l64.hInst)
	assert.Equal(t, int32(48), l64.wcOutput)
	assert.Equal(t, int32(80), l64.wndproc-l64.wcOutput, "sizeof(WNDCLASSEX) on x64")
	assert.Equal(t, int32(136), l64.text)
	assert.Equal(t, int32(536), l64.textSize)

	l32 := layoutFor(4)
	assert.Equal(t, int32(12), l32.hwnd)
	assert.Equal(t, int32(16), l32.atom)
	assert.Equal(t, int32(20), l32.hInst)
	assert.Equal(t, int32(24), l32.wcOutput)
	assert.Equal(t, int32(48), l32.wndproc-l32.wcOutput, "sizeof(WNDCLASSEX) on x86")
	assert.Equal(t, int32(76), l32.text)
	assert.Equal(t, int32(476), l32.textSize)
}

func TestWndClassExSize(t *testing.T) {
	var wc winsys.WndClassEx
	want := uintptr(48)
	if ptrSize == 8 {
		want = 80
	}
	assert.Equal(t, want, unsafe.Sizeof(wc))
}

func TestNewRecord(t *testing.T) {
	procs := winsys.Procs{GetClassInfoEx: 1, GetWindowLongPtr: 2, SendMessageTimeout: 3}
	r := newRecord(0x10, 0xC001, 0x400000, procs)

	assert.Equal(t, uintptr(1), r.fnGetClassInfoEx)
	assert.Equal(t, uintptr(2), r.fnGetWindowLongPtr)
	assert.Equal(t, uintptr(3), r.fnSendMessageTimeout)
	assert.Equal(t, int32(recordTextLen), r.textSize)
	assert.Equal(t, uint32(unsafe.Sizeof(r.wcOutput)), r.wcOutput.Size)
	assert.Zero(t, r.wndproc)
	assert.Len(t, r.bytes(), int(unsafe.Sizeof(*r)))
}

func TestRecordBytesAlias(t *testing.T) {
	r := newRecord(0x10, 1, 2, winsys.Procs{})
	b := r.bytes()
	l := layoutOf()
	b[l.wndproc] = 0xAB
	assert.Equal(t, uintptr(0xAB), r.wndproc&0xFF)
}

func TestClassInfoDropsForeignPointers(t *testing.T) {
	r := newRecord(0x10, 1, 2, winsys.Procs{})
	r.wcOutput.MenuName = 0x7FFE1000
	r.wcOutput.ClassName = 0x7FFE2000
	r.wcOutput.Style = 0x0B

	wc := r.classInfo()
	assert.Zero(t, wc.MenuName)
	assert.Zero(t, wc.ClassName)
	assert.Equal(t, uint32(0x0B), wc.Style)
}

func TestWindowTextTerminated(t *testing.T) {
	r := newRecord(0x10, 1, 2, winsys.Procs{})
	for i := range r.text {
		r.text[i] = 'x'
	}
	text := r.windowText()
	assert.Len(t, text, recordTextLen-1)

	r.text[0] = 0
	assert.Empty(t, r.windowText())
}

func TestCopyText(t *testing.T) {
	src := []uint16{'h', 'e', 'l', 'l', 'o'}

	dst := make([]uint16, 4)
	copyText(dst, src)
	assert.Equal(t, []uint16{'h', 'e', 'l', 0}, dst)

	dst = make([]uint16, 10)
	for i := range dst {
		dst[i] = 'z'
	}
	copyText(dst, src)
	assert.Equal(t, "hello", utf16String(dst[:5]))
	assert.Zero(t, dst[5])

	dst = []uint16{'z'}
	copyText(dst, src)
	assert.Zero(t, dst[0])

	require.NotPanics(t, func() { copyText(nil, src) })
}
