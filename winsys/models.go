package winsys

const (
	GWLP_WNDPROC = -4

	GCLP_HMODULE = -16
	GCW_ATOM     = -32

	WM_GETTEXT = 0x000D

	SMTO_ABORTIFHUNG = 0x0002

	// TextTimeoutMS bounds the WM_GETTEXT round trip inside the target.
	TextTimeoutMS = 100
)

// WndClassEx mirrors WNDCLASSEXW/WNDCLASSEXA field for field. Pointer-valued
// members are kept as uintptr because the values may come from a foreign
// address space.
type WndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   uintptr
	Icon       uintptr
	Cursor     uintptr
	Background uintptr
	MenuName   uintptr
	ClassName  uintptr
	IconSm     uintptr
}

// ModuleBounds is the loaded image range [Base, Base+Size) of a module in
// the calling process.
type ModuleBounds struct {
	Name string
	Base uintptr
	Size uintptr
}

// Contains reports whether addr falls inside the image.
func (m ModuleBounds) Contains(addr uintptr) bool {
	if m.Base == 0 || m.Size == 0 {
		return false
	}
	return addr >= m.Base && addr-m.Base < m.Size
}

// Procs holds the user32 entry points the payload calls through.
type Procs struct {
	GetClassInfoEx     uintptr
	GetWindowLongPtr   uintptr
	SendMessageTimeout uintptr
}
