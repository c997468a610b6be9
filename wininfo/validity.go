package wininfo

import (
	"github.com/pkg/errors"

	"github.com/r0lh/wininfo/winsys"
)

// trustedModule is the module every payload function pointer must resolve
// into. It is mapped at the same address in every process of a session.
const trustedModule = "user32.dll"

// trusted reports whether every function pointer lies inside m. A shim can
// redirect these pointers into the caller's own image, where they mean
// nothing to the target.
func (r *injData) trusted(m winsys.ModuleBounds) bool {
	return m.Contains(r.fnSendMessageTimeout) &&
		m.Contains(r.fnGetWindowLongPtr) &&
		m.Contains(r.fnGetClassInfoEx)
}

// checkRecord looks up the trusted module bounds in the calling process and
// validates r against them.
func checkRecord(sys System, r *injData) error {
	bounds, err := sys.ModuleBounds(trustedModule)
	if err != nil {
		return errors.Wrapf(ErrUntrustedModule, "%s: %v", trustedModule, err)
	}
	if bounds.Size == 0 {
		return errors.Wrapf(ErrUntrustedModule, "%s reports an empty image", trustedModule)
	}
	if !r.trusted(bounds) {
		return errors.Wrapf(ErrUntrustedProcs, "%s spans %#x-%#x", trustedModule, bounds.Base, bounds.Base+bounds.Size)
	}
	return nil
}
