package wininfo

import "github.com/pkg/errors"

var (
	ErrInvalidWindow   = errors.New("window handle is not valid")
	ErrArchMismatch    = errors.New("target process architecture differs from the caller")
	ErrUnsupportedArch = errors.New("no payload for architecture")
	ErrPayloadBounds   = errors.New("payload failed its size check")
	ErrUntrustedModule = errors.New("system module bounds unavailable")
	ErrUntrustedProcs  = errors.New("function pointer outside the system module")
	ErrRemoteFailed    = errors.New("remote class lookup failed")
	ErrNotLocal        = errors.New("window is owned by another process")
)
