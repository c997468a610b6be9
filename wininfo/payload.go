package wininfo

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/r0lh/wininfo/winsys"
)

// MaxPayloadSize is the upper bound on the assembled payload. The payload for
// either architecture is well under it; exceeding it means the instruction
// list is broken and the code must not be shipped to another process.
const MaxPayloadSize = 256

// Payload is the thread procedure copied into the target. Code starts at the
// entry point and ends at the final return instruction; nothing else follows.
type Payload struct {
	Arch string
	Code []byte
}

// Size returns the exact byte length to copy.
func (p *Payload) Size() int {
	return len(p.Code)
}

var (
	payloadOnce sync.Once
	payloadHost *Payload
	payloadErr  error
)

// hostPayload returns the payload for the running architecture, building it
// on first use.
func hostPayload() (*Payload, error) {
	payloadOnce.Do(func() {
		if layoutFor(ptrSize) != layoutOf() {
			payloadErr = errors.Wrap(ErrPayloadBounds, "transfer record layout does not match the encoded one")
			return
		}
		payloadHost, payloadErr = BuildPayload(runtime.GOARCH)
	})
	return payloadHost, payloadErr
}

// BuildPayload assembles the thread procedure for arch. The procedure receives
// the transfer record as its only parameter and:
//
//  1. stores fnGetWindowLongPtr(hwnd, GWLP_WNDPROC) in wndproc,
//  2. calls fnGetClassInfoEx(hInst, MAKEINTATOM(atom), &wcOutput) and keeps
//     its result,
//  3. clears text and sends WM_GETTEXT through fnSendMessageTimeout with
//     SMTO_ABORTIFHUNG and a 100ms ceiling,
//  4. returns the result of step 2.
//
// Each step is skipped when its function pointer is zero. Only 386 and amd64
// are supported.
func BuildPayload(arch string) (*Payload, error) {
	var (
		code []byte
		err  error
	)
	switch arch {
	case "amd64":
		code, err = emitAMD64(layoutFor(8))
	case "386":
		code, err = emit386(layoutFor(4))
	default:
		return nil, errors.Wrap(ErrUnsupportedArch, arch)
	}
	if err != nil {
		return nil, err
	}
	if err := checkPayload(code); err != nil {
		return nil, err
	}
	return &Payload{Arch: arch, Code: code}, nil
}

func checkPayload(code []byte) error {
	switch {
	case len(code) == 0:
		return errors.Wrap(ErrPayloadBounds, "empty payload")
	case len(code) > MaxPayloadSize:
		return errors.Wrapf(ErrPayloadBounds, "payload is %d bytes, limit %d", len(code), MaxPayloadSize)
	}
	// ret or ret imm16
	if code[len(code)-1] != 0xC3 && (len(code) < 3 || code[len(code)-3] != 0xC2) {
		return errors.Wrap(ErrPayloadBounds, "payload does not end in a return")
	}
	return nil
}

// emitAMD64 follows the Windows x64 convention: record pointer in CX, BX and
// SI are preserved, 32 bytes of shadow space plus three stack arguments for
// SendMessageTimeout and one local for its result.
func emitAMD64(l recordLayout) ([]byte, error) {
	a, err := newAsm("amd64")
	if err != nil {
		return nil, err
	}
	const rec = x86.REG_BX

	a.op(x86.APUSHQ, reg(x86.REG_BX), none)
	a.op(x86.APUSHQ, reg(x86.REG_SI), none)
	a.op(x86.ASUBQ, imm(0x48), reg(x86.REG_SP))
	a.op(x86.AMOVQ, reg(x86.REG_CX), reg(rec))
	a.op(x86.AXORL, reg(x86.REG_SI), reg(x86.REG_SI))

	// wndproc
	a.op(x86.AMOVQ, mem(rec, l.fnGetWindowLongPtr), reg(x86.REG_AX))
	a.op(x86.ATESTQ, reg(x86.REG_AX), reg(x86.REG_AX))
	skip := a.jeq()
	a.op(x86.AMOVQ, mem(rec, l.hwnd), reg(x86.REG_CX))
	a.op(x86.AMOVL, imm(winsys.GWLP_WNDPROC), reg(x86.REG_DX))
	a.op(obj.ACALL, none, reg(x86.REG_AX))
	a.op(x86.AMOVQ, reg(x86.REG_AX), mem(rec, l.wndproc))
	a.bind(skip)

	// class info
	a.op(x86.AMOVQ, mem(rec, l.fnGetClassInfoEx), reg(x86.REG_AX))
	a.op(x86.ATESTQ, reg(x86.REG_AX), reg(x86.REG_AX))
	skip = a.jeq()
	a.op(x86.AMOVQ, mem(rec, l.hInst), reg(x86.REG_CX))
	a.op(x86.AMOVWLZX, mem(rec, l.atom), reg(x86.REG_DX))
	a.op(x86.ALEAQ, mem(rec, l.wcOutput), reg(x86.REG_R8))
	a.op(obj.ACALL, none, reg(x86.REG_AX))
	a.op(x86.AMOVL, reg(x86.REG_AX), reg(x86.REG_SI))
	a.bind(skip)

	// text
	a.op(x86.AMOVQ, mem(rec, l.fnSendMessageTimeout), reg(x86.REG_AX))
	a.op(x86.ATESTQ, reg(x86.REG_AX), reg(x86.REG_AX))
	skip = a.jeq()
	a.op(x86.AMOVW, imm(0), mem(rec, l.text))
	a.op(x86.AMOVQ, mem(rec, l.hwnd), reg(x86.REG_CX))
	a.op(x86.AMOVL, imm(winsys.WM_GETTEXT), reg(x86.REG_DX))
	a.op(x86.AMOVLQSX, mem(rec, l.textSize), reg(x86.REG_R8))
	a.op(x86.ALEAQ, mem(rec, l.text), reg(x86.REG_R9))
	a.op(x86.AMOVQ, imm(winsys.SMTO_ABORTIFHUNG), mem(x86.REG_SP, 0x20))
	a.op(x86.AMOVQ, imm(winsys.TextTimeoutMS), mem(x86.REG_SP, 0x28))
	a.op(x86.ALEAQ, mem(x86.REG_SP, 0x38), reg(x86.REG_AX))
	a.op(x86.AMOVQ, reg(x86.REG_AX), mem(x86.REG_SP, 0x30))
	a.op(obj.ACALL, none, mem(rec, l.fnSendMessageTimeout))
	a.bind(skip)

	a.op(x86.AMOVL, reg(x86.REG_SI), reg(x86.REG_AX))
	a.op(x86.AADDQ, imm(0x48), reg(x86.REG_SP))
	a.op(x86.APOPQ, none, reg(x86.REG_SI))
	a.op(x86.APOPQ, none, reg(x86.REG_BX))
	a.op(obj.ARET, none, none)

	return a.bytes()
}

// emit386 follows stdcall: the record pointer is at 8(BP), callees pop their
// own arguments, and the procedure pops its one argument on return.
func emit386(l recordLayout) ([]byte, error) {
	a, err := newAsm("386")
	if err != nil {
		return nil, err
	}
	const rec = x86.REG_BX

	a.op(x86.APUSHL, reg(x86.REG_BP), none)
	a.op(x86.AMOVL, reg(x86.REG_SP), reg(x86.REG_BP))
	a.op(x86.APUSHL, reg(x86.REG_BX), none)
	a.op(x86.APUSHL, reg(x86.REG_SI), none)
	a.op(x86.ASUBL, imm(4), reg(x86.REG_SP))
	a.op(x86.AMOVL, mem(x86.REG_BP, 8), reg(rec))
	a.op(x86.AXORL, reg(x86.REG_SI), reg(x86.REG_SI))

	// wndproc
	a.op(x86.AMOVL, mem(rec, l.fnGetWindowLongPtr), reg(x86.REG_AX))
	a.op(x86.ATESTL, reg(x86.REG_AX), reg(x86.REG_AX))
	skip := a.jeq()
	a.op(x86.APUSHL, imm(winsys.GWLP_WNDPROC), none)
	a.op(x86.APUSHL, mem(rec, l.hwnd), none)
	a.op(obj.ACALL, none, reg(x86.REG_AX))
	a.op(x86.AMOVL, reg(x86.REG_AX), mem(rec, l.wndproc))
	a.bind(skip)

	// class info
	a.op(x86.AMOVL, mem(rec, l.fnGetClassInfoEx), reg(x86.REG_AX))
	a.op(x86.ATESTL, reg(x86.REG_AX), reg(x86.REG_AX))
	skip = a.jeq()
	a.op(x86.ALEAL, mem(rec, l.wcOutput), reg(x86.REG_CX))
	a.op(x86.APUSHL, reg(x86.REG_CX), none)
	a.op(x86.AMOVWLZX, mem(rec, l.atom), reg(x86.REG_CX))
	a.op(x86.APUSHL, reg(x86.REG_CX), none)
	a.op(x86.APUSHL, mem(rec, l.hInst), none)
	a.op(obj.ACALL, none, reg(x86.REG_AX))
	a.op(x86.AMOVL, reg(x86.REG_AX), reg(x86.REG_SI))
	a.bind(skip)

	// text; the result local is at -12(BP), below the saved BX and SI
	a.op(x86.AMOVL, mem(rec, l.fnSendMessageTimeout), reg(x86.REG_AX))
	a.op(x86.ATESTL, reg(x86.REG_AX), reg(x86.REG_AX))
	skip = a.jeq()
	a.op(x86.AMOVW, imm(0), mem(rec, l.text))
	a.op(x86.ALEAL, mem(x86.REG_BP, -12), reg(x86.REG_CX))
	a.op(x86.APUSHL, reg(x86.REG_CX), none)
	a.op(x86.APUSHL, imm(winsys.TextTimeoutMS), none)
	a.op(x86.APUSHL, imm(winsys.SMTO_ABORTIFHUNG), none)
	a.op(x86.ALEAL, mem(rec, l.text), reg(x86.REG_CX))
	a.op(x86.APUSHL, reg(x86.REG_CX), none)
	a.op(x86.APUSHL, mem(rec, l.textSize), none)
	a.op(x86.APUSHL, imm(winsys.WM_GETTEXT), none)
	a.op(x86.APUSHL, mem(rec, l.hwnd), none)
	a.op(obj.ACALL, none, reg(x86.REG_AX))
	a.bind(skip)

	a.op(x86.AMOVL, reg(x86.REG_SI), reg(x86.REG_AX))
	a.op(x86.AADDL, imm(4), reg(x86.REG_SP))
	a.op(x86.APOPL, none, reg(x86.REG_SI))
	a.op(x86.APOPL, none, reg(x86.REG_BX))
	a.op(x86.APOPL, none, reg(x86.REG_BP))
	a.raw(0xC2, 0x04, 0x00) // RET $4

	return a.bytes()
}
