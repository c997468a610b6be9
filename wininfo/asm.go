package wininfo

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/twitchyliquid64/golang-asm/asm/arch"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"github.com/twitchyliquid64/golang-asm/objabi"
)

// The obj/x86 tables are package globals filled in on first use.
var asmMu sync.Mutex

// asm collects an instruction list for one architecture and assembles it as
// a standalone procedure. The helpers only produce register, immediate and
// base+displacement operands, so the result never needs relocating.
type asm struct {
	arch    *arch.Arch
	ctxt    *obj.Link
	first   *obj.Prog
	last    *obj.Prog
	pending []*obj.Prog
	err     error
}

func newAsm(goarch string) (*asm, error) {
	a := arch.Set(goarch)
	if a == nil {
		return nil, errors.Wrap(ErrUnsupportedArch, goarch)
	}
	ctxt := obj.Linknew(a.LinkArch)
	ctxt.Headtype = objabi.Hwindows
	// no jump-alignment padding
	ctxt.IsAsm = true

	as := &asm{arch: a, ctxt: ctxt}
	ctxt.DiagFunc = func(format string, args ...interface{}) {
		if as.err == nil {
			as.err = errors.Wrap(ErrPayloadBounds, fmt.Sprintf(format, args...))
		}
	}
	asmMu.Lock()
	a.Init(ctxt)
	asmMu.Unlock()
	return as, nil
}

func reg(r int16) obj.Addr {
	return obj.Addr{Type: obj.TYPE_REG, Reg: r}
}

func mem(base int16, disp int32) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: int64(disp)}
}

func imm(v int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_CONST, Offset: v}
}

var none obj.Addr

// op appends one instruction. Branches bound since the previous instruction
// target it.
func (a *asm) op(as obj.As, from, to obj.Addr) *obj.Prog {
	p := a.ctxt.NewProg()
	p.As = as
	p.From = from
	p.To = to
	for _, j := range a.pending {
		j.To.SetTarget(p)
	}
	a.pending = a.pending[:0]

	if a.first == nil {
		a.first = p
	} else {
		a.last.Link = p
	}
	a.last = p
	return p
}

// raw appends literal bytes for encodings the assembler has no mnemonic for.
func (a *asm) raw(b ...byte) {
	for _, v := range b {
		a.op(x86.ABYTE, imm(int64(v)), none)
	}
}

// jeq appends a forward conditional branch. It is resolved by bind.
func (a *asm) jeq() *obj.Prog {
	return a.op(x86.AJEQ, none, obj.Addr{Type: obj.TYPE_BRANCH})
}

// bind points j at the next instruction appended.
func (a *asm) bind(j *obj.Prog) {
	a.pending = append(a.pending, j)
}

func (a *asm) bytes() ([]byte, error) {
	if len(a.pending) != 0 {
		return nil, errors.Wrapf(ErrPayloadBounds, "%d branches bound past the end", len(a.pending))
	}
	if a.first == nil {
		return nil, errors.Wrap(ErrPayloadBounds, "no instructions")
	}
	for p := a.first; p != nil; p = p.Link {
		if p.To.Type == obj.TYPE_BRANCH && p.To.Target() == nil {
			return nil, errors.Wrapf(ErrPayloadBounds, "unbound branch %v", p)
		}
	}

	s := &obj.LSym{Func: &obj.FuncInfo{Text: a.first}}
	asmMu.Lock()
	a.arch.Assemble(a.ctxt, s, a.ctxt.NewProg)
	asmMu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	for _, r := range s.R {
		// indirect calls leave a zero-width marker
		if r.Siz != 0 {
			return nil, errors.Wrapf(ErrPayloadBounds, "relocation at %d", r.Off)
		}
	}
	return s.P, nil
}
