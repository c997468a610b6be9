package wininfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj"
	"golang.org/x/arch/x86/x86asm"
)

type archCase struct {
	arch   string
	mode   int
	layout recordLayout
	record []x86asm.Reg
	stack  []x86asm.Reg
}

var archCases = []archCase{
	{
		arch:   "amd64",
		mode:   64,
		layout: layoutFor(8),
		record: []x86asm.Reg{x86asm.RBX},
		stack:  []x86asm.Reg{x86asm.RSP},
	},
	{
		arch:   "386",
		mode:   32,
		layout: layoutFor(4),
		record: []x86asm.Reg{x86asm.EBX},
		stack:  []x86asm.Reg{x86asm.ESP, x86asm.EBP},
	},
}

func offsets(l recordLayout) map[int64]bool {
	return map[int64]bool{
		int64(l.fnGetClassInfoEx):     true,
		int64(l.fnGetWindowLongPtr):   true,
		int64(l.fnSendMessageTimeout): true,
		int64(l.hwnd):                 true,
		int64(l.atom):                 true,
		int64(l.hInst):                true,
		int64(l.wcOutput):             true,
		int64(l.wndproc):              true,
		int64(l.text):                 true,
		int64(l.textSize):             true,
	}
}

func hasReg(regs []x86asm.Reg, r x86asm.Reg) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

func decodeAll(t *testing.T, code []byte, mode int) []x86asm.Inst {
	t.Helper()
	var insts []x86asm.Inst
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], mode)
		require.NoErrorf(t, err, "decode at %d", pc)
		insts = append(insts, inst)
		pc += inst.Len
	}
	return insts
}

func TestBuildPayloadSize(t *testing.T) {
	for _, c := range archCases {
		t.Run(c.arch, func(t *testing.T) {
			p, err := BuildPayload(c.arch)
			require.NoError(t, err)
			assert.Equal(t, c.arch, p.Arch)
			assert.Equal(t, len(p.Code), p.Size())
			assert.NotZero(t, p.Size())
			assert.LessOrEqual(t, p.Size(), MaxPayloadSize)
		})
	}
}

func TestBuildPayloadUnsupported(t *testing.T) {
	_, err := BuildPayload("arm64")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedArch)
}

// The payload must be self-contained: every memory operand is relative to
// the record register or the local frame, calls are indirect, and branches
// stay inside the code.
func TestPayloadIsSelfContained(t *testing.T) {
	for _, c := range archCases {
		t.Run(c.arch, func(t *testing.T) {
			p, err := BuildPayload(c.arch)
			require.NoError(t, err)

			fields := offsets(c.layout)
			insts := decodeAll(t, p.Code, c.mode)
			calls := 0
			pc := 0
			for _, inst := range insts {
				for _, arg := range inst.Args {
					if arg == nil {
						break
					}
					switch a := arg.(type) {
					case x86asm.Mem:
						assert.Zerof(t, a.Index, "%v: indexed operand", inst)
						assert.Zerof(t, a.Segment, "%v: segment override", inst)
						switch {
						case hasReg(c.record, a.Base):
							assert.Truef(t, fields[a.Disp], "%v: %#x is not a record field", inst, a.Disp)
						case hasReg(c.stack, a.Base):
						default:
							t.Errorf("%v: memory operand based on %v", inst, a.Base)
						}
					case x86asm.Rel:
						assert.Equalf(t, x86asm.JE, inst.Op, "%v: relative operand", inst)
						target := pc + inst.Len + int(a)
						assert.Greater(t, target, pc)
						assert.LessOrEqual(t, target, len(p.Code))
					}
				}
				if inst.Op == x86asm.CALL {
					calls++
					_, rel := inst.Args[0].(x86asm.Rel)
					assert.Falsef(t, rel, "%v: direct call", inst)
				}
				pc += inst.Len
			}

			assert.Equal(t, 3, calls)
			assert.Equal(t, x86asm.RET, insts[len(insts)-1].Op)
		})
	}
}

// The three calls happen in a fixed order: window procedure, class info,
// then the text request.
func TestPayloadCallOrder(t *testing.T) {
	for _, c := range archCases {
		t.Run(c.arch, func(t *testing.T) {
			p, err := BuildPayload(c.arch)
			require.NoError(t, err)

			insts := decodeAll(t, p.Code, c.mode)
			tests := 0
			for _, inst := range insts {
				if inst.Op == x86asm.TEST {
					tests++
				}
			}
			assert.Equal(t, 3, tests, "one null check per function pointer")

			var seen []int64
			for _, inst := range insts {
				if inst.Op != x86asm.MOV {
					continue
				}
				m, ok := inst.Args[1].(x86asm.Mem)
				if !ok || !hasReg(c.record, m.Base) {
					continue
				}
				switch int32(m.Disp) {
				case c.layout.fnGetWindowLongPtr, c.layout.fnGetClassInfoEx, c.layout.fnSendMessageTimeout:
					seen = append(seen, m.Disp)
				}
			}
			assert.Equal(t, []int64{
				int64(c.layout.fnGetWindowLongPtr),
				int64(c.layout.fnGetClassInfoEx),
				int64(c.layout.fnSendMessageTimeout),
			}, seen)
		})
	}
}

func TestCheckPayload(t *testing.T) {
	assert.ErrorIs(t, checkPayload(nil), ErrPayloadBounds)
	assert.ErrorIs(t, checkPayload([]byte{0x90, 0x90}), ErrPayloadBounds)
	assert.NoError(t, checkPayload([]byte{0x90, 0xC3}))
	assert.NoError(t, checkPayload([]byte{0x90, 0xC2, 0x04, 0x00}))

	big := make([]byte, MaxPayloadSize+1)
	big[len(big)-1] = 0xC3
	assert.ErrorIs(t, checkPayload(big), ErrPayloadBounds)
}

func TestAsmBranches(t *testing.T) {
	a, err := newAsm("amd64")
	require.NoError(t, err)
	j := a.jeq()
	a.raw(0x90, 0x90)
	a.bind(j)
	a.op(obj.ARET, none, none)
	code, err := a.bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x74, 0x02, 0x90, 0x90, 0xC3}, code)

	// out of rel8 range the branch is widened
	a, err = newAsm("amd64")
	require.NoError(t, err)
	j = a.jeq()
	a.raw(make([]byte, 200)...)
	a.bind(j)
	a.op(obj.ARET, none, none)
	code, err = a.bytes()
	require.NoError(t, err)
	require.Len(t, code, 6+200+1)
	assert.Equal(t, []byte{0x0F, 0x84, 200, 0, 0, 0}, code[:6])
}

func TestAsmUnboundBranch(t *testing.T) {
	a, err := newAsm("386")
	require.NoError(t, err)
	a.jeq()
	a.op(obj.ARET, none, none)
	_, err = a.bytes()
	assert.ErrorIs(t, err, ErrPayloadBounds)

	a, err = newAsm("386")
	require.NoError(t, err)
	a.bind(a.jeq())
	_, err = a.bytes()
	assert.ErrorIs(t, err, ErrPayloadBounds)

	a, err = newAsm("386")
	require.NoError(t, err)
	_, err = a.bytes()
	assert.ErrorIs(t, err, ErrPayloadBounds)
}

func TestAsmUnknownArch(t *testing.T) {
	_, err := newAsm("sparc")
	assert.ErrorIs(t, err, ErrUnsupportedArch)
}

func TestPayloadEpilogue(t *testing.T) {
	p, err := BuildPayload("386")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC2, 0x04, 0x00}, p.Code[len(p.Code)-3:])

	p, err = BuildPayload("amd64")
	require.NoError(t, err)
	assert.Equal(t, byte(0xC3), p.Code[len(p.Code)-1])
}

func TestHostPayload(t *testing.T) {
	p, err := hostPayload()
	if err != nil {
		assert.ErrorIs(t, err, ErrUnsupportedArch)
		return
	}
	assert.NotEmpty(t, p.Code)
}
