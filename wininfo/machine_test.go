package wininfo

import (
	"debug/pe"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveMachine(t *testing.T) {
	cases := []struct {
		name            string
		process, native uint16
		want            uint16
	}{
		{"native x64", pe.IMAGE_FILE_MACHINE_UNKNOWN, pe.IMAGE_FILE_MACHINE_AMD64, pe.IMAGE_FILE_MACHINE_AMD64},
		{"wow64 on x64", pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_AMD64, pe.IMAGE_FILE_MACHINE_I386},
		{"native arm64", pe.IMAGE_FILE_MACHINE_UNKNOWN, pe.IMAGE_FILE_MACHINE_ARM64, pe.IMAGE_FILE_MACHINE_ARM64},
		{"wow64 on arm64", pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_ARM64, pe.IMAGE_FILE_MACHINE_I386},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, effectiveMachine(c.process, c.native))
		})
	}
}

// An amd64 caller must not treat a native ARM64 target as its own kind,
// although neither side is WOW64.
func TestMachineMismatchWithoutWow64(t *testing.T) {
	target := effectiveMachine(pe.IMAGE_FILE_MACHINE_UNKNOWN, pe.IMAGE_FILE_MACHINE_ARM64)
	assert.NotEqual(t, machineFor("amd64"), target)
	assert.Equal(t, machineFor("arm64"), target)

	assert.Equal(t, uint16(pe.IMAGE_FILE_MACHINE_UNKNOWN), machineFor("riscv64"))
}
