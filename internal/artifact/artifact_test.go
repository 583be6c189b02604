package artifact

import (
	"testing"

	"github.com/wazevoproject/wazevo/internal/testing/require"
	"github.com/wazevoproject/wazevo/internal/trap"
	"github.com/wazevoproject/wazevo/internal/types"
)

func sampleArtifact() *Artifact {
	return &Artifact{
		TargetTriple: "x86_64-unknown-unknown",
		ABITag:       "wazevo-arraycall-v1",
		Functions: []FunctionEntry{
			{Name: "add", CodeOffset: 0, CodeLength: 16, SigID: 0, UnwindOffset: 0, TrapTableOffset: 0},
			{Name: "helper", CodeOffset: 16, CodeLength: 32, SigID: 1, UnwindOffset: 1, TrapTableOffset: 1},
		},
		Code: []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3},
		Relocations: []RelocationEntry{
			{CodeOffset: 4, Kind: RelocationDirectCall, SymbolName: "helper", Addend: 0},
			{CodeOffset: 20, Kind: RelocationImportCall, SymbolName: "env.log", Addend: -4},
		},
		Unwind: []trap.UnwindEntry{
			{CodeOffset: 0, Op: trap.UnwindPushFrameRegs, Reg: 6, StackOffset: 16},
			{CodeOffset: 4, Op: trap.UnwindSaveReg, Reg: 3, StackOffset: -8},
		},
		Traps: []TrapEntry{
			{CodeOffset: 8, TrapCode: trap.CodeIntegerDivisionByZero, SourceLoc: 100},
			{CodeOffset: 24, TrapCode: trap.CodeHeapOutOfBounds, SourceLoc: 140},
		},
		TypeIDs: []types.TypeID{0, 1, 1, 2},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := sampleArtifact()
	encoded := Encode(a)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, a.TargetTriple, decoded.TargetTriple)
	require.Equal(t, a.ABITag, decoded.ABITag)
	require.Equal(t, a.Functions, decoded.Functions)
	require.Equal(t, a.Code, decoded.Code)
	require.Equal(t, a.Relocations, decoded.Relocations)
	require.Equal(t, a.Unwind, decoded.Unwind)
	require.Equal(t, a.Traps, decoded.Traps)
	require.Equal(t, a.TypeIDs, decoded.TypeIDs)

	reencoded := Encode(decoded)
	require.Equal(t, encoded, reencoded)
}

func TestEncodeDecodeRoundTripEmpty(t *testing.T) {
	a := &Artifact{}
	decoded, err := Decode(Encode(a))
	require.NoError(t, err)
	require.Equal(t, 0, len(decoded.Functions))
	require.Equal(t, 0, len(decoded.Relocations))
	require.Equal(t, 0, len(decoded.Unwind))
	require.Equal(t, 0, len(decoded.Traps))
	require.Equal(t, 0, len(decoded.TypeIDs))
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2, 3})
	require.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	a := sampleArtifact()
	encoded := Encode(a)
	_, err := Decode(encoded[:len(encoded)-10])
	require.Error(t, err)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	encoded := Encode(sampleArtifact())
	// Version is the 4 bytes immediately after the magic.
	bad := make([]byte, len(encoded))
	copy(bad, encoded)
	bad[4], bad[5], bad[6], bad[7] = 0xff, 0xff, 0xff, 0xff
	_, err := Decode(bad)
	require.Error(t, err)
}
