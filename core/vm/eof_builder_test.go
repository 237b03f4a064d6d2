package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderMinimal(t *testing.T) {
	c, enc, err := NewContainerBuilder().
		AddCodeSection([]byte{byte(INVALID)}, nonRet(0)).
		Build(RuntimeKind)
	require.NoError(t, err)
	assert.Equal(t, hexToBytes(t, minimalContainerHex), enc)
	assert.Equal(t, enc, c.MarshalBinary())
}

func TestBuilderInfersMaxStackHeight(t *testing.T) {
	c, _, err := NewContainerBuilder().
		AddCode([]byte{byte(PUSH0), byte(PUSH0), byte(POP), byte(STOP)}, 0, nonReturningFunction).
		Build(RuntimeKind)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), c.Types[0].MaxStackHeight)
}

func TestBuilderFullContainer(t *testing.T) {
	sub, _, err := NewContainerBuilder().
		AddCode([]byte{byte(INVALID)}, 0, nonReturningFunction).
		Build(RuntimeKind)
	require.NoError(t, err)

	c, enc, err := NewContainerBuilder().
		AddCode([]byte{
			byte(PUSH0), byte(PUSH0), byte(PUSH0), byte(PUSH0),
			byte(EOFCREATE), 0x00,
			byte(POP),
			byte(CALLF), 0x00, 0x01,
			byte(POP), byte(STOP),
		}, 0, nonReturningFunction).
		AddCodeSection([]byte{byte(PUSH0), byte(RETF)}, &FunctionType{Outputs: 1, MaxStackHeight: 1}).
		AddSubContainer(sub).
		SetData([]byte{0xca, 0xfe}).
		Build(RuntimeKind)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), c.Types[0].MaxStackHeight)

	parsed, err := ParseEOF(enc, RuntimeKind)
	require.NoError(t, err)
	if diff := cmp.Diff(c, parsed, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("built and reparsed containers differ (-want +got):\n%s", diff)
	}
}

func TestBuilderRejectsInvalidCode(t *testing.T) {
	_, _, err := NewContainerBuilder().
		AddCode([]byte{byte(POP), byte(STOP)}, 0, nonReturningFunction).
		Build(RuntimeKind)
	require.ErrorIs(t, err, ErrEOFStackUnderflow)

	// A declared height that disagrees with the analysis is caught by the
	// validation of the encoded bytes.
	_, _, err = NewContainerBuilder().
		AddCodeSection([]byte{byte(PUSH0), byte(POP), byte(STOP)}, nonRet(7)).
		Build(RuntimeKind)
	require.ErrorIs(t, err, ErrInvalidMaxStackHeight)
}
