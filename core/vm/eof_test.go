package vm

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexToBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// Minimal well-formed container: one type entry (0 inputs, non-returning,
// max height 0), one code section holding a single INVALID, empty data.
const minimalContainerHex = "ef000101000402000100010400000000800000fe"

func TestUnmarshalMinimalContainer(t *testing.T) {
	input := hexToBytes(t, minimalContainerHex)

	var c Container
	require.NoError(t, c.UnmarshalBinary(input))

	require.Len(t, c.Types, 1)
	assert.Equal(t, uint8(0), c.Types[0].Inputs)
	assert.Equal(t, nonReturningFunction, c.Types[0].Outputs)
	assert.Equal(t, uint16(0), c.Types[0].MaxStackHeight)
	assert.False(t, c.Types[0].Returning())
	require.Len(t, c.CodeSections, 1)
	assert.Equal(t, []byte{byte(INVALID)}, c.CodeSections[0])
	assert.Empty(t, c.SubContainers)
	assert.Empty(t, c.Data)
	assert.Equal(t, uint16(0), c.DataSize)

	assert.Equal(t, input, c.MarshalBinary())
}

func TestUnmarshalHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"short input", "ef", ErrInvalidMagic},
		{"invalid magic", "efff0101000402000100010400000000800000fe", ErrInvalidMagic},
		{"missing version", "ef00", ErrIncompleteEOF},
		{"invalid version", "ef000201000402000100010400000000800000fe", ErrInvalidVersion},
		{"header cut short", "ef000101", ErrIncompleteEOF},
		{"missing type header", "ef000102000402000100010400000000800000fe", ErrMissingTypeHeader},
		{"zero types size", "ef000101000002000100010400000000800000fe", ErrZeroSectionSize},
		{"types size not multiple of entry", "ef000101000602000100010400000000800000fe", ErrInvalidTypeSize},
		{"missing code header", "ef000101000404000100010400000000800000fe", ErrMissingCodeHeader},
		{"zero code sections", "ef00010100040200000400000000800000", ErrInvalidSectionCount},
		{"type count does not match code count", "ef000101000802000100010400000000800000fe", ErrInvalidTypeSize},
		{"zero code section size", "ef000101000402000100000400000000800000", ErrZeroSectionSize},
		{"missing data section", "ef0001010004020001000100000000800000fe", ErrMissingDataSection},
		{"missing terminator", "ef000101000402000100010400000100800000fe", ErrMissingTerminator},
		{"trailing bytes", "ef000101000402000100010400000000800000feaa", ErrInvalidSectionsSize},
		{"truncated code body", "ef000101000402000100020400000000800000fe", ErrInvalidSectionsSize},
		{"truncated toplevel data", "ef000101000402000100010400020000800000fe", ErrTopLevelTruncated},
		{"too many code sections", "ef000101100402000100010400000000800000fe", ErrTooManyCodeSections},
		{"zero container sections", "ef000101000402000100010300000400000000800000fe", ErrInvalidSectionCount},
		{"too many container sections", "ef0001010004020001000103010104000000" + "00800000fe", ErrTooManyContainerSections},
		{"too many inputs", "ef0001010004020001000104000000ff800000fe", ErrTooManyInputs},
		{"too many outputs", "ef000101000402000100010400000000f00000fe", ErrTooManyOutputs},
		{"max stack height above limit", "ef000101000402000100010400000000800400fe", ErrTooLargeMaxStackHeight},
		{"first section takes inputs", "ef000101000402000100010400000001800000fe", ErrInvalidFirstSectionType},
		{"first section returns", "ef000101000402000100010400000000000000fe", ErrInvalidFirstSectionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Container
			err := c.UnmarshalBinary(hexToBytes(t, tt.code))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnmarshalSizeLimit(t *testing.T) {
	oversized := make([]byte, maxContainerSize+1)
	copy(oversized, []byte{eofFormatByte, eofMagicByte, eofVersion1})

	var c Container
	require.ErrorIs(t, c.UnmarshalBinary(oversized), ErrTooLargeByteCode)

	// A bad magic outranks the size ceiling.
	oversized[1] = 0xff
	require.ErrorIs(t, c.UnmarshalBinary(oversized), ErrInvalidMagic)
}

// A bad magic must win over anything wrong deeper inside: rejection
// priority follows component order.
func TestRejectionPriority(t *testing.T) {
	// Bad magic and, were the magic fine, a truncated code body too.
	input := hexToBytes(t, "efff0101000402000100020400000000800000fe")
	var c Container
	require.ErrorIs(t, c.UnmarshalBinary(input), ErrInvalidMagic)
	_, err := ParseEOF(input, RuntimeKind)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestMarshalRoundTrip(t *testing.T) {
	sub := &Container{
		Types:        []*FunctionType{{Inputs: 0, Outputs: nonReturningFunction, MaxStackHeight: 0}},
		CodeSections: [][]byte{{byte(INVALID)}},
	}
	c := &Container{
		Types: []*FunctionType{
			{Inputs: 0, Outputs: nonReturningFunction, MaxStackHeight: 4},
		},
		CodeSections: [][]byte{{
			byte(PUSH0), byte(PUSH0), byte(PUSH0), byte(PUSH0),
			byte(EOFCREATE), 0x00,
			byte(POP), byte(STOP),
		}},
		SubContainers: []*Container{sub},
		Data:          []byte{0xde, 0xad, 0xbe, 0xef},
		DataSize:      4,
	}
	enc := c.MarshalBinary()
	assert.Equal(t, enc, c.MarshalBinary(), "encoding must be deterministic")

	var decoded Container
	require.NoError(t, decoded.UnmarshalBinary(enc))
	if diff := cmp.Diff(c, &decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("container changed across a marshal round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, enc, decoded.MarshalBinary())
}

// Nested containers destined for deployment may carry less data than they
// declare; the top level may not.
func TestNestedDataMayBeTruncated(t *testing.T) {
	sub := &Container{
		Types:        []*FunctionType{{Outputs: nonReturningFunction}},
		CodeSections: [][]byte{{byte(INVALID)}},
		DataSize:     2, // no data bytes present
	}
	parent := &Container{
		Types: []*FunctionType{{Outputs: nonReturningFunction, MaxStackHeight: 2}},
		CodeSections: [][]byte{{
			byte(PUSH0), byte(PUSH0), byte(RETURNCODE), 0x00,
		}},
		SubContainers: []*Container{sub},
	}
	enc := parent.MarshalBinary()

	var decoded Container
	require.NoError(t, decoded.UnmarshalBinary(enc))
	require.Len(t, decoded.SubContainers, 1)
	assert.Equal(t, uint16(2), decoded.SubContainers[0].DataSize)
	assert.Empty(t, decoded.SubContainers[0].Data)
	assert.Equal(t, enc, decoded.MarshalBinary())

	// The same truncation at the top level is rejected.
	var top Container
	require.ErrorIs(t, top.UnmarshalBinary(sub.MarshalBinary()), ErrTopLevelTruncated)
}

func TestCodeSectionsHex(t *testing.T) {
	c := &Container{
		CodeSections: [][]byte{{0x5f, 0x00}, {0xe4}},
	}
	assert.Equal(t, "5f00,e4", c.CodeSectionsHex())
}

func TestEncodedSizeMatches(t *testing.T) {
	var c Container
	require.NoError(t, c.UnmarshalBinary(hexToBytes(t, minimalContainerHex)))
	assert.Equal(t, len(c.MarshalBinary()), c.encodedSize())
	assert.True(t, bytes.Equal(c.MarshalBinary(), hexToBytes(t, minimalContainerHex)))
}
