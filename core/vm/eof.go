// Package vm implements the EOF (EVM Object Format) container codec and its
// static verifier. The verifier never executes bytecode; it decides whether
// a container is eligible to execute and, if so, exposes the canonical byte
// encoding.
package vm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	eofFormatByte byte = 0xef
	eofMagicByte  byte = 0x00
	eofVersion1   byte = 0x01

	kindTypes     byte = 0x01
	kindCode      byte = 0x02
	kindContainer byte = 0x03
	kindData      byte = 0x04

	typeEntrySize = 4

	// nonReturningFunction is the sentinel outputs value of a code section
	// that never returns to a caller.
	nonReturningFunction uint8 = 0x80

	maxInputItems        = 127
	maxOutputItems       = 127
	maxStackHeightLimit  = 1023
	stackSizeLimit       = 1024
	maxCodeSections      = 1024
	maxContainerSections = 256

	// maxContainerSize bounds every container, nested ones included.
	maxContainerSize = 0xc000
)

// ContainerKind tells the verifier how a container is going to be used.
// Initcode containers must end every path in RETURNCODE, REVERT or INVALID;
// runtime containers must not contain RETURNCODE.
type ContainerKind byte

const (
	RuntimeKind ContainerKind = iota
	InitcodeKind
)

func (k ContainerKind) String() string {
	if k == InitcodeKind {
		return "INITCODE"
	}
	return "RUNTIME"
}

// FunctionType is the declared signature of one code section: the stack
// items it expects on entry, the items it leaves for the caller (or the
// non-returning sentinel), and the highest stack height its body reaches.
type FunctionType struct {
	Inputs         uint8
	Outputs        uint8
	MaxStackHeight uint16
}

// Returning reports whether the section returns to its caller via RETF.
func (t *FunctionType) Returning() bool {
	return t.Outputs != nonReturningFunction
}

// Container is the in-memory form of one EOF container. It is built once,
// from raw bytes or from a ContainerBuilder, validated once, and only read
// afterwards. Subcontainers form a strict tree: each is owned by exactly
// one parent slot and is a fully valid container in its own right.
type Container struct {
	Types         []*FunctionType
	CodeSections  [][]byte
	SubContainers []*Container

	// Data carries the data section body. In a nested container destined
	// to be a deploy target the body may be shorter than DataSize, since
	// auxiliary data is appended at deploy time.
	Data     []byte
	DataSize uint16
}

// MarshalBinary encodes the container into its canonical byte form. Two
// calls on equal containers produce identical bytes.
func (c *Container) MarshalBinary() []byte {
	b := make([]byte, 0, c.encodedSize())
	b = append(b, eofFormatByte, eofMagicByte, eofVersion1)

	b = append(b, kindTypes)
	b = binary.BigEndian.AppendUint16(b, uint16(len(c.Types)*typeEntrySize))
	b = append(b, kindCode)
	b = binary.BigEndian.AppendUint16(b, uint16(len(c.CodeSections)))
	for _, code := range c.CodeSections {
		b = binary.BigEndian.AppendUint16(b, uint16(len(code)))
	}
	var subBodies [][]byte
	if len(c.SubContainers) > 0 {
		b = append(b, kindContainer)
		b = binary.BigEndian.AppendUint16(b, uint16(len(c.SubContainers)))
		for _, sub := range c.SubContainers {
			body := sub.MarshalBinary()
			subBodies = append(subBodies, body)
			b = binary.BigEndian.AppendUint16(b, uint16(len(body)))
		}
	}
	b = append(b, kindData)
	b = binary.BigEndian.AppendUint16(b, c.DataSize)
	b = append(b, 0x00)

	for _, t := range c.Types {
		b = append(b, t.Inputs, t.Outputs)
		b = binary.BigEndian.AppendUint16(b, t.MaxStackHeight)
	}
	for _, code := range c.CodeSections {
		b = append(b, code...)
	}
	for _, body := range subBodies {
		b = append(b, body...)
	}
	b = append(b, c.Data...)
	return b
}

func (c *Container) encodedSize() int {
	n := 3 + 3 + 3 + 2*len(c.CodeSections) + 3 + 1 + typeEntrySize*len(c.Types) + len(c.Data)
	for _, code := range c.CodeSections {
		n += len(code)
	}
	if len(c.SubContainers) > 0 {
		n += 3 + 2*len(c.SubContainers)
		for _, sub := range c.SubContainers {
			n += sub.encodedSize()
		}
	}
	return n
}

// UnmarshalBinary decodes a top-level container, performing every
// header-level check. It does not validate code; see ValidateCode and
// ParseEOF.
func (c *Container) UnmarshalBinary(b []byte) error {
	return c.unmarshalContainer(b, true)
}

func (c *Container) unmarshalContainer(b []byte, topLevel bool) error {
	if len(b) < 2 || b[0] != eofFormatByte || b[1] != eofMagicByte {
		return ErrInvalidMagic
	}
	if len(b) < 3 {
		return fmt.Errorf("%w: version byte missing", ErrIncompleteEOF)
	}
	if b[2] != eofVersion1 {
		return fmt.Errorf("%w: have %d", ErrInvalidVersion, b[2])
	}
	if len(b) > maxContainerSize {
		return fmt.Errorf("%w: size %d", ErrTooLargeByteCode, len(b))
	}

	kind, err := readByte(b, 3)
	if err != nil {
		return err
	}
	if kind != kindTypes {
		return fmt.Errorf("%w: found section kind %#02x instead", ErrMissingTypeHeader, kind)
	}
	typesSize, err := readUint16(b, 4)
	if err != nil {
		return err
	}
	if typesSize == 0 {
		return fmt.Errorf("%w: types", ErrZeroSectionSize)
	}
	if typesSize%typeEntrySize != 0 {
		return fmt.Errorf("%w: %d not a multiple of %d", ErrInvalidTypeSize, typesSize, typeEntrySize)
	}
	numTypes := int(typesSize) / typeEntrySize
	if numTypes > maxCodeSections {
		return fmt.Errorf("%w: %d types", ErrTooManyCodeSections, numTypes)
	}

	kind, err = readByte(b, 6)
	if err != nil {
		return err
	}
	if kind != kindCode {
		return fmt.Errorf("%w: found section kind %#02x instead", ErrMissingCodeHeader, kind)
	}
	numCode, err := readUint16(b, 7)
	if err != nil {
		return err
	}
	if numCode == 0 {
		return fmt.Errorf("%w: zero code sections", ErrInvalidSectionCount)
	}
	if int(numCode) > maxCodeSections {
		return fmt.Errorf("%w: %d code sections", ErrTooManyCodeSections, numCode)
	}
	if int(numCode) != numTypes {
		return fmt.Errorf("%w: types size %d, code sections %d", ErrInvalidTypeSize, typesSize, numCode)
	}
	pos := 9
	codeSizes := make([]uint16, numCode)
	for i := range codeSizes {
		size, err := readUint16(b, pos)
		if err != nil {
			return err
		}
		if size == 0 {
			return fmt.Errorf("%w: code section %d", ErrZeroSectionSize, i)
		}
		codeSizes[i] = size
		pos += 2
	}

	kind, err = readByte(b, pos)
	if err != nil {
		return err
	}
	var containerSizes []uint16
	if kind == kindContainer {
		numContainers, err := readUint16(b, pos+1)
		if err != nil {
			return err
		}
		if numContainers == 0 {
			return fmt.Errorf("%w: zero container sections", ErrInvalidSectionCount)
		}
		if int(numContainers) > maxContainerSections {
			return fmt.Errorf("%w: %d container sections", ErrTooManyContainerSections, numContainers)
		}
		pos += 3
		containerSizes = make([]uint16, numContainers)
		for i := range containerSizes {
			size, err := readUint16(b, pos)
			if err != nil {
				return err
			}
			if size == 0 {
				return fmt.Errorf("%w: container section %d", ErrZeroSectionSize, i)
			}
			containerSizes[i] = size
			pos += 2
		}
		if kind, err = readByte(b, pos); err != nil {
			return err
		}
	}
	if kind != kindData {
		return fmt.Errorf("%w: found section kind %#02x instead", ErrMissingDataSection, kind)
	}
	dataSize, err := readUint16(b, pos+1)
	if err != nil {
		return err
	}
	pos += 3

	terminator, err := readByte(b, pos)
	if err != nil {
		return err
	}
	if terminator != 0x00 {
		return fmt.Errorf("%w: found %#02x instead", ErrMissingTerminator, terminator)
	}
	pos++

	// Header parsed; the body must match the declared sizes exactly, with
	// the sole exception of a short data section in a nested container.
	expected := int(typesSize) + int(dataSize)
	for _, size := range codeSizes {
		expected += int(size)
	}
	for _, size := range containerSizes {
		expected += int(size)
	}
	got := len(b) - pos
	if got > expected {
		return fmt.Errorf("%w: have %d trailing bytes", ErrInvalidSectionsSize, got-expected)
	}
	if got < expected {
		if got < expected-int(dataSize) {
			return fmt.Errorf("%w: have %d, want %d", ErrInvalidSectionsSize, got, expected)
		}
		if topLevel {
			return fmt.Errorf("%w: data section %d of %d bytes", ErrTopLevelTruncated, got-(expected-int(dataSize)), dataSize)
		}
	}

	c.Types = make([]*FunctionType, 0, numTypes)
	for i := 0; i < numTypes; i++ {
		entry := b[pos+i*typeEntrySize:]
		t := &FunctionType{
			Inputs:         entry[0],
			Outputs:        entry[1],
			MaxStackHeight: binary.BigEndian.Uint16(entry[2:4]),
		}
		if t.Inputs > maxInputItems {
			return fmt.Errorf("%w: section %d has %d inputs", ErrTooManyInputs, i, t.Inputs)
		}
		if t.Outputs > maxOutputItems && t.Outputs != nonReturningFunction {
			return fmt.Errorf("%w: section %d has %d outputs", ErrTooManyOutputs, i, t.Outputs)
		}
		if t.MaxStackHeight > maxStackHeightLimit {
			return fmt.Errorf("%w: section %d declares %d", ErrTooLargeMaxStackHeight, i, t.MaxStackHeight)
		}
		c.Types = append(c.Types, t)
	}
	if c.Types[0].Inputs != 0 || c.Types[0].Outputs != nonReturningFunction {
		return fmt.Errorf("%w: have %d inputs, %d outputs", ErrInvalidFirstSectionType, c.Types[0].Inputs, c.Types[0].Outputs)
	}
	pos += int(typesSize)

	c.CodeSections = make([][]byte, numCode)
	for i, size := range codeSizes {
		c.CodeSections[i] = b[pos : pos+int(size)]
		pos += int(size)
	}

	c.SubContainers = nil
	for i, size := range containerSizes {
		sub := new(Container)
		if err := sub.unmarshalContainer(b[pos:pos+int(size)], false); err != nil {
			return fmt.Errorf("subcontainer %d: %w", i, err)
		}
		c.SubContainers = append(c.SubContainers, sub)
		pos += int(size)
	}

	c.Data = b[pos:]
	c.DataSize = dataSize
	return nil
}

// CodeSectionsHex returns the code section bodies as comma-joined hex, the
// form eofparse prints on accepted containers.
func (c *Container) CodeSectionsHex() string {
	sections := make([]string, len(c.CodeSections))
	for i, code := range c.CodeSections {
		sections[i] = hex.EncodeToString(code)
	}
	return strings.Join(sections, ",")
}

func readByte(b []byte, pos int) (byte, error) {
	if pos >= len(b) {
		return 0, fmt.Errorf("%w: header ends at %d", ErrIncompleteEOF, len(b))
	}
	return b[pos], nil
}

func readUint16(b []byte, pos int) (uint16, error) {
	if pos+2 > len(b) {
		return 0, fmt.Errorf("%w: header ends at %d", ErrIncompleteEOF, len(b))
	}
	return binary.BigEndian.Uint16(b[pos:]), nil
}
