package vm

import (
	"encoding/binary"
	"fmt"
)

// instruction is the decoded view of one opcode occurrence inside a code
// section. Successors are byte offsets into the same section; the slice is
// nil when execution cannot continue within the section (terminals).
type instruction struct {
	offset int
	op     OpCode
	size   int // 1 + immediate bytes
	succs  []int
}

// containerRef records one creation-style reference to a subcontainer.
type containerRef struct {
	op    OpCode // EOFCREATE or RETURNCODE
	index int
}

// codeAnalysis is the per-section control-flow graph. Instructions are held
// in an offset-ordered arena and cross-referenced by integer offset, never
// by pointer.
type codeAnalysis struct {
	code   []byte
	instrs []instruction

	// index maps byte offset to instruction index, -1 for immediate bytes.
	index []int32

	containerRefs []containerRef
}

func readInt16Be(data []byte) int16 {
	return int16(data[0])<<8 | int16(data[1])
}

// analyzeCode decodes one code section and builds its control-flow graph.
// Checks run in priority order: undefined opcodes and truncated immediates
// during the decoding walk, then the terminating-instruction rule, then
// relative-jump destinations, then reachability, then call and container
// index resolution against the declared section counts.
func analyzeCode(code []byte, numSections, numContainers int, kind ContainerKind) (*codeAnalysis, error) {
	a := &codeAnalysis{
		code:  code,
		index: make([]int32, len(code)),
	}
	for pos := 0; pos < len(code); {
		op := OpCode(code[pos])
		if undefined[op] {
			return nil, fmt.Errorf("%w: %#02x at pos %d", ErrUndefinedInstruction, byte(op), pos)
		}
		size := 1 + int(immediates[op])
		if op == RJUMPV {
			// The count byte comes first; max_index+1 two-byte offsets follow.
			if pos+1 >= len(code) {
				return nil, fmt.Errorf("%w: %v at pos %d", ErrTruncatedImmediate, op, pos)
			}
			size = 2 + relOffsetSize*(int(code[pos+1])+1)
		}
		if pos+size > len(code) {
			return nil, fmt.Errorf("%w: %v at pos %d", ErrTruncatedImmediate, op, pos)
		}
		idx := int32(len(a.instrs))
		a.index[pos] = idx
		for i := pos + 1; i < pos+size; i++ {
			a.index[i] = -1
		}
		a.instrs = append(a.instrs, instruction{offset: pos, op: op, size: size})
		pos += size
	}

	last := &a.instrs[len(a.instrs)-1]
	if !terminals[last.op] && last.op != RJUMP {
		return nil, fmt.Errorf("%w: ends with %v", ErrInvalidCodeTermination, last.op)
	}

	for i := range a.instrs {
		instr := &a.instrs[i]
		next := instr.offset + instr.size
		switch instr.op {
		case RJUMP:
			target, err := a.resolveRJumpTarget(instr, 0)
			if err != nil {
				return nil, err
			}
			instr.succs = []int{target}
		case RJUMPI:
			target, err := a.resolveRJumpTarget(instr, 0)
			if err != nil {
				return nil, err
			}
			instr.succs = []int{next, target}
		case RJUMPV:
			count := int(code[instr.offset+1]) + 1
			instr.succs = append(instr.succs, next)
			for j := 0; j < count; j++ {
				target, err := a.resolveRJumpTarget(instr, j)
				if err != nil {
					return nil, err
				}
				instr.succs = append(instr.succs, target)
			}
		default:
			if !terminals[instr.op] {
				instr.succs = []int{next}
			}
		}
	}

	if err := a.checkReachability(); err != nil {
		return nil, err
	}

	for i := range a.instrs {
		instr := &a.instrs[i]
		switch instr.op {
		case STOP, RETURN:
			if kind == InitcodeKind {
				return nil, fmt.Errorf("%w: %v in initcode container at pos %d", ErrIncompatibleContainer, instr.op, instr.offset)
			}
		case RETURNCODE:
			if kind == RuntimeKind {
				return nil, fmt.Errorf("%w: RETURNCODE in runtime container at pos %d", ErrIncompatibleContainer, instr.offset)
			}
		}
		switch instr.op {
		case CALLF, JUMPF:
			target := int(binary.BigEndian.Uint16(code[instr.offset+1:]))
			if target >= numSections {
				return nil, fmt.Errorf("%w: %v to section %d of %d at pos %d", ErrInvalidCodeSectionIndex, instr.op, target, numSections, instr.offset)
			}
		case EOFCREATE, RETURNCODE:
			target := int(code[instr.offset+1])
			if target >= numContainers {
				return nil, fmt.Errorf("%w: %v to subcontainer %d of %d at pos %d", ErrInvalidContainerIndex, instr.op, target, numContainers, instr.offset)
			}
			a.containerRefs = append(a.containerRefs, containerRef{op: instr.op, index: target})
		}
	}
	return a, nil
}

// resolveRJumpTarget reads the n-th relative offset of a jump instruction
// and resolves it against the end of the immediate, verifying the result
// lands on an instruction boundary inside the section.
func (a *codeAnalysis) resolveRJumpTarget(instr *instruction, n int) (int, error) {
	immPos := instr.offset + 1
	if instr.op == RJUMPV {
		immPos = instr.offset + 2 + relOffsetSize*n
	}
	rel := int(readInt16Be(a.code[immPos:]))
	target := instr.offset + instr.size + rel
	if target < 0 || target >= len(a.code) {
		return 0, fmt.Errorf("%w: %v at pos %d targets %d", ErrInvalidRJumpDestination, instr.op, instr.offset, target)
	}
	if a.index[target] < 0 {
		return 0, fmt.Errorf("%w: %v at pos %d targets immediate byte %d", ErrInvalidRJumpDestination, instr.op, instr.offset, target)
	}
	return target, nil
}

// checkReachability rejects instructions that are neither the section entry
// nor in any successor set. Code only reachable through such instructions
// is caught by the stack pass, which visits in the same order.
func (a *codeAnalysis) checkReachability() error {
	reached := make([]bool, len(a.instrs))
	reached[0] = true
	for i := range a.instrs {
		for _, s := range a.instrs[i].succs {
			reached[a.index[s]] = true
		}
	}
	for i, ok := range reached {
		if !ok {
			return fmt.Errorf("%w: pos %d", ErrUnreachableCode, a.instrs[i].offset)
		}
	}
	return nil
}
