package vm

import (
	"encoding/binary"
	"fmt"
)

// stackRange is the inclusive [min,max] bound on stack height provably
// reachable at one instruction, across all paths.
type stackRange struct {
	min, max int
	set      bool
}

func (r *stackRange) widen(o stackRange) {
	if o.min < r.min {
		r.min = o.min
	}
	if o.max > r.max {
		r.max = o.max
	}
}

// validateStack runs the forward data-flow analysis of one code section
// over an offset-indexed arena of stack ranges. Instructions are processed
// in address order, exactly once each: forward edges widen the range
// recorded at their target (which is always still unprocessed), while
// backward edges require the recorded range to match exactly, so a loop
// whose body does not net to zero can never converge and is rejected.
//
// Returns the highest stack height observed and whether the section
// contains a return site (RETF or JUMPF to a returning section).
func validateStack(a *codeAnalysis, section int, types []*FunctionType) (int, bool, error) {
	self := types[section]
	heights := make([]stackRange, len(a.instrs))
	heights[0] = stackRange{min: int(self.Inputs), max: int(self.Inputs), set: true}
	peak := int(self.Inputs)
	returning := false

	for i := range a.instrs {
		instr := &a.instrs[i]
		r := heights[i]
		if !r.set {
			// Reachable through the successor sets, but no stack height
			// ever flows here: only backward jumps lead in.
			return 0, false, fmt.Errorf("%w: pos %d", ErrUnreachableCode, instr.offset)
		}
		if r.max > peak {
			peak = r.max
		}

		pops := int(stackPops[instr.op])
		pushes := int(stackPushes[instr.op])
		switch instr.op {
		case CALLF:
			callee := types[binary.BigEndian.Uint16(a.code[instr.offset+1:])]
			if !callee.Returning() {
				return 0, false, fmt.Errorf("%w: pos %d", ErrCallfToNonReturning, instr.offset)
			}
			pops, pushes = int(callee.Inputs), int(callee.Outputs)
			if r.min < pops {
				return 0, false, fmt.Errorf("%w: CALLF at pos %d wants %d, have %d", ErrEOFStackUnderflow, instr.offset, pops, r.min)
			}
			if r.max+int(callee.MaxStackHeight)-pops > stackSizeLimit {
				return 0, false, fmt.Errorf("%w: CALLF at pos %d", ErrEOFStackOverflow, instr.offset)
			}
		case JUMPF:
			callee := types[binary.BigEndian.Uint16(a.code[instr.offset+1:])]
			if r.max+int(callee.MaxStackHeight)-int(callee.Inputs) > stackSizeLimit {
				return 0, false, fmt.Errorf("%w: JUMPF at pos %d", ErrEOFStackOverflow, instr.offset)
			}
			if callee.Returning() {
				// The callee returns on our caller's behalf, so our own
				// declared outputs must cover the callee's.
				if !self.Returning() {
					return 0, false, fmt.Errorf("%w: JUMPF to returning section from non-returning section %d", ErrInvalidNonReturningFlag, section)
				}
				if self.Outputs < callee.Outputs {
					return 0, false, fmt.Errorf("%w: JUMPF at pos %d, caller outputs %d, callee outputs %d", ErrJumpfIncompatibleOutputs, instr.offset, self.Outputs, callee.Outputs)
				}
				want := int(self.Outputs) + int(callee.Inputs) - int(callee.Outputs)
				if r.min < want {
					return 0, false, fmt.Errorf("%w: JUMPF at pos %d wants %d, have %d", ErrEOFStackUnderflow, instr.offset, want, r.min)
				}
				if r.max > want {
					return 0, false, fmt.Errorf("%w: JUMPF at pos %d wants %d, have up to %d", ErrStackHigherThanOutputs, instr.offset, want, r.max)
				}
				returning = true
			} else if r.min < int(callee.Inputs) {
				return 0, false, fmt.Errorf("%w: JUMPF at pos %d wants %d, have %d", ErrEOFStackUnderflow, instr.offset, callee.Inputs, r.min)
			}
		case RETF:
			if !self.Returning() {
				return 0, false, fmt.Errorf("%w: RETF in non-returning section %d", ErrInvalidNonReturningFlag, section)
			}
			out := int(self.Outputs)
			if r.min < out {
				return 0, false, fmt.Errorf("%w: RETF at pos %d wants %d, have %d", ErrEOFStackUnderflow, instr.offset, out, r.min)
			}
			if r.max > out {
				return 0, false, fmt.Errorf("%w: RETF at pos %d wants %d, have up to %d", ErrStackHigherThanOutputs, instr.offset, out, r.max)
			}
			returning = true
		case DUPN:
			n := int(a.code[instr.offset+1]) + 1
			pops, pushes = n, n+1
		case SWAPN:
			n := int(a.code[instr.offset+1]) + 2
			pops, pushes = n, n
		case EXCHANGE:
			imm := a.code[instr.offset+1]
			n, m := int(imm>>4)+1, int(imm&0x0f)+1
			pops, pushes = n+m+1, n+m+1
		}
		if r.min < pops {
			return 0, false, fmt.Errorf("%w: %v at pos %d wants %d, have %d", ErrEOFStackUnderflow, instr.op, instr.offset, pops, r.min)
		}

		next := stackRange{min: r.min - pops + pushes, max: r.max - pops + pushes, set: true}
		for _, s := range instr.succs {
			t := &heights[a.index[s]]
			if s > instr.offset {
				if !t.set {
					*t = next
				} else {
					t.widen(next)
				}
			} else if !t.set || t.min != next.min || t.max != next.max {
				return 0, false, fmt.Errorf("%w: %v at pos %d revisits pos %d with [%d,%d]", ErrStackHeightMismatch, instr.op, instr.offset, s, next.min, next.max)
			}
		}
	}
	return peak, returning, nil
}
