package vm

// Static metadata for the EOFv1 instruction set, kept as data rather than
// code so that adding an opcode is a table edit.
//
// immediates denotes how many immediate bytes an operation carries. The
// information is only needed during validation, not at runtime. RJUMPV is
// the one variable-sized operand: the table stores the minimum (count byte
// plus one jump offset); the real size is derived from the count byte.
var immediates [256]uint8

// terminals denotes whether an instruction may be the final one of a code
// section. RJUMP is not a terminal but is also allowed in final position,
// since it cannot fall through.
var terminals [256]bool

// stackPops/stackPushes give the operand stack effect of each defined
// opcode. CALLF, JUMPF, DUPN, SWAPN and EXCHANGE have effects that depend
// on their immediate or on the callee signature and are special-cased by
// the stack validator.
var stackPops [256]uint8
var stackPushes [256]uint8

// undefined marks opcode values that are rejected in EOF code. This covers
// both unassigned bytes and the legacy instructions deprecated by the
// container format (dynamic jumps, GAS, code introspection, legacy calls
// and creates, SELFDESTRUCT).
var undefined [256]bool

const (
	minRJumpVImmediate = 3 // count byte plus one relative offset

	relOffsetSize = 2
)

func init() {
	for i := range undefined {
		undefined[i] = true
	}
	def := func(op OpCode, pops, pushes uint8) {
		undefined[op] = false
		stackPops[op] = pops
		stackPushes[op] = pushes
	}

	def(STOP, 0, 0)
	def(ADD, 2, 1)
	def(MUL, 2, 1)
	def(SUB, 2, 1)
	def(DIV, 2, 1)
	def(SDIV, 2, 1)
	def(MOD, 2, 1)
	def(SMOD, 2, 1)
	def(ADDMOD, 3, 1)
	def(MULMOD, 3, 1)
	def(EXP, 2, 1)
	def(SIGNEXTEND, 2, 1)

	def(LT, 2, 1)
	def(GT, 2, 1)
	def(SLT, 2, 1)
	def(SGT, 2, 1)
	def(EQ, 2, 1)
	def(ISZERO, 1, 1)
	def(AND, 2, 1)
	def(OR, 2, 1)
	def(XOR, 2, 1)
	def(NOT, 1, 1)
	def(BYTE, 2, 1)
	def(SHL, 2, 1)
	def(SHR, 2, 1)
	def(SAR, 2, 1)

	def(KECCAK256, 2, 1)

	def(ADDRESS, 0, 1)
	def(BALANCE, 1, 1)
	def(ORIGIN, 0, 1)
	def(CALLER, 0, 1)
	def(CALLVALUE, 0, 1)
	def(CALLDATALOAD, 1, 1)
	def(CALLDATASIZE, 0, 1)
	def(CALLDATACOPY, 3, 0)
	def(GASPRICE, 0, 1)
	def(RETURNDATASIZE, 0, 1)
	def(RETURNDATACOPY, 3, 0)

	def(BLOCKHASH, 1, 1)
	def(COINBASE, 0, 1)
	def(TIMESTAMP, 0, 1)
	def(NUMBER, 0, 1)
	def(PREVRANDAO, 0, 1)
	def(GASLIMIT, 0, 1)
	def(CHAINID, 0, 1)
	def(SELFBALANCE, 0, 1)
	def(BASEFEE, 0, 1)
	def(BLOBHASH, 1, 1)
	def(BLOBBASEFEE, 0, 1)

	def(POP, 1, 0)
	def(MLOAD, 1, 1)
	def(MSTORE, 2, 0)
	def(MSTORE8, 2, 0)
	def(SLOAD, 1, 1)
	def(SSTORE, 2, 0)
	def(MSIZE, 0, 1)
	def(NOP, 0, 0)
	def(TLOAD, 1, 1)
	def(TSTORE, 2, 0)
	def(MCOPY, 3, 0)
	def(PUSH0, 0, 1)

	for i := uint8(1); i < 33; i++ {
		op := OpCode(uint8(PUSH0) + i)
		def(op, 0, 1)
		immediates[op] = i
	}
	for i := uint8(0); i < 16; i++ {
		// DUPn requires n items and pushes a copy of the n-th.
		def(DUP1+OpCode(i), i+1, i+2)
		// SWAPn requires n+1 items and leaves the depth unchanged.
		def(SWAP1+OpCode(i), i+2, i+2)
	}
	for i := uint8(0); i < 5; i++ {
		def(LOG0+OpCode(i), i+2, 0)
	}

	def(DATALOAD, 1, 1)
	def(DATALOADN, 0, 1)
	def(DATASIZE, 0, 1)
	def(DATACOPY, 3, 0)

	def(RJUMP, 0, 0)
	def(RJUMPI, 1, 0)
	def(RJUMPV, 1, 0)
	def(CALLF, 0, 0)   // actual effect comes from the callee signature
	def(RETF, 0, 0)    // checked against the section's declared outputs
	def(JUMPF, 0, 0)   // actual effect comes from the callee signature
	def(DUPN, 0, 0)    // actual effect comes from the immediate
	def(SWAPN, 0, 0)   // actual effect comes from the immediate
	def(EXCHANGE, 0, 0)

	def(EOFCREATE, 4, 1)
	def(RETURNCODE, 2, 0)

	def(RETURN, 2, 0)
	def(RETURNDATALOAD, 1, 1)
	def(EXTCALL, 4, 1)
	def(EXTDELEGATECALL, 3, 1)
	def(EXTSTATICCALL, 3, 1)
	def(REVERT, 2, 0)
	def(INVALID, 0, 0)

	immediates[DATALOADN] = 2
	immediates[RJUMP] = 2
	immediates[RJUMPI] = 2
	immediates[RJUMPV] = minRJumpVImmediate
	immediates[CALLF] = 2
	immediates[JUMPF] = 2
	immediates[DUPN] = 1
	immediates[SWAPN] = 1
	immediates[EXCHANGE] = 1
	immediates[EOFCREATE] = 1
	immediates[RETURNCODE] = 1

	terminals[STOP] = true
	terminals[RETF] = true
	terminals[JUMPF] = true
	terminals[RETURNCODE] = true
	terminals[RETURN] = true
	terminals[REVERT] = true
	terminals[INVALID] = true
}

// Immediates returns the number of immediate bytes (arguments taken from
// code rather than from the stack) a given opcode carries. For RJUMPV this
// is the minimum; the total size depends on the count byte that follows the
// opcode.
func Immediates(op OpCode) int {
	return int(immediates[op])
}
