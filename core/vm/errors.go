package vm

import "errors"

// EOF validation failures. A container is either wholly valid or rejected
// with exactly one of these sentinels; per-offset context is added by
// wrapping with %w, so errors.Is is the matching contract.
var (
	// Envelope (header and layout) failures.
	ErrIncompleteEOF            = errors.New("incomplete EOF")
	ErrInvalidMagic             = errors.New("invalid magic")
	ErrInvalidVersion           = errors.New("invalid version")
	ErrMissingTypeHeader        = errors.New("missing type header")
	ErrMissingCodeHeader        = errors.New("missing code header")
	ErrMissingDataSection       = errors.New("missing data section")
	ErrMissingTerminator        = errors.New("missing header terminator")
	ErrZeroSectionSize          = errors.New("zero section size")
	ErrInvalidTypeSize          = errors.New("invalid type section size")
	ErrInvalidSectionCount      = errors.New("invalid section count")
	ErrInvalidSectionsSize      = errors.New("invalid section bodies size")
	ErrTopLevelTruncated        = errors.New("toplevel container truncated")
	ErrTooManyCodeSections      = errors.New("too many code sections")
	ErrTooManyContainerSections = errors.New("too many container sections")
	ErrTooLargeByteCode         = errors.New("container size above limit")
	ErrTooManyInputs            = errors.New("invalid number of inputs")
	ErrTooManyOutputs           = errors.New("invalid number of outputs")
	ErrTooLargeMaxStackHeight   = errors.New("max stack height above limit")
	ErrInvalidFirstSectionType  = errors.New("invalid first section type")

	// Instruction decoding failures.
	ErrUndefinedInstruction    = errors.New("undefined instruction")
	ErrTruncatedImmediate      = errors.New("truncated immediate")
	ErrInvalidRJumpDestination = errors.New("relative jump destination not on instruction boundary")

	// Control flow failures.
	ErrInvalidCodeTermination = errors.New("code section does not end in terminating instruction")
	ErrUnreachableCode        = errors.New("unreachable instructions")

	// Stack analysis failures.
	ErrEOFStackUnderflow      = errors.New("stack underflow")
	ErrEOFStackOverflow       = errors.New("stack overflow")
	ErrStackHeightMismatch    = errors.New("stack height mismatch")
	ErrStackHigherThanOutputs = errors.New("stack higher than declared outputs")
	ErrInvalidMaxStackHeight  = errors.New("declared max stack height does not match computed")

	// Cross-section failures.
	ErrInvalidCodeSectionIndex         = errors.New("invalid code section index")
	ErrInvalidContainerIndex           = errors.New("invalid container section index")
	ErrCallfToNonReturning             = errors.New("CALLF into non-returning section")
	ErrJumpfIncompatibleOutputs        = errors.New("JUMPF destination outputs incompatible")
	ErrInvalidNonReturningFlag         = errors.New("declared returning status does not match body")
	ErrOrphanSubContainer              = errors.New("subcontainer not referenced")
	ErrAmbiguousContainer              = errors.New("subcontainer referenced as both initcode and deploy target")
	ErrIncompatibleContainer           = errors.New("instruction incompatible with container kind")
	ErrEOFCreateWithTruncatedContainer = errors.New("EOFCREATE with truncated subcontainer")
)
