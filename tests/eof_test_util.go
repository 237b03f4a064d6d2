package tests

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/erigontech/eofparse/core/vm"
)

// An EOFTest checks container validation against a fixture file: raw hex
// containers with per-fork expected verdicts, in the execution-spec-tests
// layout.
type EOFTest struct {
	json eofJSON
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (e *EOFTest) UnmarshalJSON(in []byte) error {
	return json.Unmarshal(in, &e.json)
}

type eofJSON struct {
	Vectors map[string]eofVector `json:"vectors"`
}

type eofVector struct {
	Code          string               `json:"code"`
	ContainerKind string               `json:"containerKind"`
	Results       map[string]eofResult `json:"results"`
}

type eofResult struct {
	Result    bool   `json:"result"`
	Exception string `json:"exception"`
}

// Fixture exceptions name rejection categories more coarsely than our
// sentinels do, so each maps to the set of errors it may legitimately
// surface as.
var errorsMap = map[string][]error{
	"EOFException.INVALID_MAGIC":                          {vm.ErrInvalidMagic, vm.ErrIncompleteEOF},
	"EOFException.INVALID_VERSION":                        {vm.ErrInvalidVersion},
	"EOFException.MISSING_TYPE_HEADER":                    {vm.ErrMissingTypeHeader},
	"EOFException.MISSING_CODE_HEADER":                    {vm.ErrMissingCodeHeader},
	"EOFException.MISSING_DATA_SECTION":                   {vm.ErrMissingDataSection},
	"EOFException.MISSING_TERMINATOR":                     {vm.ErrMissingTerminator},
	"EOFException.ZERO_SECTION_SIZE":                      {vm.ErrZeroSectionSize},
	"EOFException.INVALID_TYPE_SECTION_SIZE":              {vm.ErrInvalidTypeSize},
	"EOFException.INVALID_SECTION_BODIES_SIZE":            {vm.ErrInvalidSectionsSize, vm.ErrInvalidSectionCount},
	"EOFException.INVALID_FIRST_SECTION_TYPE":             {vm.ErrInvalidFirstSectionType},
	"EOFException.TOO_MANY_CODE_SECTIONS":                 {vm.ErrTooManyCodeSections},
	"EOFException.TOO_MANY_CONTAINERS":                    {vm.ErrTooManyContainerSections},
	"EOFException.INPUTS_OUTPUTS_NUM_ABOVE_LIMIT":         {vm.ErrTooManyInputs, vm.ErrTooManyOutputs},
	"EOFException.MAX_STACK_HEIGHT_ABOVE_LIMIT":           {vm.ErrTooLargeMaxStackHeight},
	"EOFException.CONTAINER_SIZE_ABOVE_LIMIT":             {vm.ErrTooLargeByteCode},
	"EOFException.TOPLEVEL_CONTAINER_TRUNCATED":           {vm.ErrTopLevelTruncated},
	"EOFException.UNDEFINED_INSTRUCTION":                  {vm.ErrUndefinedInstruction},
	"EOFException.TRUNCATED_INSTRUCTION":                  {vm.ErrTruncatedImmediate},
	"EOFException.INVALID_RJUMP_DESTINATION":              {vm.ErrInvalidRJumpDestination},
	"EOFException.MISSING_STOP_OPCODE":                    {vm.ErrInvalidCodeTermination},
	"EOFException.UNREACHABLE_INSTRUCTIONS":               {vm.ErrUnreachableCode},
	"EOFException.STACK_UNDERFLOW":                        {vm.ErrEOFStackUnderflow},
	"EOFException.STACK_OVERFLOW":                         {vm.ErrEOFStackOverflow},
	"EOFException.STACK_HEIGHT_MISMATCH":                  {vm.ErrStackHeightMismatch},
	"EOFException.STACK_HIGHER_THAN_OUTPUTS":              {vm.ErrStackHigherThanOutputs},
	"EOFException.INVALID_MAX_STACK_HEIGHT":               {vm.ErrInvalidMaxStackHeight},
	"EOFException.INVALID_CODE_SECTION_INDEX":             {vm.ErrInvalidCodeSectionIndex},
	"EOFException.INVALID_CONTAINER_SECTION_INDEX":        {vm.ErrInvalidContainerIndex},
	"EOFException.CALLF_TO_NON_RETURNING_FUNCTION":        {vm.ErrCallfToNonReturning},
	"EOFException.JUMPF_DESTINATION_INCOMPATIBLE_OUTPUTS": {vm.ErrJumpfIncompatibleOutputs},
	"EOFException.INVALID_NON_RETURNING_FLAG":             {vm.ErrInvalidNonReturningFlag},
	"EOFException.ORPHAN_SUBCONTAINER":                    {vm.ErrOrphanSubContainer},
	"EOFException.AMBIGUOUS_CONTAINER_KIND":               {vm.ErrAmbiguousContainer},
	"EOFException.INCOMPATIBLE_CONTAINER_KIND":            {vm.ErrIncompatibleContainer},
	"EOFException.EOFCREATE_WITH_TRUNCATED_CONTAINER":     {vm.ErrEOFCreateWithTruncatedContainer},
}

func mapError(exception string, err error) error {
	accepted, ok := errorsMap[exception]
	if !ok {
		return fmt.Errorf("exception %s is not mapped to any error", exception)
	}
	for _, want := range accepted {
		if errors.Is(err, want) {
			return nil
		}
	}
	return fmt.Errorf("expected %s, got: %w", exception, err)
}

// Run validates every vector in the fixture. Fixtures carry results per
// fork; EOF semantics are the same from Osaka on, so any present fork's
// verdict applies.
func (e *EOFTest) Run(t *testing.T) {
	names := make([]string, 0, len(e.json.Vectors))
	for name := range e.json.Vectors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vector := e.json.Vectors[name]
		t.Run(name, func(t *testing.T) {
			code, err := hex.DecodeString(strings.TrimPrefix(vector.Code, "0x"))
			if err != nil {
				t.Fatalf("error decoding hex string %s: %v", vector.Code, err)
			}
			kind := vm.RuntimeKind
			if vector.ContainerKind == "INITCODE" {
				kind = vm.InitcodeKind
			}
			var expected *eofResult
			for _, res := range vector.Results {
				expected = &res
				break
			}
			if expected == nil {
				t.Fatalf("vector has no results")
			}

			_, err = vm.ParseEOF(code, kind)
			switch {
			case expected.Result && err != nil:
				t.Errorf("expected a valid container, got: %v", err)
			case !expected.Result && err == nil:
				t.Errorf("expected %s, container passed validation", expected.Exception)
			case !expected.Result:
				if mapErr := mapError(expected.Exception, err); mapErr != nil {
					t.Error(mapErr)
				}
			}
		})
	}
}
