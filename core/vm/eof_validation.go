package vm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ParseEOF decodes raw bytes into a container and fully validates it for
// the given kind: header checks first, then every code section, then the
// cross-section checks, recursing into subcontainers. On success the
// returned container re-encodes to canonical bytes via MarshalBinary.
//
// Validation is a pure function of the input; the first failure in
// component order is authoritative and later stages do not run.
func ParseEOF(b []byte, kind ContainerKind) (*Container, error) {
	c := new(Container)
	if err := c.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if err := c.ValidateCode(kind); err != nil {
		return nil, err
	}
	return c, nil
}

type sectionResult struct {
	refs      []containerRef
	returning bool
	err       error
}

// ValidateCode validates the code of an already-decoded container. Code
// sections are independent up to the cross-section checks (they see only
// each other's declared signatures), so they are analyzed concurrently;
// the cross-section pass is the single synchronization point.
func (c *Container) ValidateCode(kind ContainerKind) error {
	results := make([]sectionResult, len(c.CodeSections))
	var g errgroup.Group
	for i := range c.CodeSections {
		i := i
		g.Go(func() error {
			results[i] = c.validateSection(i, kind)
			return results[i].err
		})
	}
	if g.Wait() != nil {
		// The group surfaces whichever section failed first in time; the
		// verdict must not depend on scheduling, so pick the lowest
		// failing section instead.
		for i := range results {
			if results[i].err != nil {
				return fmt.Errorf("section %d: %w", i, results[i].err)
			}
		}
	}
	return c.validateCallGraph(results)
}

func (c *Container) validateSection(section int, kind ContainerKind) sectionResult {
	a, err := analyzeCode(c.CodeSections[section], len(c.CodeSections), len(c.SubContainers), kind)
	if err != nil {
		return sectionResult{err: err}
	}
	peak, returning, err := validateStack(a, section, c.Types)
	if err != nil {
		return sectionResult{err: err}
	}
	if peak > maxStackHeightLimit {
		return sectionResult{err: fmt.Errorf("%w: computed %d", ErrTooLargeMaxStackHeight, peak)}
	}
	if peak != int(c.Types[section].MaxStackHeight) {
		return sectionResult{err: fmt.Errorf("%w: declared %d, computed %d", ErrInvalidMaxStackHeight, c.Types[section].MaxStackHeight, peak)}
	}
	return sectionResult{refs: a.containerRefs, returning: returning}
}

// validateCallGraph runs the checks that need every section's verdict:
// returning-status consistency and the subcontainer reference rules.
// Subcontainers are validated in the mode their references imply, so a
// container referenced both as initcode and as deploy target is rejected.
func (c *Container) validateCallGraph(results []sectionResult) error {
	for i, res := range results {
		if c.Types[i].Returning() && !res.returning {
			return fmt.Errorf("%w: section %d declares %d outputs but never returns", ErrInvalidNonReturningFlag, i, c.Types[i].Outputs)
		}
	}

	const (
		refInitcode = 1 << iota
		refDeploy
	)
	refs := make([]uint8, len(c.SubContainers))
	for _, res := range results {
		for _, ref := range res.refs {
			if ref.op == EOFCREATE {
				refs[ref.index] |= refInitcode
			} else {
				refs[ref.index] |= refDeploy
			}
		}
	}
	for i, ref := range refs {
		sub := c.SubContainers[i]
		switch ref {
		case 0:
			return fmt.Errorf("%w: subcontainer %d", ErrOrphanSubContainer, i)
		case refInitcode | refDeploy:
			return fmt.Errorf("%w: subcontainer %d", ErrAmbiguousContainer, i)
		case refInitcode:
			// Initcode runs as-is; there is no deploy step left that could
			// supply the missing data bytes.
			if len(sub.Data) != int(sub.DataSize) {
				return fmt.Errorf("%w: subcontainer %d declares %d data bytes, carries %d", ErrEOFCreateWithTruncatedContainer, i, sub.DataSize, len(sub.Data))
			}
			if err := sub.ValidateCode(InitcodeKind); err != nil {
				return fmt.Errorf("subcontainer %d: %w", i, err)
			}
		case refDeploy:
			if err := sub.ValidateCode(RuntimeKind); err != nil {
				return fmt.Errorf("subcontainer %d: %w", i, err)
			}
		}
	}
	return nil
}

// ValidateBatch validates many independent containers concurrently, at most
// workers at a time. Containers and verdicts come back in input order:
// a nil verdict means a valid container (its parsed form sits at the same
// index), anything else the rejection kind. The returned error is non-nil
// only when ctx is cancelled.
func ValidateBatch(ctx context.Context, inputs [][]byte, kind ContainerKind, workers int) ([]*Container, []error, error) {
	containers := make([]*Container, len(inputs))
	verdicts := make([]error, len(inputs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			containers[i], verdicts[i] = ParseEOF(inputs[i], kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return containers, verdicts, nil
}
