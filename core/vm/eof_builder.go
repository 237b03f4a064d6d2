package vm

import "fmt"

// ContainerBuilder assembles a container from a structural description:
// ordered code sections with their signatures, optional subcontainers and a
// data section. Build produces a validated Container together with its
// canonical encoding, so the builder path and the raw-bytes path can never
// disagree on what is valid.
type ContainerBuilder struct {
	types []*FunctionType
	codes [][]byte
	subs  []*Container
	data  []byte
	infer []bool
}

func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{}
}

// AddCodeSection appends a code section with a fully declared signature.
func (b *ContainerBuilder) AddCodeSection(code []byte, t *FunctionType) *ContainerBuilder {
	b.codes = append(b.codes, code)
	b.types = append(b.types, t)
	b.infer = append(b.infer, false)
	return b
}

// AddCode appends a code section declaring only its arity; the max stack
// height is inferred from the section's own analysis during Build. Use the
// nonReturning sentinel 0x80 as outputs for sections that never return.
func (b *ContainerBuilder) AddCode(code []byte, inputs, outputs uint8) *ContainerBuilder {
	b.codes = append(b.codes, code)
	b.types = append(b.types, &FunctionType{Inputs: inputs, Outputs: outputs})
	b.infer = append(b.infer, true)
	return b
}

func (b *ContainerBuilder) AddSubContainer(sub *Container) *ContainerBuilder {
	b.subs = append(b.subs, sub)
	return b
}

func (b *ContainerBuilder) SetData(data []byte) *ContainerBuilder {
	b.data = data
	return b
}

// Build assembles, validates and canonically encodes the container.
// Inference runs in section order against the signatures declared so far;
// anything it gets wrong is caught by the full validation of the encoded
// bytes, which is the same code path raw input takes.
func (b *ContainerBuilder) Build(kind ContainerKind) (*Container, []byte, error) {
	c := &Container{
		Types:         b.types,
		CodeSections:  b.codes,
		SubContainers: b.subs,
		Data:          b.data,
		DataSize:      uint16(len(b.data)),
	}
	for i, infer := range b.infer {
		if !infer {
			continue
		}
		a, err := analyzeCode(c.CodeSections[i], len(c.CodeSections), len(c.SubContainers), kind)
		if err != nil {
			return nil, nil, fmt.Errorf("section %d: %w", i, err)
		}
		peak, _, err := validateStack(a, i, c.Types)
		if err != nil {
			return nil, nil, fmt.Errorf("section %d: %w", i, err)
		}
		if peak > maxStackHeightLimit {
			return nil, nil, fmt.Errorf("section %d: %w: computed %d", i, ErrTooLargeMaxStackHeight, peak)
		}
		c.Types[i].MaxStackHeight = uint16(peak)
	}
	enc := c.MarshalBinary()
	parsed, err := ParseEOF(enc, kind)
	if err != nil {
		return nil, nil, err
	}
	return parsed, enc, nil
}
