package codec

import "fmt"

// Pipeline applies an optional shuffle filter followed by a codec. Decoding
// runs the stages in reverse order
type Pipeline struct {
	shuffle *Shuffle
	codec   Codec
}

var _ Codec = (*Pipeline)(nil)

func (p *Pipeline) ID() string { return p.codec.ID() }

// Shuffled reports whether items are byte shuffled before compression
func (p *Pipeline) Shuffled() bool { return p.shuffle != nil }

func (p *Pipeline) Encode(src []byte) ([]byte, error) {
	if p.shuffle != nil {
		src = p.shuffle.Encode(src)
	}
	return p.codec.Encode(src)
}

func (p *Pipeline) Decode(src []byte, size int) ([]byte, error) {
	data, err := p.codec.Decode(src, size)
	if err != nil {
		return nil, fmt.Errorf("codec %s decode: %w", p.codec.ID(), err)
	}
	if p.shuffle != nil {
		data = p.shuffle.Decode(data)
	}
	return data, nil
}

// Shuffle rearranges bytes so that byte i of every item is stored together,
// which groups the slowly varying high bytes of numeric data
type Shuffle struct {
	elemSize int
}

// NewShuffle creates a shuffle filter for items of elemSize bytes
func NewShuffle(elemSize int) *Shuffle {
	if elemSize < 1 {
		elemSize = 1
	}
	return &Shuffle{elemSize: elemSize}
}

// Encode groups bytes by position: [all byte 0s][all byte 1s]...
// Trailing bytes that do not form a whole item are copied through
func (f *Shuffle) Encode(input []byte) []byte {
	numElems := len(input) / f.elemSize
	if f.elemSize <= 1 || numElems == 0 {
		return input
	}
	output := make([]byte, len(input))
	for i := 0; i < numElems; i++ {
		for j := 0; j < f.elemSize; j++ {
			output[j*numElems+i] = input[i*f.elemSize+j]
		}
	}
	tail := numElems * f.elemSize
	copy(output[tail:], input[tail:])
	return output
}

// Decode reverses Encode
func (f *Shuffle) Decode(input []byte) []byte {
	numElems := len(input) / f.elemSize
	if f.elemSize <= 1 || numElems == 0 {
		return input
	}
	output := make([]byte, len(input))
	for i := 0; i < numElems; i++ {
		for j := 0; j < f.elemSize; j++ {
			output[i*f.elemSize+j] = input[j*numElems+i]
		}
	}
	tail := numElems * f.elemSize
	copy(output[tail:], input[tail:])
	return output
}
