package caterva

import (
	"bytes"
	"fmt"
	"math"
)

// NDArray is an in-memory, row-major N-dimensional array of fixed width items
type NDArray struct {
	Shape []int
	Dtype Dtype
	Data  []byte
}

// NewNDArray allocates a zeroed array
func NewNDArray(dtype Dtype, shape []int) *NDArray {
	return &NDArray{
		Shape: cloneInts(shape),
		Dtype: dtype,
		Data:  make([]byte, prod(shape)*dtype.ItemSize()),
	}
}

// NewFloat32 wraps vals as a little-endian float32 array
func NewFloat32(shape []int, vals []float32) (*NDArray, error) {
	if len(vals) != prod(shape) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(vals), shape)
	}
	a := NewNDArray(Float32, shape)
	for i, v := range vals {
		Float32.Order().PutUint32(a.Data[i*4:], math.Float32bits(v))
	}
	return a, nil
}

// Len is the number of items
func (a *NDArray) Len() int { return prod(a.Shape) }

// Validate checks the data buffer matches shape and dtype
func (a *NDArray) Validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("%w: array has rank 0", ErrShapeMismatch)
	}
	if a.Dtype.ItemSize() < 1 {
		return fmt.Errorf("%w: invalid dtype %s", ErrShapeMismatch, a.Dtype)
	}
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative extent in %v", ErrShapeMismatch, a.Shape)
		}
	}
	if want := a.Len() * a.Dtype.ItemSize(); len(a.Data) != want {
		return fmt.Errorf("%w: %d data bytes for shape %v of %s, expected %d",
			ErrShapeMismatch, len(a.Data), a.Shape, a.Dtype, want)
	}
	return nil
}

// Float32s decodes the items as float32. The dtype must be a 4-byte float
func (a *NDArray) Float32s() ([]float32, error) {
	if a.Dtype.BasicType != BTFloatingPoint || a.Dtype.ByteSize != 4 {
		return nil, fmt.Errorf("dtype %s is not a 4-byte float", a.Dtype)
	}
	order := a.Dtype.Order()
	vals := make([]float32, a.Len())
	for i := range vals {
		vals[i] = math.Float32frombits(order.Uint32(a.Data[i*4:]))
	}
	return vals, nil
}

// Float64s decodes float and integer items as float64
func (a *NDArray) Float64s() ([]float64, error) {
	order := a.Dtype.Order()
	n := a.Len()
	vals := make([]float64, n)
	size := a.Dtype.ByteSize
	for i := 0; i < n; i++ {
		b := a.Data[i*size : (i+1)*size]
		switch {
		case a.Dtype.BasicType == BTFloatingPoint && size == 4:
			vals[i] = float64(math.Float32frombits(order.Uint32(b)))
		case a.Dtype.BasicType == BTFloatingPoint && size == 8:
			vals[i] = math.Float64frombits(order.Uint64(b))
		case a.Dtype.BasicType == BTInteger && size == 4:
			vals[i] = float64(int32(order.Uint32(b)))
		case a.Dtype.BasicType == BTInteger && size == 8:
			vals[i] = float64(int64(order.Uint64(b)))
		case a.Dtype.BasicType == BTUnsigned && size == 4:
			vals[i] = float64(order.Uint32(b))
		case a.Dtype.BasicType == BTUnsigned && size == 8:
			vals[i] = float64(order.Uint64(b))
		case a.Dtype.BasicType == BTInteger && size == 2:
			vals[i] = float64(int16(order.Uint16(b)))
		case a.Dtype.BasicType == BTUnsigned && size == 2:
			vals[i] = float64(order.Uint16(b))
		case a.Dtype.BasicType == BTInteger && size == 1:
			vals[i] = float64(int8(b[0]))
		case a.Dtype.BasicType == BTUnsigned && size == 1:
			vals[i] = float64(b[0])
		default:
			return nil, fmt.Errorf("cannot convert dtype %s to float64", a.Dtype)
		}
	}
	return vals, nil
}

// Slab returns a copy of the cross-section at index i of the outermost axis
func (a *NDArray) Slab(i int) (*NDArray, error) {
	if len(a.Shape) < 2 {
		return nil, fmt.Errorf("%w: slab of a rank %d array", ErrShapeMismatch, len(a.Shape))
	}
	if i < 0 || i >= a.Shape[0] {
		return nil, fmt.Errorf("%w: slab %d of %d", ErrOutOfRange, i, a.Shape[0])
	}
	out := NewNDArray(a.Dtype, a.Shape[1:])
	n := len(out.Data)
	copy(out.Data, a.Data[i*n:(i+1)*n])
	return out, nil
}

// Equal reports whether two arrays have the same shape, dtype and bytes
func (a *NDArray) Equal(b *NDArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Dtype == b.Dtype && intsEqual(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}
