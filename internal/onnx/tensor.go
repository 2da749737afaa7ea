package onnx

import (
	"fmt"
	"math"
	"slices"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a dense host-side tensor exchanged with graph runners.
type Tensor struct {
	dtype TensorDType
	shape []int64
	f32   []float32
	i64   []int64
}

func NewTensor[T float32 | int64](data []T, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{shape: slices.Clone(shape)}
	switch d := any(data).(type) {
	case []float32:
		t.dtype = DTypeFloat32
		t.f32 = slices.Clone(d)
	case []int64:
		t.dtype = DTypeInt64
		t.i64 = slices.Clone(d)
	}

	return t, nil
}

// Scalar returns a one-element tensor of shape [1].
func Scalar[T float32 | int64](v T) *Tensor {
	t, _ := NewTensor([]T{v}, []int64{1})
	return t
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return slices.Clone(t.shape)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	if t.dtype == DTypeInt64 {
		return len(t.i64)
	}

	return len(t.f32)
}

func (t *Tensor) Float32s() ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("expected float32 tensor, got nil")
	}
	if t.dtype != DTypeFloat32 {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}

	return slices.Clone(t.f32), nil
}

func (t *Tensor) Int64s() ([]int64, error) {
	if t == nil {
		return nil, fmt.Errorf("expected int64 tensor, got nil")
	}
	if t.dtype != DTypeInt64 {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.dtype)
	}

	return slices.Clone(t.i64), nil
}

// Output picks a named float32 output and returns its data and shape.
func Output(outputs map[string]*Tensor, name string) ([]float32, []int64, error) {
	t, ok := outputs[name]
	if !ok {
		return nil, nil, fmt.Errorf("graph output %q missing", name)
	}

	data, err := t.Float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("graph output %q: %w", name, err)
	}

	return data, t.Shape(), nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("shape[%d]=%d is negative", i, dim)
		}
		if dim > 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
