package runtime

import (
	"encoding/binary"
	"fmt"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a dense host-resident buffer tagged with the device it is
// logically placed on. Half-precision data is stored in its 2-byte encoding
// so that casting is lossy exactly the way the target format is.
type Tensor struct {
	shape  []int
	dtype  DType
	device Device

	f32  []float32
	half []byte
	i64  []int64
}

// FromFloat32 wraps data as a float32 host tensor. data is not copied.
func FromFloat32(shape []int, data []float32) *Tensor {
	return &Tensor{shape: append([]int(nil), shape...), dtype: Float32, device: DeviceCPU, f32: data}
}

// FromInt64 wraps data as an int64 host tensor. data is not copied.
func FromInt64(shape []int, data []int64) *Tensor {
	return &Tensor{shape: append([]int(nil), shape...), dtype: Int64, device: DeviceCPU, i64: data}
}

func (t *Tensor) Shape() []int   { return append([]int(nil), t.shape...) }
func (t *Tensor) DType() DType   { return t.dtype }
func (t *Tensor) Device() Device { return t.device }

// IsFloatingPoint mirrors torch.Tensor.is_floating_point.
func (t *Tensor) IsFloatingPoint() bool { return t.dtype.IsFloat() }

// Len is the number of elements.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// Bytes is the storage footprint of the tensor.
func (t *Tensor) Bytes() int64 { return int64(t.Len()) * int64(t.dtype.Size()) }

// Float32s decodes the tensor into a fresh float32 slice.
func (t *Tensor) Float32s() []float32 {
	switch t.dtype {
	case Float32:
		return append([]float32(nil), t.f32...)
	case Float16:
		out := make([]float32, len(t.half)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.half[2*i:])).Float32()
		}
		return out
	case BFloat16:
		return bfloat16.DecodeFloat32(t.half)
	case Int64:
		out := make([]float32, len(t.i64))
		for i, v := range t.i64 {
			out[i] = float32(v)
		}
		return out
	}
	return nil
}

// Int64s returns a copy of integer data. It is nil for floating tensors.
func (t *Tensor) Int64s() []int64 {
	if t.dtype != Int64 {
		return nil
	}
	return append([]int64(nil), t.i64...)
}

// To returns a tensor on dev with element type dt. Auto keeps the current
// dtype. Casting between integer and floating types is rejected.
func (t *Tensor) To(dev Device, dt DType) (*Tensor, error) {
	if dt == Auto {
		dt = t.dtype
	}
	if dt.IsFloat() != t.dtype.IsFloat() {
		return nil, fmt.Errorf("cannot cast %s tensor to %s", t.dtype, dt)
	}
	out := &Tensor{shape: append([]int(nil), t.shape...), dtype: dt, device: dev}
	if dt == Int64 {
		out.i64 = append([]int64(nil), t.i64...)
		return out, nil
	}
	if dt == t.dtype {
		out.f32 = append([]float32(nil), t.f32...)
		out.half = append([]byte(nil), t.half...)
		return out, nil
	}
	encodeInto(out, t.Float32s())
	return out, nil
}

func encodeInto(t *Tensor, vals []float32) {
	switch t.dtype {
	case Float32:
		t.f32 = vals
	case Float16:
		t.half = make([]byte, 2*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint16(t.half[2*i:], float16.Fromfloat32(v).Bits())
		}
	case BFloat16:
		t.half = bfloat16.EncodeFloat32(vals)
	}
}

// Round passes vals through dt's storage format in place, so arithmetic done
// in float32 sees the same values a native dt kernel would.
func Round(dt DType, vals []float32) {
	switch dt {
	case Float16:
		for i, v := range vals {
			vals[i] = float16.Fromfloat32(v).Float32()
		}
	case BFloat16:
		copy(vals, bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(vals)))
	}
}
