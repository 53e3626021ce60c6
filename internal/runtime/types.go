package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// Device identifies where weights and tensors live.
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// DType is the element type of a tensor.
type DType uint8

const (
	// Auto keeps whatever dtype a tensor or module already has.
	Auto DType = iota
	Float32
	Float16
	BFloat16
	Int64
)

func (d DType) String() string {
	switch d {
	case Auto:
		return "auto"
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// IsFloat reports whether d is a floating-point type.
func (d DType) IsFloat() bool { return d == Float32 || d == Float16 || d == BFloat16 }

// Size returns the element size in bytes (0 for Auto).
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	case Int64:
		return 8
	default:
		return 0
	}
}

// ParseDType accepts the torch-style names used in artifact configs.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "float32", "fp32", "torch.float32":
		return Float32, nil
	case "float16", "fp16", "half", "torch.float16":
		return Float16, nil
	case "bfloat16", "bf16", "torch.bfloat16":
		return BFloat16, nil
	case "int64", "long":
		return Int64, nil
	}
	return Auto, fmt.Errorf("unknown dtype %q", s)
}

// Precision is the storage format of a module's weights.
type Precision uint8

const (
	PrecisionFull Precision = iota
	PrecisionInt8
	PrecisionNF4
)

func (p Precision) String() string {
	switch p {
	case PrecisionInt8:
		return "int8"
	case PrecisionNF4:
		return "nf4"
	default:
		return "full"
	}
}

// Quantized reports whether p is a low-bit storage format.
func (p Precision) Quantized() bool { return p != PrecisionFull }

var (
	// ErrOutOfMemory is returned when a device allocation cannot be satisfied.
	ErrOutOfMemory = errors.New("device out of memory")
	// ErrNoAccelerator is returned for device work when no accelerator is present.
	ErrNoAccelerator = errors.New("no accelerator available")
)
