package runtime

import (
	"context"
	"image"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Inputs are the named tensors produced by a Processor, e.g. input_ids,
// attention_mask and pixel_values.
type Inputs map[string]*Tensor

// Tokenizer decodes ids and exposes its configured special tokens.
type Tokenizer interface {
	Decode(ids []int64, skipSpecial bool) string
	BOSTokenID() (int64, bool)
	EOSTokenID() (int64, bool)
	PadTokenID() (int64, bool)
}

// Processor turns a conversation and an image into model inputs.
type Processor interface {
	ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) (string, error)
	Encode(text string, img image.Image) (Inputs, error)
	Tokenizer() Tokenizer
}

// GenerationConfig carries generation defaults loaded with a model. Token
// ids are loosely typed because artifact files store them as a number, a
// list of numbers or null.
type GenerationConfig struct {
	BOSTokenID   any `json:"bos_token_id,omitempty"`
	EOSTokenID   any `json:"eos_token_id,omitempty"`
	PadTokenID   any `json:"pad_token_id,omitempty"`
	MinNewTokens int `json:"min_new_tokens,omitempty"`
}

// GenerateOptions control a single generate call. Nil Temperature or TopP
// means the option is not passed.
type GenerateOptions struct {
	MaxNewTokens int
	DoSample     bool
	Temperature  *float64
	TopP         *float64
	UseCache     bool
	Seed         uint64
}

// Model is a loaded vision-language model.
type Model interface {
	Module
	// VisionTower is the vision encoder root, or nil if the model has none.
	VisionTower() Module
	// Projector is the cross-modal projector, or nil.
	Projector() Module
	GenerationConfig() *GenerationConfig
	// Generate returns the prompt ids followed by the generated ids.
	Generate(in Inputs, opts GenerateOptions) ([]int64, error)
}

// DeviceMap selects where a provider places weights at load time.
type DeviceMap string

const (
	// DeviceMapAuto places weights on the accelerator when one is present.
	DeviceMapAuto DeviceMap = "auto"
	// DeviceMapCPU pins every weight to host memory.
	DeviceMapCPU DeviceMap = "cpu"
)

// QuantConfig is the declarative configuration handed to a quantization
// backend.
type QuantConfig struct {
	LoadIn8bit     bool
	LoadIn4bit     bool
	QuantType      string
	ComputeDType   DType
	DoubleQuant    bool
	SkipModules    []string
	FP32CPUOffload bool
}

// Bits is the weight bit-width requested by the config (0 if none).
func (q QuantConfig) Bits() int {
	switch {
	case q.LoadIn4bit:
		return 4
	case q.LoadIn8bit:
		return 8
	}
	return 0
}

// LoadOptions are passed to Provider.LoadModel.
type LoadOptions struct {
	CacheDir     string
	DType        DType
	DeviceMap    DeviceMap
	Quantization *QuantConfig
}

// Provider loads processors and models from a named artifact.
type Provider interface {
	LoadProcessor(ctx context.Context, source, cacheDir string) (Processor, error)
	LoadModel(ctx context.Context, source string, opts LoadOptions) (Model, error)
}

// DeviceInfo is a telemetry snapshot of one accelerator device.
type DeviceInfo struct {
	Index             int
	Name              string
	TotalBytes        uint64
	FreeBytes         uint64
	UsedBytes         uint64
	ComputeCapability string
}

// Accelerator is the device runtime: capability queries, memory
// reservation for resident weights, and cache release.
type Accelerator interface {
	Available() bool
	DeviceCount() int
	Devices() []DeviceInfo
	SupportsBF16() bool
	// Reserve claims n bytes of device memory or fails with ErrOutOfMemory.
	Reserve(n int64) error
	// Release returns n bytes to the allocator cache.
	Release(n int64)
	// EmptyCache hands cached, unused blocks back to the device.
	EmptyCache() error
	// IPCCollect frees memory held for inter-process handles.
	IPCCollect() error
	// Reset tears down the device context, including its fixed reservation.
	Reset() error
}
