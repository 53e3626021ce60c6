package types

// PredictRequest is the JSON form of POST /predict. Multipart requests carry
// the same fields as form values plus an "image" file part.
type PredictRequest struct {
	// Path of an image on the server's filesystem. Used when no image file is uploaded.
	// example: ~/pictures/cat.png
	ImagePath string `json:"image_path,omitempty" example:"~/pictures/cat.png"`
	// Target device: gpu or cpu.
	// example: gpu
	Device string `json:"device,omitempty" example:"gpu"`
	// Quantization on gpu: int8, nf4 or bf16. Ignored on cpu.
	// example: int8
	Quant string `json:"quant,omitempty" example:"int8"`
	// Length of the shorter image side after resizing, clamped to [8, 8192].
	// example: 448
	ImageSide any `json:"image_side,omitempty" swaggertype:"integer" example:"448"`
	// Alias of image_side.
	Side any `json:"side,omitempty" swaggertype:"integer"`
	// Maximum new tokens, clamped to [1, 4096].
	// example: 512
	MaxTokens any `json:"max_tokens,omitempty" swaggertype:"integer" example:"512"`
	// Sampling temperature, clamped to [0, 2]. 0 disables temperature scaling.
	// example: 0.6
	Temperature any `json:"temperature,omitempty" swaggertype:"number" example:"0.6"`
	// Nucleus sampling probability, clamped to [0, 1].
	// example: 0.9
	TopP any `json:"top_p,omitempty" swaggertype:"number" example:"0.9"`
	// Instructions replacing the default captioning prompt.
	Prompt string `json:"prompt,omitempty"`
	// Write the caption next to image_path as a .txt file.
	// example: false
	WriteTxt any `json:"write_txt,omitempty" swaggertype:"boolean" example:"false"`
	// Sampling seed; 0 or omitted picks a fresh one.
	Seed any `json:"seed,omitempty" swaggertype:"integer"`
}

// PredictResponse is returned by a successful POST /predict.
type PredictResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// Generated caption.
	Text string `json:"text"`
	// Path of the written .txt sidecar, or null.
	TxtPath *string `json:"txt_path"`
	// Set when the caption was generated but the sidecar could not be written.
	Warn string `json:"warn,omitempty"`
	// Request identifier, echoed in logs.
	RequestID string `json:"request_id,omitempty"`
}

// LoadRequest is the JSON form of POST /load.
type LoadRequest struct {
	// example: gpu
	Device string `json:"device,omitempty" example:"gpu"`
	// example: int8
	Quant string `json:"quant,omitempty" example:"int8"`
}

// LoadResponse is returned by POST /load.
type LoadResponse struct {
	// ok or error.
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: ok
	Message string `json:"message" example:"ok"`
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Resident configuration as [device, quant], or null.
	Config []string `json:"config"`
	// Machine-readable failure code.
	Code string `json:"code,omitempty"`
}

// UnloadResponse is returned by POST /unload and POST /teardown.
type UnloadResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// example: Model + processor unloaded
	Message string `json:"message" example:"Model + processor unloaded"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: true
	Loaded bool `json:"loaded" example:"true"`
	// Resident configuration as [device, quant], or null.
	Config []string `json:"config"`
	// Precision used for activations of the resident model.
	// example: float16
	ComputeDType string `json:"compute_dtype,omitempty" example:"float16"`
	// Model artifact being served.
	ModelID string `json:"model_id,omitempty"`
	// Successful loads since start.
	LoadsTotal uint64 `json:"loads_total"`
	// Load requests answered by the resident model.
	CacheHitsTotal uint64 `json:"cache_hits_total"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 1700000000
	LoadedAtUnix int64 `json:"loaded_at_unix,omitempty" example:"1700000000"`
}

// GPUInfo describes one accelerator device.
type GPUInfo struct {
	// example: 0
	Index int `json:"index" example:"0"`
	// example: NVIDIA GeForce RTX 4090
	Name string `json:"name" example:"NVIDIA GeForce RTX 4090"`
	// example: 25757220864
	TotalBytes uint64 `json:"total_bytes" example:"25757220864"`
	FreeBytes  uint64 `json:"free_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	// example: 8.9
	ComputeCapability string `json:"compute_capability,omitempty" example:"8.9"`
}

// GPUStatusResponse is returned by GET /gpu.
type GPUStatusResponse struct {
	GPUs  []GPUInfo `json:"gpus"`
	Count int       `json:"count"`
	// Whether bfloat16 arithmetic is supported.
	BF16 bool `json:"bf16"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Machine-readable code.
	// example: BAD_IMAGE
	Code string `json:"code" example:"BAD_IMAGE"`
	// Error message.
	// example: unable to decode image
	Message string `json:"message" example:"unable to decode image"`
}

// LifecycleEvent is one model lifecycle event (load, unload, violation).
type LifecycleEvent struct {
	Name    string         `json:"name" example:"load_ready"`
	ModelID string         `json:"model_id"`
	Fields  map[string]any `json:"fields,omitempty"`
	// Milliseconds since the Unix epoch.
	AtUnixMs int64 `json:"at_unix_ms"`
}

// EventsResponse is returned by GET /events, oldest first.
type EventsResponse struct {
	Events []LifecycleEvent `json:"events"`
}
