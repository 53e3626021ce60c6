// Package manager owns the resident captioning model. It is structured into
// small files by concern:
//
//   - manager.go: Manager type, constructor and simple getters.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: ModelConfig, LoadedState and the request/result values.
//   - errors.go: Error, its kinds and the IsX helpers.
//   - loader.go: load plans per (device, quant) and the provider call.
//   - placement.go: vision tower and projector dtype placement.
//   - consistency.go: strict NF4 check for quantized layers in the vision path.
//   - ensure.go: EnsureLoaded, the cache-or-reload state machine.
//   - unload.go: Unload and the full accelerator Teardown.
//   - infer.go, sampling.go, tokens.go: the inference path.
//   - events.go, metrics.go: lifecycle events and Prometheus counters.
//   - status_report.go: health, config and GPU reporting.
//
// One model configuration is resident at a time. EnsureLoaded, Unload,
// Teardown and Infer are serialised by a single operation lock, so a
// reload can never interleave with an inference on the old model.
package manager
