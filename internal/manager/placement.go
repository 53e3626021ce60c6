package manager

import (
	"fmt"

	"captiond/internal/runtime"
)

// PlacementReport lists non-fatal notes from placing the vision path.
type PlacementReport struct {
	Device runtime.Device
	DType  runtime.DType
	Notes  []string
}

// visionPlacement is the dtype policy for the vision tower, the projector
// and pixel inputs. Low-bit modes force float16 so the vision path never
// mixes bf16 activations into a float16 quantized backbone.
func visionPlacement(cfg ModelConfig, acc runtime.Accelerator) (runtime.Device, runtime.DType) {
	if cfg.Device != runtime.DeviceGPU || !acc.Available() {
		return runtime.DeviceCPU, runtime.Float32
	}
	if cfg.Quant == QuantBF16 && acc.SupportsBF16() {
		return runtime.DeviceGPU, runtime.BFloat16
	}
	return runtime.DeviceGPU, runtime.Float16
}

// pixelDType is the dtype for image inputs on the model's device.
func pixelDType(dev runtime.Device, acc runtime.Accelerator) runtime.DType {
	if dev != runtime.DeviceGPU {
		return runtime.Float32
	}
	if acc.SupportsBF16() {
		return runtime.BFloat16
	}
	return runtime.Float16
}

// place moves the vision tower and projector according to visionPlacement.
// Failures are collected as notes and never abort a load.
func (m *Manager) place(mdl runtime.Model, cfg ModelConfig) (rep PlacementReport) {
	rep.Device, rep.DType = visionPlacement(cfg, m.acc)
	defer func() {
		if r := recover(); r != nil {
			rep.Notes = append(rep.Notes, fmt.Sprintf("placement panicked: %v", r))
		}
	}()
	for _, sub := range []struct {
		name string
		mod  runtime.Module
	}{
		{"vision_tower", mdl.VisionTower()},
		{"multi_modal_projector", mdl.Projector()},
	} {
		if sub.mod == nil {
			rep.Notes = append(rep.Notes, sub.name+" not present")
			continue
		}
		if err := sub.mod.To(rep.Device, rep.DType); err != nil {
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s: %v", sub.name, err))
		}
	}
	return rep
}
