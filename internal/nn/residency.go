// Package nn holds the building blocks of the reference runtime's module
// tree: containers, full-precision layers and the device residency
// bookkeeping they share.
package nn

import (
	"fmt"

	"captiond/internal/runtime"
)

// Residency tracks where a leaf module's storage lives and keeps the
// accelerator's accounting in sync when it moves.
type Residency struct {
	acc    runtime.Accelerator
	device runtime.Device
	bytes  int64
}

// NewResidency starts on the host with no device bytes.
func NewResidency(acc runtime.Accelerator) Residency {
	return Residency{acc: acc, device: runtime.DeviceCPU}
}

func (r *Residency) Device() runtime.Device { return r.device }

// Move updates residency to dev with a footprint of n bytes. Device bytes
// are reserved before old ones are released so a failed move leaves the
// previous placement intact.
func (r *Residency) Move(dev runtime.Device, n int64) error {
	if dev == runtime.DeviceGPU {
		if r.acc == nil {
			return runtime.ErrNoAccelerator
		}
		if err := r.acc.Reserve(n); err != nil {
			return fmt.Errorf("move %d bytes to %s: %w", n, dev, err)
		}
	}
	if r.device == runtime.DeviceGPU && r.acc != nil {
		r.acc.Release(r.bytes)
	}
	r.device = dev
	r.bytes = n
	return nil
}

// Accelerator is the runtime the residency reserves against.
func (r *Residency) Accelerator() runtime.Accelerator { return r.acc }
