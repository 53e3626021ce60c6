package accel

import "captiond/internal/runtime"

// Host is the accelerator used when no device is present. Device work fails
// with runtime.ErrNoAccelerator; cache operations are no-ops.
type Host struct{}

func (Host) Available() bool                 { return false }
func (Host) DeviceCount() int                { return 0 }
func (Host) Devices() []runtime.DeviceInfo   { return nil }
func (Host) SupportsBF16() bool              { return false }
func (Host) Reserve(int64) error             { return runtime.ErrNoAccelerator }
func (Host) Release(int64)                   {}
func (Host) EmptyCache() error               { return nil }
func (Host) IPCCollect() error               { return nil }
func (Host) Reset() error                    { return nil }
