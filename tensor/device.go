package tensor

import (
	"fmt"
	"runtime"
)

// Device describes where tensor operations run. Only the CPU backend is
// compiled in; "auto" resolves to it.
type Device struct {
	Name string
	Arch string
}

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
)

func SelectDevice(name string) (Device, error) {
	switch name {
	case "", DeviceAuto, DeviceCPU:
		return Device{Name: DeviceCPU, Arch: runtime.GOARCH}, nil
	default:
		return Device{}, fmt.Errorf("unsupported device %q", name)
	}
}

func (d Device) String() string {
	return d.Name + "/" + d.Arch
}
