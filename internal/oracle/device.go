package oracle

import (
	"fmt"

	"github.com/banshee-data/mvlm/internal/monitoring"
)

// Accelerators describes the inference hardware reported by the host. The
// pipeline never probes hardware; callers fill this in (or leave it zero).
type Accelerators struct {
	Count int
	// Capability is the compute capability as major*10+minor, e.g. 35.
	Capability int
}

// minCapability is the oldest accelerator generation the detectors run on.
const minCapability = 35

// Device is the compute context handed to the inference service.
type Device struct {
	// Name is "cpu" or "accelerated:0".
	Name string
	// IDs lists the accelerator ordinals to use; empty on CPU.
	IDs []int
}

// CPU is the device used when no accelerator is requested or usable.
var CPU = Device{Name: "cpu"}

// Accelerated reports whether the device uses accelerators.
func (d Device) Accelerated() bool { return len(d.IDs) > 0 }

// NegotiateDevice settles the compute context from the requested device and
// accelerator count. It falls back to CPU with a warning when nothing is
// available or the hardware is too old, and caps the count at what exists.
func NegotiateDevice(requested string, want int, have Accelerators) (Device, error) {
	switch requested {
	case "", "cpu":
		return CPU, nil
	case "accelerated":
	default:
		return Device{}, fmt.Errorf("unknown device %q", requested)
	}

	if want <= 0 {
		want = 1
	}
	if have.Count == 0 {
		monitoring.Warnf("no accelerator available on this machine, prediction will run on CPU")
		return CPU, nil
	}
	if want > have.Count {
		monitoring.Warnf("%d accelerators configured but only %d available", want, have.Count)
		want = have.Count
	}
	if have.Capability < minCapability {
		monitoring.Warnf("accelerator capability %d.%d is below the required %d.%d, using CPU",
			have.Capability/10, have.Capability%10, minCapability/10, minCapability%10)
		return CPU, nil
	}

	ids := make([]int, want)
	for i := range ids {
		ids[i] = i
	}
	return Device{Name: "accelerated:0", IDs: ids}, nil
}
