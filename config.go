package rayworker

import (
	"fmt"

	"github.com/gordian-engine/rayworker/transport"
)

// Config is the worker's startup configuration, populated from CLI flags
// (SPEC_FULL.md §L) before Worker construction.
type Config struct {
	IP   string
	Port int

	StorageBackendURI string

	SendReliably bool
	MaxUDPRateMbps uint64

	SamplesPerPixel int

	RayLogRate     float64
	PacketLogRate  float64

	FinishedPolicy transport.FinishedPolicy

	CoordinatorAddr [2]string
}

// Validate mirrors lambda-worker.cpp's startup checks: rates must be
// probabilities, the storage URI must be set, and the UDP rate must be
// positive (spec.md §6).
func (c Config) Validate() error {
	if c.StorageBackendURI == "" {
		return fmt.Errorf("config: --storage-backend is required")
	}
	if c.MaxUDPRateMbps == 0 {
		return fmt.Errorf("config: --max-udp-rate must be nonzero")
	}
	if c.RayLogRate < 0 || c.RayLogRate > 1 {
		return fmt.Errorf("config: --log-rays must be within [0,1], got %v", c.RayLogRate)
	}
	if c.PacketLogRate < 0 || c.PacketLogRate > 1 {
		return fmt.Errorf("config: --log-packets must be within [0,1], got %v", c.PacketLogRate)
	}
	if c.SamplesPerPixel <= 0 {
		return fmt.Errorf("config: --samples must be positive, got %d", c.SamplesPerPixel)
	}
	return nil
}

// ParseFinishedPolicy maps the --finished-ray flag's integer encoding to a
// transport.FinishedPolicy, per spec.md §6.
func ParseFinishedPolicy(n int) (transport.FinishedPolicy, error) {
	switch n {
	case 0:
		return transport.Discard, nil
	case 1:
		return transport.SendBack, nil
	case 2:
		return transport.Upload, nil
	default:
		return 0, fmt.Errorf("config: --finished-ray must be 0, 1, or 2, got %d", n)
	}
}
