package model

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// BackendKind tags the compute backend available for inference.
type BackendKind string

const (
	// KindCPU means no accelerator was found. Per-frame generation latency
	// is typically an order of magnitude above the frame duration; live
	// conversation will stall into playback underflow.
	KindCPU BackendKind = "cpu"

	// KindCUDA means an NVIDIA GPU driver is present.
	KindCUDA BackendKind = "cuda"

	// KindMetal means Apple-silicon GPU acceleration is available.
	KindMetal BackendKind = "metal"
)

// Capability describes the compute backend detected at startup, with the
// expected per-frame generation latency so callers can warn about unusable
// configurations before a call starts rather than mid-conversation.
type Capability struct {
	Kind BackendKind

	// Detail is a human-readable description of the detected hardware.
	Detail string

	// ExpectedStepLatency is the rough per-frame generation latency on this
	// backend. Compare against the model's frame duration.
	ExpectedStepLatency time.Duration
}

// RealTime reports whether the backend is expected to keep up with a stream
// of frames of the given duration.
func (c Capability) RealTime(frame time.Duration) bool {
	return c.ExpectedStepLatency < frame
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	return fmt.Sprintf("%s (%s, ~%v/frame)", c.Kind, c.Detail, c.ExpectedStepLatency)
}

// Expected per-frame latencies, calibrated against an 80 ms frame.
const (
	cpuStepLatency   = 800 * time.Millisecond
	cudaStepLatency  = 40 * time.Millisecond
	metalStepLatency = 60 * time.Millisecond
)

// DetectCapability probes the host once at startup for an inference
// accelerator. Detection is intentionally cheap: presence of the NVIDIA
// kernel driver for CUDA, Apple silicon for Metal, CPU otherwise.
func DetectCapability() Capability {
	if detail, ok := detectCUDA(); ok {
		return Capability{Kind: KindCUDA, Detail: detail, ExpectedStepLatency: cudaStepLatency}
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return Capability{Kind: KindMetal, Detail: "apple silicon", ExpectedStepLatency: metalStepLatency}
	}
	return Capability{
		Kind:                KindCPU,
		Detail:              fmt.Sprintf("%s/%s %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
		ExpectedStepLatency: cpuStepLatency,
	}
}

func detectCUDA() (string, bool) {
	if v, err := os.ReadFile("/proc/driver/nvidia/version"); err == nil && len(v) > 0 {
		return "nvidia driver", true
	}
	if dev := os.Getenv("CUDA_VISIBLE_DEVICES"); dev != "" && dev != "-1" {
		return "CUDA_VISIBLE_DEVICES=" + dev, true
	}
	return "", false
}
