package stt

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"
)

// ErrCPUNotSupported is returned on x86 CPUs without AVX, which whisper.cpp requires.
var ErrCPUNotSupported = errors.New("CPU does not support required instructions for speech-to-text")

// accelerator device nodes probed in order
var acceleratorNodes = []string{"/dev/nvidiactl", "/dev/nvidia0"}

type Device struct {
	Kind        string // cpu or gpu
	Description string
}

func (d Device) String() string {
	if d.Description == "" {
		return d.Kind
	}
	return d.Kind + " (" + d.Description + ")"
}

// SelectDevice resolves a device preference. "auto" prefers an accelerator
// when one is present and otherwise falls back to the CPU.
func SelectDevice(pref string) (Device, error) {
	switch strings.ToLower(pref) {
	case DeviceCPU:
		return cpuDevice(), nil
	case DeviceGPU:
		if d, ok := accelerator(); ok {
			return d, nil
		}
		return Device{}, errors.New("gpu requested but no accelerator found")
	case DeviceAuto, "":
		if d, ok := accelerator(); ok {
			return d, nil
		}
		return cpuDevice(), nil
	default:
		return Device{}, fmt.Errorf("unknown device %q (supported: auto, cpu, gpu)", pref)
	}
}

func accelerator() (Device, bool) {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return Device{Kind: DeviceGPU, Description: "metal"}, true
	}
	for _, node := range acceleratorNodes {
		if _, err := os.Stat(node); err == nil {
			return Device{Kind: DeviceGPU, Description: "cuda"}, true
		}
	}
	return Device{}, false
}

func cpuDevice() Device {
	var feats []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX {
			feats = append(feats, "avx")
		}
		if cpu.X86.HasAVX2 {
			feats = append(feats, "avx2")
		}
		if cpu.X86.HasFMA {
			feats = append(feats, "fma")
		}
		if cpu.X86.HasAVX512F {
			feats = append(feats, "avx512f")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			feats = append(feats, "neon")
		}
	}
	desc := fmt.Sprintf("%s/%s, %d threads", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	if len(feats) > 0 {
		desc += ", " + strings.Join(feats, ",")
	}
	return Device{Kind: DeviceCPU, Description: desc}
}

// checkCPUSupport verifies the instruction sets whisper.cpp is built against.
func checkCPUSupport() error {
	// ARM always has NEON
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "386" {
		return nil
	}
	if cpu.X86.HasAVX {
		return nil
	}
	return ErrCPUNotSupported
}
