// Package hostinfo reports the host characteristics the Embedding Service
// surfaces alongside ingest_start/ingest_complete events: CPU count, memory,
// and whether a GPU device appears usable for inference.
package hostinfo

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

type HostInfo struct {
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	CPUs   int    `json:"cpus"`
	Memory Memory `json:"memory"`
	Device Device `json:"device"`
}

type Memory struct {
	Total uint64 `json:"total"`
}

// Device is the embedding inference device hint: "gpu" or "cpu".
type Device struct {
	Kind  string `json:"kind"`
	Model string `json:"model,omitempty"`
}

func GetHostInfo() (HostInfo, error) {
	hi := HostInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}

	if err := populateMemoryInfo(&hi); err != nil {
		return HostInfo{}, fmt.Errorf("failed to retrieve memory info: %w", err)
	}
	hi.Device = detectDevice()
	return hi, nil
}

func populateMemoryInfo(hi *HostInfo) error {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return err
	}
	hi.Memory = Memory{Total: vmStat.Total}
	return nil
}

// detectDevice probes for an accessible GPU without requiring any inference
// library; absence of a probe tool degrades silently to "cpu".
func detectDevice() Device {
	switch runtime.GOOS {
	case "darwin":
		if gpus, err := getMacOSGPUInfo(); err == nil && len(gpus) > 0 {
			return Device{Kind: "gpu", Model: gpus[0].Model}
		}
	default:
		if out, err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output(); err == nil {
			if name := strings.TrimSpace(strings.Split(string(out), "\n")[0]); name != "" {
				return Device{Kind: "gpu", Model: name}
			}
		}
	}
	return Device{Kind: "cpu"}
}

type gpuInfo struct {
	Model              string
	TotalNumberOfCores string
	MetalSupport       string
}

func getMacOSGPUInfo() ([]gpuInfo, error) {
	cmd := exec.Command("system_profiler", "SPDisplaysDataType")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseMacOSGPUInfo(out.String())
}

func parseMacOSGPUInfo(input string) ([]gpuInfo, error) {
	lines := strings.Split(input, "\n")
	var gpus []gpuInfo
	var current gpuInfo
	anyFieldSet := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "Chipset Model:"):
			if anyFieldSet {
				gpus = append(gpus, current)
				current = gpuInfo{}
				anyFieldSet = false
			}
			current.Model = strings.TrimSpace(strings.TrimPrefix(line, "Chipset Model:"))
			anyFieldSet = true
		case strings.HasPrefix(line, "Total Number of Cores:"):
			current.TotalNumberOfCores = strings.TrimSpace(strings.TrimPrefix(line, "Total Number of Cores:"))
			anyFieldSet = true
		case strings.HasPrefix(line, "Metal:"):
			current.MetalSupport = strings.TrimSpace(strings.TrimPrefix(line, "Metal:"))
			anyFieldSet = true
		}
	}
	if anyFieldSet || (current.Model == "" && current.TotalNumberOfCores == "" && current.MetalSupport == "" && len(lines) > 0) {
		gpus = append(gpus, current)
	}
	return gpus, nil
}
