// Package hardware 检测加速器并推荐模型量化级别。
//
// 所有探测都通过外部命令完成；命令缺失、超时或输出无法解析时一律降级为
// CPU，不会向调用方返回错误。
package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// AcceleratorType 是加速器类型。
type AcceleratorType string

// 加速器类型。
const (
	AcceleratorCUDA AcceleratorType = "cuda"
	AcceleratorROCm AcceleratorType = "rocm"
	AcceleratorCPU  AcceleratorType = "cpu"
)

// DefaultCommandTimeout 是单条探测命令的超时时间。
const DefaultCommandTimeout = 5 * time.Second

// Info 是硬件检测结果。
type Info struct {
	AcceleratorType   AcceleratorType `json:"accelerator_type"`
	DeviceCount       int             `json:"device_count"`
	MemoryPerDeviceGB []int           `json:"memory_per_device_gb"`
	DriverVersion     string          `json:"driver_version,omitempty"`
	Available         bool            `json:"available"`
	Error             string          `json:"error,omitempty"`
}

// TotalMemoryGB 返回所有设备显存之和。
func (i Info) TotalMemoryGB() int {
	total := 0
	for _, m := range i.MemoryPerDeviceGB {
		total += m
	}
	return total
}

// CPUInfo 返回 CPU 降级结果。
func CPUInfo() Info {
	return Info{AcceleratorType: AcceleratorCPU, MemoryPerDeviceGB: []int{}}
}

// CommandRunner 执行外部命令并返回标准输出。
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 使用 os/exec 执行命令。
type ExecRunner struct{}

// Run 实现 CommandRunner。
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Detector 检测一种平台的加速器。
// ok 为 false 表示该平台不可用；Detect 不应 panic。
type Detector interface {
	Name() AcceleratorType
	Detect(ctx context.Context) (Info, bool)
}

func runWithTimeout(ctx context.Context, r CommandRunner, timeout time.Duration, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := r.Run(cctx, name, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NvidiaDetector 使用 nvidia-smi 探测 CUDA 设备。
type NvidiaDetector struct {
	Runner  CommandRunner
	Timeout time.Duration
}

// Name 实现 Detector。
func (p *NvidiaDetector) Name() AcceleratorType { return AcceleratorCUDA }

// Detect 实现 Detector。
func (p *NvidiaDetector) Detect(ctx context.Context) (Info, bool) {
	r, timeout := runnerAndTimeout(p.Runner, p.Timeout)

	countOut, err := runWithTimeout(ctx, r, timeout, "nvidia-smi", "--query-gpu=count", "--format=csv,noheader")
	if err != nil {
		return Info{}, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(firstLine(countOut)))
	if err != nil || count <= 0 {
		return Info{}, false
	}

	info := Info{
		AcceleratorType:   AcceleratorCUDA,
		DeviceCount:       count,
		MemoryPerDeviceGB: []int{},
		Available:         true,
	}

	if memOut, err := runWithTimeout(ctx, r, timeout, "nvidia-smi", "--query-gpu=memory.total", "--format=csv,noheader,nounits"); err == nil {
		info.MemoryPerDeviceGB = parseNvidiaMemory(memOut)
	}
	if verOut, err := runWithTimeout(ctx, r, timeout, "nvidia-smi", "--query-gpu=driver_version", "--format=csv,noheader"); err == nil {
		info.DriverVersion = strings.TrimSpace(firstLine(verOut))
	}
	return info, true
}

// parseNvidiaMemory 将每行的 MiB 数值转换为 GB（整除 1024）。
func parseNvidiaMemory(out string) []int {
	mem := []int{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		mb, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		mem = append(mem, mb/1024)
	}
	return mem
}

// ROCmDetector 使用 rocm-smi 探测 AMD 设备。
type ROCmDetector struct {
	Runner  CommandRunner
	Timeout time.Duration
}

// Name 实现 Detector。
func (p *ROCmDetector) Name() AcceleratorType { return AcceleratorROCm }

// Detect 实现 Detector。
func (p *ROCmDetector) Detect(ctx context.Context) (Info, bool) {
	r, timeout := runnerAndTimeout(p.Runner, p.Timeout)

	nameOut, err := runWithTimeout(ctx, r, timeout, "rocm-smi", "--showproductname")
	if err != nil {
		return Info{}, false
	}

	count := 0
	for _, line := range strings.Split(nameOut, "\n") {
		if strings.Contains(line, "GPU") && strings.Contains(line, "gfx") {
			count++
		}
	}

	info := Info{
		AcceleratorType:   AcceleratorROCm,
		DeviceCount:       count,
		MemoryPerDeviceGB: []int{},
		Available:         true,
	}
	if memOut, err := runWithTimeout(ctx, r, timeout, "rocm-smi", "--showmeminfo", "vram"); err == nil {
		info.MemoryPerDeviceGB = parseROCmMemory(memOut)
	}
	if verOut, err := runWithTimeout(ctx, r, timeout, "rocm-smi", "--version"); err == nil {
		info.DriverVersion = strings.TrimSpace(verOut)
	}
	return info, true
}

// parseROCmMemory 解析 "VRAM Total" 行；倒数第二列为 MB 数值。
func parseROCmMemory(out string) []int {
	mem := []int{}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "VRAM Total") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		mb, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			continue
		}
		mem = append(mem, mb/1024)
	}
	return mem
}

func runnerAndTimeout(r CommandRunner, timeout time.Duration) (CommandRunner, time.Duration) {
	if r == nil {
		r = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return r, timeout
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
