package hardware

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kart-io/logger"
)

// Profiler 按顺序执行探测器，返回第一个可用的加速器。
type Profiler struct {
	detectors []Detector
	getenv    func(string) string
}

// ProfilerOption 配置 Profiler。
type ProfilerOption func(*Profiler)

// WithDetectors 替换默认检测器列表。
func WithDetectors(detectors ...Detector) ProfilerOption {
	return func(p *Profiler) {
		p.detectors = detectors
	}
}

// WithGetenv 替换环境变量读取函数，测试时使用。
func WithGetenv(fn func(string) string) ProfilerOption {
	return func(p *Profiler) {
		p.getenv = fn
	}
}

// NewProfiler 创建 Profiler，默认先探测 NVIDIA 再探测 ROCm。
func NewProfiler(runner CommandRunner, opts ...ProfilerOption) *Profiler {
	p := &Profiler{
		detectors: []Detector{
			&NvidiaDetector{Runner: runner},
			&ROCmDetector{Runner: runner},
		},
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DetectHardware 检测加速器；任何失败都返回 CPU。
func (p *Profiler) DetectHardware(ctx context.Context) (info Info) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("hardware detection panicked, falling back to cpu", "panic", fmt.Sprint(r))
			info = CPUInfo()
			info.Error = fmt.Sprint(r)
		}
	}()

	for _, d := range p.detectors {
		if ctx.Err() != nil {
			break
		}
		if found, ok := d.Detect(ctx); ok {
			logger.Infow("accelerator detected",
				"type", string(found.AcceleratorType),
				"devices", found.DeviceCount,
				"memory_gb", found.TotalMemoryGB(),
			)
			return found
		}
		logger.Debugw("accelerator not available", "detector", string(d.Name()))
	}
	return CPUInfo()
}

// EnvironmentFor 返回运行推理服务所需的环境变量。
func (p *Profiler) EnvironmentFor(t AcceleratorType) map[string]string {
	switch t {
	case AcceleratorCUDA:
		return map[string]string{
			"CUDA_VISIBLE_DEVICES": p.envOr("CUDA_VISIBLE_DEVICES", "0"),
			"OLLAMA_NUM_GPU":       p.envOr("OLLAMA_NUM_GPU", "1"),
			"CUDA_HOME":            "/usr/local/cuda",
			"LD_LIBRARY_PATH":      "/usr/local/cuda/lib64:" + p.getenv("LD_LIBRARY_PATH"),
		}
	case AcceleratorROCm:
		return map[string]string{
			"ROCM_HOME":                "/opt/rocm",
			"LD_LIBRARY_PATH":          "/opt/rocm/lib:" + p.getenv("LD_LIBRARY_PATH"),
			"HSA_OVERRIDE_GFX_VERSION": p.getenv("HSA_OVERRIDE_GFX_VERSION"),
			"OLLAMA_NUM_GPU":           p.envOr("OLLAMA_NUM_GPU", "-1"),
		}
	default:
		return map[string]string{"OLLAMA_NUM_GPU": "0"}
	}
}

func (p *Profiler) envOr(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

// Performance 是加速器的预估性能。
type Performance struct {
	Mode              string `json:"mode"`
	ExpectedSpeedup   string `json:"expected_speedup"`
	EstimatedMemory   string `json:"estimated_memory"`
	InferenceTimeHint string `json:"inference_time"`
}

// PerformanceMetrics 根据检测结果返回预估性能。
func PerformanceMetrics(info Info) Performance {
	switch info.AcceleratorType {
	case AcceleratorCUDA, AcceleratorROCm:
		perf := Performance{
			Mode:            strings.ToUpper(string(info.AcceleratorType)),
			EstimatedMemory: "~GPU memory",
		}
		if total := info.TotalMemoryGB(); total > 4 {
			perf.EstimatedMemory = fmt.Sprintf("~%dGB", total-4)
		}
		if info.AcceleratorType == AcceleratorCUDA {
			perf.ExpectedSpeedup = "2-3x"
			perf.InferenceTimeHint = "1-3s"
		} else {
			perf.ExpectedSpeedup = "1.5-2.5x"
			perf.InferenceTimeHint = "2-5s"
		}
		return perf
	default:
		return Performance{
			Mode:              "CPU",
			ExpectedSpeedup:   "1x",
			EstimatedMemory:   "~16GB",
			InferenceTimeHint: "5-15s",
		}
	}
}
