package hardware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 按 "name args..." 返回预置输出。
type fakeRunner struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, key)
	out, ok := f.outputs[key]
	if !ok {
		return nil, errors.New("executable file not found")
	}
	return []byte(out), nil
}

func TestRecommendQuantization(t *testing.T) {
	tests := []struct {
		name string
		gb   float64
		want Tier
	}{
		{"零内存", 0, TierQ2},
		{"低于 Q3", 4.9, TierQ2},
		{"Q3 阈值", 5, TierQ3},
		{"Q3 与 Q4 之间", 7.99, TierQ3},
		{"Q4 阈值", 8, TierQ4},
		{"Q5 阈值", 12, TierQ5},
		{"Q8 阈值", 16, TierQ8},
		{"Q8 与 FP16 之间", 27, TierQ8},
		{"FP16 阈值", 28, TierFP16},
		{"大显存", 80, TierFP16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecommendQuantization(tt.gb))
		})
	}
}

func TestRecommendQuantization_Monotonic(t *testing.T) {
	rank := map[Tier]int{TierQ2: 0, TierQ3: 1, TierQ4: 2, TierQ5: 3, TierQ8: 4, TierFP16: 5}
	prev := -1
	for gb := 0.0; gb <= 40; gb += 0.5 {
		r := rank[RecommendQuantization(gb)]
		assert.GreaterOrEqual(t, r, prev, "gb=%v", gb)
		prev = r
	}
}

func TestModelTagAndProfile(t *testing.T) {
	assert.Equal(t, "qwen2.5:14b-instruct-q4_K_M", ModelTag(TierQ4))
	assert.Equal(t, "qwen2.5:14b", ModelTag(TierFP16))
	assert.Equal(t, "qwen2.5:14b-instruct-q4_K_M", ModelTag(Tier("bogus")))

	p := PerformanceProfile(TierQ2)
	assert.Equal(t, 3, p.MemoryGB)
	assert.Equal(t, "Lightweight, edge devices", p.UseCase)

	cfg := QuantizedModelConfig(TierQ8)
	assert.Equal(t, "qwen2.5:14b-instruct-q8_0", cfg["LLM_MODEL"])
	assert.Equal(t, DefaultEmbeddingModel, cfg["EMBEDDING_MODEL"])
}

func TestDetectHardware(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]string
		want    AcceleratorType
		devices int
		memory  []int
	}{
		{
			name:    "无任何工具时降级为 CPU",
			outputs: map[string]string{},
			want:    AcceleratorCPU,
			memory:  []int{},
		},
		{
			name: "NVIDIA 双卡",
			outputs: map[string]string{
				"nvidia-smi --query-gpu=count --format=csv,noheader":                "2\n2\n",
				"nvidia-smi --query-gpu=memory.total --format=csv,noheader,nounits": "24576\n16384\n",
				"nvidia-smi --query-gpu=driver_version --format=csv,noheader":       "550.54\n550.54\n",
			},
			want:    AcceleratorCUDA,
			devices: 2,
			memory:  []int{24, 16},
		},
		{
			name: "nvidia-smi 输出无法解析时尝试 ROCm",
			outputs: map[string]string{
				"nvidia-smi --query-gpu=count --format=csv,noheader": "garbage",
				"rocm-smi --showproductname":                         "GPU[0] : Card series: Radeon gfx1100\n",
				"rocm-smi --showmeminfo vram":                        "GPU[0] : VRAM Total Memory (B): 24560 MB\n",
			},
			want:    AcceleratorROCm,
			devices: 1,
			memory:  []int{23},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProfiler(&fakeRunner{outputs: tt.outputs})
			info := p.DetectHardware(context.Background())
			assert.Equal(t, tt.want, info.AcceleratorType)
			assert.Equal(t, tt.devices, info.DeviceCount)
			assert.Equal(t, tt.memory, info.MemoryPerDeviceGB)
		})
	}
}

type panicDetector struct{}

func (panicDetector) Name() AcceleratorType { return AcceleratorCUDA }
func (panicDetector) Detect(context.Context) (Info, bool) {
	panic("driver exploded")
}

func TestDetectHardware_PanicFallsBack(t *testing.T) {
	p := NewProfiler(nil, WithDetectors(panicDetector{}))
	info := p.DetectHardware(context.Background())
	assert.Equal(t, AcceleratorCPU, info.AcceleratorType)
	assert.False(t, info.Available)
	assert.Contains(t, info.Error, "driver exploded")
}

func TestEnvironmentFor(t *testing.T) {
	env := map[string]string{"LD_LIBRARY_PATH": "/lib", "OLLAMA_NUM_GPU": "2"}
	p := NewProfiler(nil, WithGetenv(func(k string) string { return env[k] }))

	cuda := p.EnvironmentFor(AcceleratorCUDA)
	assert.Equal(t, "0", cuda["CUDA_VISIBLE_DEVICES"])
	assert.Equal(t, "2", cuda["OLLAMA_NUM_GPU"])
	assert.Equal(t, "/usr/local/cuda/lib64:/lib", cuda["LD_LIBRARY_PATH"])

	rocm := p.EnvironmentFor(AcceleratorROCm)
	assert.Equal(t, "/opt/rocm", rocm["ROCM_HOME"])
	assert.Equal(t, "", rocm["HSA_OVERRIDE_GFX_VERSION"])

	assert.Equal(t, map[string]string{"OLLAMA_NUM_GPU": "0"}, p.EnvironmentFor(AcceleratorCPU))
}

func TestPerformanceMetrics(t *testing.T) {
	cpu := PerformanceMetrics(CPUInfo())
	assert.Equal(t, "CPU", cpu.Mode)
	assert.Equal(t, "~16GB", cpu.EstimatedMemory)

	gpu := PerformanceMetrics(Info{AcceleratorType: AcceleratorCUDA, MemoryPerDeviceGB: []int{24}})
	assert.Equal(t, "CUDA", gpu.Mode)
	assert.Equal(t, "~20GB", gpu.EstimatedMemory)

	small := PerformanceMetrics(Info{AcceleratorType: AcceleratorROCm, MemoryPerDeviceGB: []int{4}})
	assert.Equal(t, "~GPU memory", small.EstimatedMemory)
	assert.Equal(t, "1.5-2.5x", small.ExpectedSpeedup)
}

func TestAvailableMemoryGB(t *testing.T) {
	require.Equal(t, 16.0, AvailableMemoryGB(CPUInfo(), 16))
	require.Equal(t, 40.0, AvailableMemoryGB(Info{AcceleratorType: AcceleratorCUDA, MemoryPerDeviceGB: []int{24, 16}}, 8))
}
