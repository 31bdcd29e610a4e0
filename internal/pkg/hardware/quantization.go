package hardware

// Tier 是模型量化级别。
type Tier string

// 量化级别，按精度从低到高。
const (
	TierQ2   Tier = "Q2"
	TierQ3   Tier = "Q3"
	TierQ4   Tier = "Q4"
	TierQ5   Tier = "Q5"
	TierQ8   Tier = "Q8"
	TierFP16 Tier = "FP16"
)

// DefaultEmbeddingModel 是与量化模型配套的嵌入模型。
const DefaultEmbeddingModel = "nomic-embed-text"

type tierSpec struct {
	tier     Tier
	minGB    float64
	modelTag string
	profile  Profile
}

// 按阈值降序排列，RecommendQuantization 取第一个满足的级别。
var tierSpecs = []tierSpec{
	{TierFP16, 28, "qwen2.5:14b", Profile{MemoryGB: 28, Speedup: "1x", Quality: "Maximum", UseCase: "Full precision (GPU recommended)"}},
	{TierQ8, 16, "qwen2.5:14b-instruct-q8_0", Profile{MemoryGB: 16, Speedup: "1x", Quality: "Very High", UseCase: "Production, maximum quality"}},
	{TierQ5, 12, "qwen2.5:14b-instruct-q5_K_M", Profile{MemoryGB: 12, Speedup: "1.2x", Quality: "High", UseCase: "Server, accuracy important"}},
	{TierQ4, 8, "qwen2.5:14b-instruct-q4_K_M", Profile{MemoryGB: 8, Speedup: "1.5x", Quality: "Good", UseCase: "Recommended default"}},
	{TierQ3, 5, "qwen2.5:7b-instruct-q3_K", Profile{MemoryGB: 5, Speedup: "2x", Quality: "Fair", UseCase: "Mobile, limited resources"}},
	{TierQ2, 0, "qwen2.5:7b-instruct-q2_K", Profile{MemoryGB: 3, Speedup: "2.5x", Quality: "Low", UseCase: "Lightweight, edge devices"}},
}

// Profile 描述某个量化级别的资源与质量特征。
type Profile struct {
	MemoryGB int    `json:"memory_gb"`
	Speedup  string `json:"speedup"`
	Quality  string `json:"quality"`
	UseCase  string `json:"use_case"`
}

// RecommendQuantization 根据可用内存（GB）推荐量化级别。
// 等于阈值时取该阈值对应的级别。
func RecommendQuantization(availableGB float64) Tier {
	for _, s := range tierSpecs {
		if availableGB >= s.minGB {
			return s.tier
		}
	}
	return TierQ2
}

func specFor(t Tier) tierSpec {
	for _, s := range tierSpecs {
		if s.tier == t {
			return s
		}
	}
	return specFor(TierQ4)
}

// ModelTag 返回量化级别对应的 Ollama 模型标签，未知级别按 Q4 处理。
func ModelTag(t Tier) string {
	return specFor(t).modelTag
}

// PerformanceProfile 返回量化级别的性能特征。
func PerformanceProfile(t Tier) Profile {
	return specFor(t).profile
}

// QuantizedModelConfig 返回量化级别对应的模型配置。
func QuantizedModelConfig(t Tier) map[string]string {
	return map[string]string{
		"LLM_MODEL":       ModelTag(t),
		"EMBEDDING_MODEL": DefaultEmbeddingModel,
	}
}

// AvailableMemoryGB 返回用于量化推荐的内存量：GPU 取显存总和，CPU 取 fallback。
func AvailableMemoryGB(info Info, fallback float64) float64 {
	if info.AcceleratorType != AcceleratorCPU {
		if total := info.TotalMemoryGB(); total > 0 {
			return float64(total)
		}
	}
	return fallback
}
