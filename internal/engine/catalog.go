package engine

// ModelInfo describes a suggested model for a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ProviderInfo is the catalog entry shown to users choosing a provider.
type ProviderInfo struct {
	Provider       Provider    `json:"provider"`
	RequiresAPIKey bool        `json:"requires_api_key"`
	DefaultModel   string      `json:"default_model"`
	Help           string      `json:"help"`
	Models         []ModelInfo `json:"models"`
}

var catalog = map[Provider]ProviderInfo{
	Ollama: {
		Provider:     Ollama,
		DefaultModel: "gemma3:4b",
		Help:         "Select an Ollama model that you have pulled locally (no API key required)",
		Models: []ModelInfo{
			{ID: "gemma3:4b", Description: "Google Gemma 4B"},
			{ID: "deepseek-r1:latest", Description: "DeepSeek R1"},
			{ID: "deepcoder", Description: "DeepCoder"},
		},
	},
	Together: {
		Provider:       Together,
		RequiresAPIKey: true,
		DefaultModel:   "meta-llama/Llama-3-70B-Instruct",
		Help:           "Select a Together AI model (requires API key from together.ai)",
		Models: []ModelInfo{
			{ID: "meta-llama/Llama-3-70B-Instruct", Description: "Llama 3 (70B)"},
			{ID: "mistralai/Mixtral-8x7B-Instruct-v0.1", Description: "Mixtral 8x7B"},
			{ID: "togethercomputer/StripedHyena-Nous-7B", Description: "Striped Hyena 7B"},
		},
	},
}

// Catalog returns the entry for p and whether p is known.
func Catalog(p Provider) (ProviderInfo, bool) {
	info, ok := catalog[p]
	if !ok {
		return ProviderInfo{}, false
	}
	info.Models = append([]ModelInfo(nil), info.Models...)
	return info, true
}

// DefaultModel returns the suggested model for p, or "" for unknown providers.
func DefaultModel(p Provider) string {
	return catalog[p].DefaultModel
}
