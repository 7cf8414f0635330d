package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/scalytics/core-orchestrator/launch"
	"github.com/scalytics/core-orchestrator/store"
	"github.com/scalytics/core-orchestrator/vram"
)

// rawModelConfig is the subset of a model's on-disk config.json this
// package reads, shared between the launch planner's merge (spec §4.5) and
// the VRAM estimator's config-driven stages (spec §4.1) so the file is
// parsed once per activation instead of twice.
type rawModelConfig struct {
	NumParameters         float64          `json:"num_parameters"`
	NParams               float64          `json:"n_params"`
	TotalParams           float64          `json:"total_params"`
	HiddenSize            int              `json:"hidden_size"`
	NumHiddenLayers       int              `json:"num_hidden_layers"`
	TorchDtype            string           `json:"torch_dtype"`
	NumLocalExperts       int              `json:"num_local_experts"`
	NumExpertsPerTok      int              `json:"num_experts_per_tok"`
	MaxPositionEmbeddings int              `json:"max_position_embeddings"`
	QuantizationConfig    *rawQuantConfig  `json:"quantization_config"`
	VisionConfig          *rawVisionConfig `json:"vision_config"`
}

type rawQuantConfig struct {
	QuantMethod string `json:"quant_method"`
}

type rawVisionConfig struct {
	NumHiddenLayers  int `json:"num_hidden_layers"`
	HiddenSize       int `json:"hidden_size"`
	IntermediateSize int `json:"intermediate_size"`
	NumPatches       int `json:"num_patches"`
	PatchSize        int `json:"patch_size"`
}

// readDiskConfig reads <modelPath>/config.json, tolerating its absence
// (nil, nil — the launch planner and VRAM estimator both treat a missing
// on-disk config as "fall through to the next stage", per spec §4.1/§4.5).
func readDiskConfig(modelPath string) (*rawModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(modelPath, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg rawModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *rawModelConfig) toLaunchDiskConfig() *launch.DiskConfig {
	if c == nil {
		return nil
	}
	quant := ""
	if c.QuantizationConfig != nil {
		quant = c.QuantizationConfig.QuantMethod
	}
	return &launch.DiskConfig{TorchDtype: c.TorchDtype, Quantization: quant}
}

func (c *rawModelConfig) toVRAMDiskConfig() *vram.DiskConfig {
	if c == nil {
		return nil
	}
	numParams := c.NumParameters
	if numParams == 0 {
		numParams = c.NParams
	}
	if numParams == 0 {
		numParams = c.TotalParams
	}
	cfg := &vram.DiskConfig{
		NumParameters:         numParams,
		HiddenSize:            c.HiddenSize,
		NumHiddenLayers:       c.NumHiddenLayers,
		TorchDtype:            c.TorchDtype,
		NumLocalExperts:       c.NumLocalExperts,
		NumExpertsPerTok:      c.NumExpertsPerTok,
		MaxPositionEmbeddings: c.MaxPositionEmbeddings,
	}
	if c.VisionConfig != nil {
		v := c.VisionConfig
		complete := v.HiddenSize > 0 && v.NumHiddenLayers > 0 && v.IntermediateSize > 0 && v.NumPatches > 0 && v.PatchSize > 0
		cfg.Vision = &vram.VisionConfig{
			NumHiddenLayers:  v.NumHiddenLayers,
			HiddenSize:       v.HiddenSize,
			IntermediateSize: v.IntermediateSize,
			NumPatches:       v.NumPatches,
			PatchSize:        v.PatchSize,
			Complete:         complete,
		}
	}
	return cfg
}

// modelOverrides is the subset of a Model.Config JSON blob (spec §3) the
// launch planner merges ahead of family defaults (spec §4.5 step 2).
type modelOverrides struct {
	NGPULayers      int    `json:"n_gpu_layers"`
	NBatch          int    `json:"n_batch"`
	MaxNumSeqs      int    `json:"max_num_seqs"`
	ModelPrecision  string `json:"model_precision"`
	TrustRemoteCode bool   `json:"trust_remote_code"`
}

// parseOverrides parses a model's opaque Config blob into launch.Overrides,
// tolerating an empty or malformed blob (falls back to the zero value,
// i.e. "defer entirely to family defaults").
func parseOverrides(raw string) launch.Overrides {
	if raw == "" {
		return launch.Overrides{}
	}
	var o modelOverrides
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return launch.Overrides{}
	}
	return launch.Overrides{
		NGPULayers:         o.NGPULayers,
		NBatch:             o.NBatch,
		RequestedPrecision: o.ModelPrecision,
		MaxNumSeqs:         o.MaxNumSeqs,
		TrustRemoteCode:    o.TrustRemoteCode,
	}
}

// estimateVRAM runs the C1 estimator advisory step of spec §2's activation
// dataflow ("consults C1 (advisory)"). A nil/false result (unresolvable
// parameter count, external/embedding model) is not an activation error —
// it only means no estimate is surfaced on the debug stream.
func estimateVRAM(model store.Model, cfg *rawModelConfig) (float64, bool) {
	var fileSize int64
	if info, err := os.Stat(model.ModelPath); err == nil && !info.IsDir() {
		fileSize = info.Size()
	}
	overrides := parseOverrides(model.Config)
	vm := vram.Model{
		Name:               model.Name,
		ModelPath:          model.ModelPath,
		ExternalProviderID: model.ExternalProviderID,
		IsEmbeddingModel:   model.IsEmbeddingModel,
		ContextWindow:      model.ContextWindow,
		TensorParallelSize: model.TensorParallelSize,
		RequestedPrecision: overrides.RequestedPrecision,
	}
	return vram.Estimate(vm, cfg.toVRAMDiskConfig(), fileSize)
}
