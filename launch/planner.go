// Package launch implements the Config Merger & Launch Planner (C5): it
// composes the ordered subprocess argument list for the inference engine
// from on-disk config, database overrides, and hard-coded family defaults
// (spec §4.5/§6).
package launch

import (
	"fmt"
	"strconv"
	"strings"
)

// DiskConfig is the subset of <model_path>/config.json the planner reads.
type DiskConfig struct {
	TorchDtype    string
	Quantization  string // "" or "none" means absent
}

// Overrides is the database config blob (spec §3 Model.config).
type Overrides struct {
	NGPULayers        int
	NBatch            int
	RequestedPrecision string
	MaxNumSeqs        int
	TrustRemoteCode   bool
}

// Model is the subset of a model record the planner needs.
type Model struct {
	Name               string
	ModelPath          string
	ContextWindow      int
	TensorParallelSize int
}

// familyDefaults is the ordered list of hard-coded family matchers (spec
// §4.5): the model path is matched against each Substring in order, first
// match wins, and "default" never matches and is used as the fallback.
type familyDefaults struct {
	Substrings            []string // first-match-wins against the lowercased model path
	Dtype                 string
	Quantization          string // "" = none, may be "bitsandbytes"
	GPUMemoryUtilization  float64
	MaxModelLenCap        int
	MaxNumSeqs            int
	TrustRemoteCode       bool
	MaxNumBatchedTokens   int // 0 = unset, use batched-token policy
}

// families is matched in order against the model path (spec §4.5): llama and
// meta-llama share one entry since every meta-llama path also contains
// "llama" and the spec lists them as a single family.
var families = []familyDefaults{
	{Substrings: []string{"mistral3.1"}, Dtype: "bfloat16", GPUMemoryUtilization: 0.85, MaxModelLenCap: 32768, MaxNumSeqs: 256, TrustRemoteCode: false},
	{Substrings: []string{"mistral"}, Dtype: "bfloat16", GPUMemoryUtilization: 0.85, MaxModelLenCap: 32768, MaxNumSeqs: 256, TrustRemoteCode: false},
	{Substrings: []string{"llama", "meta-llama"}, Dtype: "bfloat16", GPUMemoryUtilization: 0.8, MaxModelLenCap: 32768, MaxNumSeqs: 256, TrustRemoteCode: true},
	{Substrings: []string{"gemma"}, Dtype: "bfloat16", GPUMemoryUtilization: 0.8, MaxModelLenCap: 8192, MaxNumSeqs: 128, TrustRemoteCode: false},
	{Substrings: []string{"deepseek"}, Dtype: "bfloat16", Quantization: "bitsandbytes", GPUMemoryUtilization: 0.9, MaxModelLenCap: 32768, MaxNumSeqs: 64, TrustRemoteCode: true},
	{Substrings: []string{"phi"}, Dtype: "bfloat16", GPUMemoryUtilization: 0.8, MaxModelLenCap: 16384, MaxNumSeqs: 128, TrustRemoteCode: true},
	{Substrings: []string{"default"}, Dtype: "auto", GPUMemoryUtilization: 0.8, MaxModelLenCap: 32768, MaxNumSeqs: 128, TrustRemoteCode: false},
}

func matchFamily(modelPath string) familyDefaults {
	lower := strings.ToLower(modelPath)
	for _, f := range families {
		if f.Substrings[0] == "default" {
			continue
		}
		for _, s := range f.Substrings {
			if strings.Contains(lower, s) {
				return f
			}
		}
	}
	return families[len(families)-1]
}

// Plan is the composed launch result: an ordered argv and an environment
// snapshot (spec §4.5/§6).
type Plan struct {
	Args []string
	Env  map[string]string
}

// Build composes the subprocess argument list for m (spec §4.5). port and
// downloadDir are server-level settings, not per-model overrides.
func Build(m Model, disk *DiskConfig, overrides Overrides, port int, downloadDir string) (Plan, error) {
	family := matchFamily(m.ModelPath)

	dtype := family.Dtype
	quantization := family.Quantization
	if disk != nil {
		if disk.TorchDtype != "" {
			dtype = disk.TorchDtype
		}
		if disk.Quantization != "" && disk.Quantization != "none" {
			quantization = disk.Quantization
			dtype = "auto"
		}
	}

	// Precision resolution (spec §4.5): the engine doesn't support
	// on-the-fly int4 for non-AWQ models. If the user requests int4 on an
	// unquantized model, fall back to the on-disk dtype instead.
	if overrides.RequestedPrecision == "int4" && quantization != "awq" && quantization != "bitsandbytes" {
		// fall back silently to on-disk dtype; already resolved above
	} else if overrides.RequestedPrecision != "" && quantization == "" {
		dtype = overrides.RequestedPrecision
	}

	maxModelLen := family.MaxModelLenCap
	if m.ContextWindow > 0 && m.ContextWindow < maxModelLen {
		maxModelLen = m.ContextWindow
	}
	// Single-GPU deployments are hard-capped at 32,768 regardless of
	// request (spec §4.5/§9 — not configurable).
	if m.TensorParallelSize <= 1 && maxModelLen > 32768 {
		maxModelLen = 32768
	}

	maxNumSeqs := family.MaxNumSeqs
	if overrides.MaxNumSeqs > 0 {
		maxNumSeqs = overrides.MaxNumSeqs
	}

	maxBatchedTokens := batchedTokenPolicy(family.MaxNumBatchedTokens, maxModelLen)

	trustRemoteCode := family.TrustRemoteCode || overrides.TrustRemoteCode

	args := []string{
		"--model", m.ModelPath,
		"--port", strconv.Itoa(port),
		"--tensor-parallel-size", strconv.Itoa(maxInt(m.TensorParallelSize, 1)),
		"--served-model-name", m.Name,
		"--gpu-memory-utilization", formatFloat(family.GPUMemoryUtilization),
		"--block-size", "16",
		"--swap-space", "4",
		"--download-dir", downloadDir,
		"--max-num-batched-tokens", strconv.Itoa(maxBatchedTokens),
	}
	if maxModelLen > 0 {
		args = append(args, "--max-model-len", strconv.Itoa(maxModelLen))
	}
	if quantization != "" {
		args = append(args, "--quantization", quantization)
	}
	if dtype != "" {
		args = append(args, "--dtype", dtype)
	}
	if trustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	if m.TensorParallelSize >= 4 {
		args = append(args, "--disable-custom-all-reduce")
	}
	args = append(args, "--enable-prefix-caching")
	args = append(args, "--max-num-seqs", strconv.Itoa(maxNumSeqs))
	args = append(args, "--max-num-prefill-tokens", strconv.Itoa(maxBatchedTokens))

	if m.ModelPath == "" {
		return Plan{}, fmt.Errorf("launch: model_path is empty for %q", m.Name)
	}

	return Plan{
		Args: args,
		Env:  map[string]string{},
	}, nil
}

// batchedTokenPolicy implements spec §4.5's "Batched-token policy": prefer
// a family override; else derive from context length.
func batchedTokenPolicy(familyOverride, ctx int) int {
	if familyOverride > 0 {
		return familyOverride
	}
	switch {
	case ctx <= 8192:
		return maxInt(8192, ctx*2)
	case ctx <= 32768:
		return ctx
	default:
		return minInt(65536, ctx)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
