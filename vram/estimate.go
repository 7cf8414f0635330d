// Package vram implements the hardware-aware VRAM estimator (C1): a pure
// function that merges model metadata, on-disk config, and file-size
// fallbacks into a GiB requirement. It never touches the filesystem or the
// network itself — callers hand it whatever config/size they already read.
package vram

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Model is the subset of a model record the estimator needs.
type Model struct {
	Name                string
	ModelPath           string
	ExternalProviderID  *int64
	IsEmbeddingModel    bool
	ContextWindow       int
	TensorParallelSize  int
	RequestedPrecision  string // e.g. "int4", "int8", "fp16"; may be empty
}

// VisionConfig mirrors the subset of a vision_config block the estimator
// needs when a model carries a vision tower.
type VisionConfig struct {
	NumHiddenLayers int
	HiddenSize      int
	IntermediateSize int
	NumPatches      int
	PatchSize       int
	Complete        bool // false when vision_config is present but missing fields
}

// DiskConfig is the subset of a model's on-disk config.json the estimator
// consults. All fields are optional; zero values mean "absent".
type DiskConfig struct {
	NumParameters        float64 // raw value from num_parameters/n_params/total_params
	HiddenSize           int
	NumHiddenLayers      int
	TorchDtype           string
	NumLocalExperts      int
	NumExpertsPerTok     int
	MaxPositionEmbeddings int
	Vision               *VisionConfig
}

var (
	moeNamePattern   = regexp.MustCompile(`(?i)(\d+)B[_-](\d+)E`)
	expertsByPattern = regexp.MustCompile(`(?i)(\d+)x(\d+)B`)
	standardSizes    = []int{70, 34, 27, 22, 17, 13, 12, 11, 9, 8, 7, 3, 1}
)

func standardSizePattern() *regexp.Regexp {
	parts := make([]string, len(standardSizes))
	for i, s := range standardSizes {
		parts[i] = strconv.Itoa(s)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)B\b`)
}

// Estimate runs the pipeline described in spec §4.1. It returns (gib, true)
// on success, or (0, false) when the estimate cannot be determined —
// external models, embedding models, and models whose parameter count can't
// be resolved by any stage all return false.
func Estimate(m Model, cfg *DiskConfig, fileSizeBytes int64) (float64, bool) {
	if m.ExternalProviderID != nil || m.IsEmbeddingModel {
		return 0, false
	}

	totalParamsB, ok := resolveParamCountBillions(m, cfg, fileSizeBytes)
	if !ok {
		return 0, false
	}

	experts := 0
	expertsPerTok := 2
	if cfg != nil && cfg.NumLocalExperts > 1 {
		experts = cfg.NumLocalExperts
		if cfg.NumExpertsPerTok > 0 {
			expertsPerTok = cfg.NumExpertsPerTok
		}
	}
	isMoE := experts > 1

	activeParamsB := totalParamsB
	if isMoE {
		activeParamsB = (totalParamsB / float64(experts)) * float64(expertsPerTok)
	}

	bytesPerParam := precisionBytesPerParam(m.RequestedPrecision, diskDtype(cfg))

	var weightsGiB float64
	if isMoE {
		weightsGiB = totalParamsB * bytesPerParam * 0.7
	} else {
		weightsGiB = activeParamsB * bytesPerParam
	}

	kvGiB := 0.0
	if cfg != nil && cfg.HiddenSize > 0 && cfg.NumHiddenLayers > 0 {
		ctx := m.ContextWindow
		if ctx <= 0 {
			ctx = 4096
		}
		kvGiB = (2.0 * float64(cfg.NumHiddenLayers) * float64(cfg.HiddenSize) * float64(ctx) * 2.0) / math.Pow(2, 30)
	}

	visionGiB := 0.0
	if cfg != nil && cfg.Vision != nil {
		if cfg.Vision.Complete {
			v := cfg.Vision
			patches := float64(v.NumPatches)
			patch := float64(v.PatchSize)
			hidden := float64(v.HiddenSize)
			inter := float64(v.IntermediateSize)
			params := float64(v.NumHiddenLayers)*(4*hidden*hidden+2*hidden*inter) + (patches+1)*hidden + patch*patch*3*hidden
			visionGiB = (params * bytesPerParam) / math.Pow(2, 30)
		} else {
			visionGiB = 4.0
		}
	}

	overheadGiB := 0.5
	switch {
	case activeParamsB >= 30:
		overheadGiB += 2.0
	case activeParamsB >= 13:
		overheadGiB += 1.5
	case activeParamsB >= 7:
		overheadGiB += 1.0
	}
	if isMoE {
		overheadGiB += math.Min(1.0, float64(experts)*0.05)
	}

	totalGiB := weightsGiB + kvGiB + visionGiB + overheadGiB

	tp := m.TensorParallelSize
	if tp > 1 {
		sharded := (weightsGiB + overheadGiB) / float64(tp)
		totalGiB = sharded + kvGiB + visionGiB
	}

	totalGiB = math.Round(totalGiB*10) / 10
	if totalGiB < 1 {
		totalGiB = 1
	}
	return totalGiB, true
}

func diskDtype(cfg *DiskConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.TorchDtype
}

func resolveParamCountBillions(m Model, cfg *DiskConfig, fileSizeBytes int64) (float64, bool) {
	if cfg != nil && cfg.NumParameters > 0 {
		n := cfg.NumParameters
		if n > 1e6 {
			n = n / 1e9
		}
		return n, true
	}

	haystack := m.Name + " " + m.ModelPath
	if match := moeNamePattern.FindStringSubmatch(haystack); match != nil {
		total := atof(match[1])
		experts := atof(match[2])
		if total > 0 && experts > 0 {
			return total, true
		}
	}
	if match := expertsByPattern.FindStringSubmatch(haystack); match != nil {
		experts := atof(match[1])
		perExpert := atof(match[2])
		if experts > 0 && perExpert > 0 {
			return experts * perExpert, true
		}
	}
	if match := standardSizePattern().FindStringSubmatch(haystack); match != nil {
		if v := atof(match[1]); v > 0 {
			return v, true
		}
	}

	if fileSizeBytes > 0 {
		divisor := fileSizeQuantDivisor(m.RequestedPrecision)
		gib := float64(fileSizeBytes) / math.Pow(2, 30)
		// gib = paramsB * divisor  =>  paramsB = gib / divisor
		if divisor > 0 {
			return gib / divisor, true
		}
	}

	return 0, false
}

func fileSizeQuantDivisor(precision string) float64 {
	switch strings.ToLower(precision) {
	case "int4", "awq":
		return 0.55
	case "int8":
		return 1.1
	default:
		return 2.2
	}
}

func precisionBytesPerParam(requested, diskDtype string) float64 {
	p := strings.ToLower(requested)
	if p == "" {
		p = strings.ToLower(diskDtype)
	}
	switch p {
	case "int4", "awq":
		return 0.5
	case "int8", "fp8":
		return 1
	case "fp16", "bf16", "bfloat16":
		return 2
	default:
		return 2
	}
}

func atof(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}
