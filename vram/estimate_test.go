package vram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateExternalModelReturnsNil(t *testing.T) {
	id := int64(5)
	m := Model{Name: "gpt-4o", ExternalProviderID: &id}
	_, ok := Estimate(m, nil, 0)
	require.False(t, ok)
}

func TestEstimateEmbeddingModelReturnsNil(t *testing.T) {
	m := Model{Name: "bge-small", IsEmbeddingModel: true}
	_, ok := Estimate(m, nil, 0)
	require.False(t, ok)
}

func TestEstimateLlama3_8B_bf16_ctx8192(t *testing.T) {
	m := Model{
		Name:               "Llama-3-8B",
		ModelPath:           "/data/models/llama3-8b/",
		ContextWindow:       8192,
		TensorParallelSize:  1,
	}
	cfg := &DiskConfig{
		HiddenSize:      4096,
		NumHiddenLayers: 32,
		TorchDtype:      "bfloat16",
	}
	gib, ok := Estimate(m, cfg, 0)
	require.True(t, ok)
	require.InDelta(t, 21.0, gib, 1.0)
}

func TestEstimateDeterministic(t *testing.T) {
	m := Model{Name: "Llama-3-8B", ContextWindow: 8192}
	cfg := &DiskConfig{HiddenSize: 4096, NumHiddenLayers: 32, TorchDtype: "bfloat16"}
	a, _ := Estimate(m, cfg, 0)
	b, _ := Estimate(m, cfg, 0)
	require.Equal(t, a, b)
}

func TestEstimateMissingKVConfigGivesZeroKV(t *testing.T) {
	m := Model{Name: "Llama-3-8B", ContextWindow: 8192}
	gib, ok := Estimate(m, nil, 0)
	require.True(t, ok)
	// weights only (8B * 2 bytes/param) + overhead, no KV term
	require.InDelta(t, 17.0, gib, 1.0)
}

func TestEstimateMoEFromNamePattern(t *testing.T) {
	m := Model{Name: "Mixtral-8x7B-Instruct"}
	gib, ok := Estimate(m, nil, 0)
	require.True(t, ok)
	require.Greater(t, gib, 1.0)
}

func TestEstimateFileSizeFallback(t *testing.T) {
	m := Model{Name: "custom-finetune", RequestedPrecision: "int8"}
	// 11 GiB file at int8 (1.1 GiB/B) => ~10B params => weights ~10GiB @ int8's 1 bytesPerParam
	gib, ok := Estimate(m, nil, 11*1024*1024*1024)
	require.True(t, ok)
	require.Greater(t, gib, 1.0)
}

func TestEstimateTensorParallelSharding(t *testing.T) {
	m1 := Model{Name: "Llama-3-70B", ContextWindow: 8192, TensorParallelSize: 1}
	m2 := Model{Name: "Llama-3-70B", ContextWindow: 8192, TensorParallelSize: 4}
	cfg := &DiskConfig{HiddenSize: 8192, NumHiddenLayers: 80, TorchDtype: "bfloat16"}
	single, _ := Estimate(m1, cfg, 0)
	sharded, _ := Estimate(m2, cfg, 0)
	require.Less(t, sharded, single)
}

func TestEstimateUnresolvableParamsReturnsNil(t *testing.T) {
	m := Model{Name: "mystery-model"}
	_, ok := Estimate(m, nil, 0)
	require.False(t, ok)
}
