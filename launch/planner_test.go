package launch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildLlama3ScenarioFromSpec(t *testing.T) {
	m := Model{
		Name:               "Llama-3-8B",
		ModelPath:          "/data/models/llama3-8b/",
		ContextWindow:      16384,
		TensorParallelSize: 1,
	}
	disk := &DiskConfig{TorchDtype: "bfloat16"}
	plan, err := Build(m, disk, Overrides{}, 8003, "/data/cache")
	require.NoError(t, err)

	joined := strings.Join(plan.Args, " ")
	require.Contains(t, joined, "--max-model-len 16384")
	require.Contains(t, joined, "--dtype bfloat16")
	require.Contains(t, joined, "--gpu-memory-utilization 0.8")
	require.Contains(t, joined, "--trust-remote-code")
	require.Contains(t, joined, "--max-num-batched-tokens 16384")
}

func TestBuildCapsMaxModelLenAtSingleGPU(t *testing.T) {
	m := Model{Name: "big", ModelPath: "/data/models/llama-huge/", ContextWindow: 200000, TensorParallelSize: 1}
	plan, err := Build(m, nil, Overrides{}, 8003, "/cache")
	require.NoError(t, err)
	require.Contains(t, strings.Join(plan.Args, " "), "--max-model-len 32768")
}

func TestBuildDisksQuantizationWinsOverRequestedPrecision(t *testing.T) {
	m := Model{Name: "q", ModelPath: "/data/models/deepseek-7b/", ContextWindow: 4096, TensorParallelSize: 1}
	disk := &DiskConfig{Quantization: "bitsandbytes"}
	plan, err := Build(m, disk, Overrides{RequestedPrecision: "fp16"}, 8003, "/cache")
	require.NoError(t, err)
	joined := strings.Join(plan.Args, " ")
	require.Contains(t, joined, "--quantization bitsandbytes")
	require.Contains(t, joined, "--dtype auto")
}

func TestBuildInt4FallsBackOnUnquantizedModel(t *testing.T) {
	m := Model{Name: "u", ModelPath: "/data/models/llama-plain/", ContextWindow: 4096, TensorParallelSize: 1}
	disk := &DiskConfig{TorchDtype: "float16"}
	plan, err := Build(m, disk, Overrides{RequestedPrecision: "int4"}, 8003, "/cache")
	require.NoError(t, err)
	require.Contains(t, strings.Join(plan.Args, " "), "--dtype float16")
}

func TestBuildDisablesCustomAllReduceAtTP4(t *testing.T) {
	m := Model{Name: "multi", ModelPath: "/data/models/llama-70b/", ContextWindow: 8192, TensorParallelSize: 4}
	plan, err := Build(m, nil, Overrides{}, 8003, "/cache")
	require.NoError(t, err)
	require.Contains(t, plan.Args, "--disable-custom-all-reduce")
}

func TestBuildDeterministicRoundTrip(t *testing.T) {
	m := Model{Name: "a", ModelPath: "/data/models/gemma-2b/", ContextWindow: 4096, TensorParallelSize: 1}
	p1, _ := Build(m, nil, Overrides{}, 8003, "/cache")
	p2, _ := Build(m, nil, Overrides{}, 8003, "/cache")
	require.Equal(t, p1.Args, p2.Args)
}

func TestBatchedTokenPolicyBuckets(t *testing.T) {
	require.Equal(t, 8192, batchedTokenPolicy(0, 4096))
	require.Equal(t, 16384, batchedTokenPolicy(0, 8192))
	require.Equal(t, 20000, batchedTokenPolicy(0, 20000))
	require.Equal(t, 65536, batchedTokenPolicy(0, 100000))
}

func TestBuildRejectsEmptyModelPath(t *testing.T) {
	_, err := Build(Model{Name: "x"}, nil, Overrides{}, 8003, "/cache")
	require.Error(t, err)
}
