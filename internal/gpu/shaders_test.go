//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// TestShaderSources checks that each embedded shader declares what the
// dispatcher binds.
func TestShaderSources(t *testing.T) {
	tests := []struct {
		stage    Stage
		required []string
	}{
		{StagePrefixSum, []string{"@workgroup_size(1)", "prefix_sum", "counter[i] = 0u"}},
		{StageActiveIndex, []string{"@workgroup_size(256)", "workgroupBarrier", "atomicAdd(&num_indices[0]", "MODE_ACTIVE_FROM"}},
		{StageSortedIndex, []string{"@binding(5)", "atomicAdd(&key_prefix_sum[key]", "atomicAdd(&key_counter[key]"}},
		{StageSortBucket, []string{"var<workgroup> local_count", "partition_key_offsets[row + config.num_keys]"}},
		{StageSortWrite, []string{"var<workgroup> key_offset", "slot < config.limit"}},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			src := tt.stage.ShaderSource()
			if src == "" {
				t.Fatal("empty shader source")
			}
			if !strings.Contains(src, "@compute") || !strings.Contains(src, "fn main") {
				t.Error("shader has no compute entry point main")
			}
			for _, req := range tt.required {
				if !strings.Contains(src, req) {
					t.Errorf("shader missing %q", req)
				}
			}
			// Every binding of the layout appears in the shader.
			for _, e := range stageBindGroupLayoutEntries(tt.stage) {
				if !strings.Contains(src, "@binding("+string(rune('0'+e.Binding))+")") {
					t.Errorf("layout binding %d not declared in shader", e.Binding)
				}
			}
		})
	}
}

func TestShaderCompilation(t *testing.T) {
	for s := Stage(0); s < StageCount; s++ {
		t.Run(s.String(), func(t *testing.T) {
			spirv, err := CompileStage(s)
			if err != nil {
				errStr := err.Error()
				if strings.Contains(errStr, "not yet implemented") || strings.Contains(errStr, "not supported") {
					t.Skipf("Skipping: naga feature not yet implemented: %v", err)
				}
				if strings.Contains(errStr, "lowering error") || strings.Contains(errStr, "atomic") {
					t.Skipf("Skipping: naga atomic/lowering limitation: %v", err)
				}
				t.Fatalf("failed to compile %s: %v", s, err)
			}
			if len(spirv) < 4 {
				t.Fatal("SPIR-V too short")
			}
			if magic := binary.LittleEndian.Uint32(spirv); magic != 0x07230203 {
				t.Errorf("invalid SPIR-V magic: 0x%08X, want 0x07230203", magic)
			}
		})
	}
}

func TestConfigBytes(t *testing.T) {
	cfg := Config{
		NumStates:     1000,
		Mode:          ModeActiveFrom,
		Kernel:        9,
		Threshold:     17,
		NumKeys:       64,
		PartitionSize: 256,
		Limit:         900,
		NumPartitions: 4,
	}
	b := cfg.toBytes()
	if len(b) != configSize {
		t.Fatalf("config is %d bytes, want %d", len(b), configSize)
	}
	want := []uint32{1000, ModeActiveFrom, 9, 17, 64, 256, 900, 4}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(b[i*4:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}
}

func TestWorkgroupCount(t *testing.T) {
	cfg := Config{NumStates: 1000, NumPartitions: 3}
	tests := []struct {
		stage Stage
		want  uint32
	}{
		{StagePrefixSum, 1},
		{StageActiveIndex, 4},
		{StageSortedIndex, 4},
		{StageSortBucket, 3},
		{StageSortWrite, 3},
	}
	for _, tt := range tests {
		if got := cfg.WorkgroupCount(tt.stage); got != tt.want {
			t.Errorf("WorkgroupCount(%s) = %d, want %d", tt.stage, got, tt.want)
		}
	}
	if (Config{}).WorkgroupCount(StageActiveIndex) != 0 {
		t.Error("empty grid should dispatch no workgroups")
	}
}

func TestU32RoundTrip(t *testing.T) {
	in := []uint32{0, 1, 0xdeadbeef, 42}
	out := bytesU32(u32Bytes(in), len(in))
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("word %d: %x != %x", i, out[i], in[i])
		}
	}
}

// =============================================================================
// Dispatcher lifecycle on the noop HAL
// =============================================================================

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func TestIndexDispatcher_InitClose(t *testing.T) {
	device, queue := createNoopDevice(t)
	d := NewIndexDispatcher(device, queue)

	if _, err := d.ActiveIndex([]uint32{1, 0}, Config{Mode: ModeActive}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ActiveIndex before Init: err = %v, want ErrNotInitialized", err)
	}

	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	for s := Stage(0); s < StageCount; s++ {
		if d.pipelines[s] == nil {
			t.Errorf("no pipeline for %s", s)
		}
	}

	d.Close()
	for s := Stage(0); s < StageCount; s++ {
		if d.pipelines[s] != nil || d.shaderModules[s] != nil {
			t.Errorf("%s resources not released", s)
		}
	}
	if _, err := d.PrefixSum([]uint32{1}, []uint32{0}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PrefixSum after Close: err = %v", err)
	}
}

func TestIndexDispatcher_RejectsBadSortConfig(t *testing.T) {
	device, queue := createNoopDevice(t)
	d := NewIndexDispatcher(device, queue)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	q := []uint32{1, 1}
	if _, err := d.SortedIndexPartitioned(q, []uint32{0}, Config{NumKeys: 4, PartitionSize: 2, Limit: 2}); err == nil {
		t.Error("mismatched key count should fail")
	}
	if _, err := d.SortedIndexPartitioned(q, []uint32{0, 1}, Config{NumKeys: MaxKeys + 1, PartitionSize: 2, Limit: 2}); err == nil {
		t.Error("too many keys should fail")
	}
	if _, err := d.SortedIndexPartitioned(q, []uint32{0, 1}, Config{NumKeys: 4, Limit: 2}); err == nil {
		t.Error("zero partition size should fail")
	}
	if got, err := d.ActiveIndex(nil, Config{}); err != nil || got != nil {
		t.Errorf("empty ActiveIndex = %v, %v", got, err)
	}
}

func TestAccelerator_ClosedAndProvider(t *testing.T) {
	a := NewAccelerator()
	a.Close()
	a.Close()
	if _, err := a.Dispatcher(); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatcher after Close: err = %v, want ErrClosed", err)
	}
	if err := a.SetDeviceProvider(nil); err == nil {
		t.Error("nil provider should be rejected")
	}
}

func TestStageString(t *testing.T) {
	if StageSortWrite.String() != "sort_write" || Stage(99).String() != "Stage(99)" {
		t.Error("unexpected stage names")
	}
	if Stage(99).ShaderSource() != "" {
		t.Error("unknown stage should have no source")
	}
}
