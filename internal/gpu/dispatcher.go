//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// fenceTimeout bounds the wait for one index build.
const fenceTimeout = 5 * time.Second

// ErrNotInitialized is returned by dispatch methods before Init.
var ErrNotInitialized = errors.New("gpu: index dispatcher not initialized")

// IndexDispatcher owns the compute pipelines of the index-building stages
// and runs them on a HAL device.
//
// Thread safety: dispatch methods may be called concurrently; Init and Close
// take the write lock.
type IndexDispatcher struct {
	mu sync.RWMutex

	device hal.Device
	queue  hal.Queue

	pipelines       [StageCount]hal.ComputePipeline
	pipelineLayouts [StageCount]hal.PipelineLayout
	bgLayouts       [StageCount]hal.BindGroupLayout
	shaderModules   [StageCount]hal.ShaderModule

	initialized bool
}

// NewIndexDispatcher creates a dispatcher for the device. Call Init before
// dispatching.
func NewIndexDispatcher(device hal.Device, queue hal.Queue) *IndexDispatcher {
	return &IndexDispatcher{device: device, queue: queue}
}

// stageBindGroupLayoutEntries returns the bindings of a stage. Binding 0 is
// always the Config uniform.
func stageBindGroupLayoutEntries(stage Stage) []gputypes.BindGroupLayoutEntry {
	configUniform := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case StagePrefixSum:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRW(1), storageRW(2), storageRW(3)}
	case StageActiveIndex:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRW(2), storageRW(3)}
	case StageSortedIndex:
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRW(3), storageRW(4), storageRW(5),
		}
	case StageSortBucket:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRO(2), storageRW(3)}
	case StageSortWrite:
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRO(3), storageRW(4),
		}
	default:
		return nil
	}
}

// Init creates the shader modules and pipelines of all stages. Calling Init
// on an initialized dispatcher is a no-op.
func (d *IndexDispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	for i := Stage(0); i < StageCount; i++ {
		src := i.ShaderSource()
		if src == "" {
			return fmt.Errorf("gpu: missing shader source for stage %s", i)
		}
		label := "wavefront_" + i.String()

		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  label,
			Source: hal.ShaderSource{WGSL: src},
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("gpu: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		entries := stageBindGroupLayoutEntries(i)
		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   label + "_bgl",
			Entries: entries,
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            label + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:  label,
			Layout: pipelineLayout,
			Compute: hal.ComputeState{
				Module:     module,
				EntryPoint: "main",
			},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gpu: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("gpu: pipeline created",
			"stage", i.String(),
			"bindings", len(entries),
			"shader_bytes", len(src))
	}

	slogger().Info("gpu: index pipelines initialized", "stages", int(StageCount))
	d.initialized = true
	return nil
}

// destroyPartialInit releases the resources of stages [0, upTo).
func (d *IndexDispatcher) destroyPartialInit(upTo Stage) {
	for j := Stage(0); j < upTo; j++ {
		d.destroyStage(j)
	}
}

func (d *IndexDispatcher) destroyStage(s Stage) {
	if d.pipelines[s] != nil {
		d.device.DestroyComputePipeline(d.pipelines[s])
		d.pipelines[s] = nil
	}
	if d.pipelineLayouts[s] != nil {
		d.device.DestroyPipelineLayout(d.pipelineLayouts[s])
		d.pipelineLayouts[s] = nil
	}
	if d.bgLayouts[s] != nil {
		d.device.DestroyBindGroupLayout(d.bgLayouts[s])
		d.bgLayouts[s] = nil
	}
	if d.shaderModules[s] != nil {
		d.device.DestroyShaderModule(d.shaderModules[s])
		d.shaderModules[s] = nil
	}
}

// Close releases all pipelines. The dispatcher can be initialized again.
func (d *IndexDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := Stage(0); i < StageCount; i++ {
		d.destroyStage(i)
	}
	d.initialized = false
}

// frame tracks the resources of one dispatch for cleanup.
type frame struct {
	device     hal.Device
	buffers    []hal.Buffer
	bindGroups []hal.BindGroup
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

func (f *frame) cleanup() {
	if f.fence != nil {
		f.device.DestroyFence(f.fence)
	}
	if f.cmdBuf != nil {
		f.device.FreeCommandBuffer(f.cmdBuf)
	}
	for _, g := range f.bindGroups {
		f.device.DestroyBindGroup(g)
	}
	for _, b := range f.buffers {
		f.device.DestroyBuffer(b)
	}
}

const (
	usageStorage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	usageUniform = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	usageStaging = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// buffer creates a buffer owned by the frame, padded to at least 4 bytes.
func (d *IndexDispatcher) buffer(f *frame, label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	size = max(size, 4)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", label, err)
	}
	f.buffers = append(f.buffers, buf)
	return buf, nil
}

// upload creates a buffer holding data, zero-padded to 4 bytes.
func (d *IndexDispatcher) upload(f *frame, label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if len(data) < 4 {
		data = append(data, make([]byte, 4-len(data))...)
	}
	buf, err := d.buffer(f, label, uint64(len(data)), usage)
	if err != nil {
		return nil, err
	}
	d.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// pass is one compute dispatch with its bindings in binding order.
type pass struct {
	stage      Stage
	bindings   []hal.Buffer
	workgroups uint32
}

// readback copies a storage buffer to the host after all passes.
type readback struct {
	src  hal.Buffer
	size uint64
	dst  []byte
}

// execute records the passes and readback copies, submits them and waits.
func (d *IndexDispatcher) execute(f *frame, label string, passes []pass, reads []*readback) error {
	staging := make([]hal.Buffer, len(reads))
	for i, r := range reads {
		buf, err := d.buffer(f, fmt.Sprintf("%s_staging_%d", label, i), r.size, usageStaging)
		if err != nil {
			return err
		}
		staging[i] = buf
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}

	for _, p := range passes {
		if p.workgroups == 0 {
			continue
		}
		entries := make([]gputypes.BindGroupEntry, len(p.bindings))
		for b, buf := range p.bindings {
			entries[b] = gputypes.BindGroupEntry{
				Binding: uint32(b),
				Resource: gputypes.BufferBinding{
					Buffer: buf.NativeHandle(),
					Offset: 0,
					Size:   0, // 0 = entire buffer
				},
			}
		}
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s_%s_bg", label, p.stage),
			Layout:  d.bgLayouts[p.stage],
			Entries: entries,
		})
		if err != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("gpu: create bind group for %s: %w", p.stage, err)
		}
		f.bindGroups = append(f.bindGroups, bg)

		cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{
			Label: fmt.Sprintf("%s_%s", label, p.stage),
		})
		cp.SetPipeline(d.pipelines[p.stage])
		cp.SetBindGroup(0, bg, nil)
		cp.Dispatch(p.workgroups, 1, 1)
		cp.End()

		slogger().Debug("gpu: dispatched stage",
			"stage", p.stage.String(),
			"workgroups", p.workgroups)
	}

	for i, r := range reads {
		encoder.CopyBufferToBuffer(r.src, staging[i], []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: r.size},
		})
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	f.cmdBuf = cmdBuf

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpu: create fence: %w", err)
	}
	f.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpu: GPU timeout after %v", fenceTimeout)
	}

	for i, r := range reads {
		if err := d.queue.ReadBuffer(staging[i], 0, r.dst); err != nil {
			return fmt.Errorf("gpu: readback %s: %w", label, err)
		}
	}
	return nil
}
