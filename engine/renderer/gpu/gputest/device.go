// Package gputest provides a recording gpu.Device for tests. Submitted work
// completes immediately: fences attached to a submission are signaled and
// compacted-size queries are resolved at Submit time.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type BufferState struct {
	Desc    gpu.BufferDesc
	// Data is the buffer contents, mapped or filled by copy-buffer commands.
	Data    []byte
	Address gpu.DeviceAddress
}

type AccelState struct {
	Type   gpu.AccelStructureType
	Buffer gpu.Buffer
	Size   uint64
}

// Submission is a snapshot of one command buffer at submit time.
type Submission struct {
	CommandBuffer *CommandBuffer
	Commands      []Command
	Info          gpu.SubmitInfo
}

type Device struct {
	mu   sync.Mutex
	next uint64

	Lim  gpu.Limits
	Feat gpu.Features

	// Log is a chronological record of device-level calls, e.g.
	// "create-buffer 4", "submit", "destroy-accel 9".
	Log []string

	Buffers          map[gpu.Buffer]*BufferState
	Images           map[gpu.Image]gpu.ImageDesc
	Views            map[gpu.ImageView]gpu.Image
	Samplers         map[gpu.Sampler]gpu.SamplerDesc
	CommandPools     map[gpu.CommandPool][]*CommandBuffer
	Fences           map[gpu.Fence]bool
	Semaphores       map[gpu.Semaphore]bool
	DescriptorPools  map[gpu.DescriptorPool]uint32
	Layouts          map[gpu.DescriptorSetLayout][]gpu.LayoutBinding
	Sets             map[gpu.DescriptorSet]gpu.DescriptorSetLayout
	SetVariableCount map[gpu.DescriptorSet]uint32
	ShaderModules    map[gpu.ShaderModule][]byte
	PipelineLayouts  map[gpu.PipelineLayout][]gpu.DescriptorSetLayout
	Pipelines        map[gpu.Pipeline]interface{}
	Accels           map[gpu.AccelStructure]*AccelState
	QueryPools       map[gpu.QueryPool][]uint64

	// DescriptorUpdates holds the writes of every UpdateDescriptorSets call.
	DescriptorUpdates [][]gpu.DescriptorWrite
	Submissions       []Submission
	Presented         []uint32
	WaitIdleCalls     int

	SwapchainInfo gpu.Swapchain
	acquired      uint32

	// FenceTimeouts makes the next n WaitFence calls time out.
	FenceTimeouts int
	// AcquireErr is returned by AcquireNextImage when set.
	AcquireErr error
	// BuildSizes overrides the default acceleration structure size model.
	BuildSizes func(info gpu.AccelBuildInfo) gpu.AccelBuildSizes
	// CompactedSize maps a structure size to its compacted size. Defaults to half.
	CompactedSize func(size uint64) uint64
	// Fail is consulted by the create calls; a non-nil result fails the call.
	// call is the log verb, with the buffer name for buffers, e.g.
	// "create-buffer tlas.scratch" or "create-fence".
	Fail func(call string) error
}

// NewDevice returns a fake with a 3-image swapchain and the given ray
// tracing support.
func NewDevice(rayTracing bool) *Device {
	d := &Device{
		Lim: gpu.Limits{
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			MaxSamplerAnisotropy:            16,
			MinAccelScratchOffsetAlignment:  128,
		},
		Feat: gpu.Features{
			DescriptorIndexing:  true,
			DynamicRendering:    true,
			BufferDeviceAddress: rayTracing,
			RayTracing:          rayTracing,
		},
		Buffers:          make(map[gpu.Buffer]*BufferState),
		Images:           make(map[gpu.Image]gpu.ImageDesc),
		Views:            make(map[gpu.ImageView]gpu.Image),
		Samplers:         make(map[gpu.Sampler]gpu.SamplerDesc),
		CommandPools:     make(map[gpu.CommandPool][]*CommandBuffer),
		Fences:           make(map[gpu.Fence]bool),
		Semaphores:       make(map[gpu.Semaphore]bool),
		DescriptorPools:  make(map[gpu.DescriptorPool]uint32),
		Layouts:          make(map[gpu.DescriptorSetLayout][]gpu.LayoutBinding),
		Sets:             make(map[gpu.DescriptorSet]gpu.DescriptorSetLayout),
		SetVariableCount: make(map[gpu.DescriptorSet]uint32),
		ShaderModules:    make(map[gpu.ShaderModule][]byte),
		PipelineLayouts:  make(map[gpu.PipelineLayout][]gpu.DescriptorSetLayout),
		Pipelines:        make(map[gpu.Pipeline]interface{}),
		Accels:           make(map[gpu.AccelStructure]*AccelState),
		QueryPools:       make(map[gpu.QueryPool][]uint64),
	}
	if rayTracing {
		d.Lim.ShaderGroupHandleSize = 32
		d.Lim.ShaderGroupHandleAlignment = 32
		d.Lim.ShaderGroupBaseAlignment = 64
		d.Lim.MaxRayRecursionDepth = 31
	}

	d.SwapchainInfo = gpu.Swapchain{
		Format: gpu.FormatB8G8R8A8Srgb,
		Extent: gpu.Extent2D{Width: 1280, Height: 720},
	}
	for i := 0; i < 3; i++ {
		img := gpu.Image(d.handle())
		view := gpu.ImageView(d.handle())
		d.SwapchainInfo.Images = append(d.SwapchainInfo.Images, img)
		d.SwapchainInfo.Views = append(d.SwapchainInfo.Views, view)
	}
	return d
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) fail(call string) error {
	if d.Fail == nil {
		return nil
	}
	return d.Fail(call)
}

func (d *Device) logf(format string, args ...interface{}) {
	d.Log = append(d.Log, fmt.Sprintf(format, args...))
}

func (d *Device) Limits() gpu.Limits     { return d.Lim }
func (d *Device) Features() gpu.Features { return d.Feat }

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.WaitIdleCalls++
	d.logf("wait-idle")
	return nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if desc.Size == 0 {
		return 0, fmt.Errorf("gputest: zero-sized buffer %q", desc.Name)
	}
	if err := d.fail("create-buffer " + desc.Name); err != nil {
		return 0, err
	}
	b := gpu.Buffer(d.handle())
	st := &BufferState{Desc: desc, Data: make([]byte, desc.Size)}
	if desc.Usage&gpu.BufferUsageDeviceAddress != 0 {
		st.Address = gpu.DeviceAddress(uint64(b) << 20)
	}
	d.Buffers[b] = st
	d.logf("create-buffer %d", b)
	return b, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Buffers, b)
	d.logf("destroy-buffer %d", b)
}

func (d *Device) MapBuffer(b gpu.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.Buffers[b]
	if !ok || !st.Desc.Memory.HostVisible() {
		return nil, fmt.Errorf("gputest: buffer %d is not host visible", b)
	}
	return st.Data, nil
}

func (d *Device) BufferAddress(b gpu.Buffer) (gpu.DeviceAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.Buffers[b]
	if !ok || st.Address == 0 {
		return 0, fmt.Errorf("gputest: buffer %d has no device address", b)
	}
	return st.Address, nil
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := gpu.Image(d.handle())
	d.Images[img] = desc
	d.logf("create-image %d", img)
	return img, nil
}

func (d *Device) DestroyImage(img gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Images, img)
	d.logf("destroy-image %d", img)
}

func (d *Device) CreateImageView(img gpu.Image, desc gpu.ViewDesc) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Images[img]; !ok {
		return 0, fmt.Errorf("gputest: view of unknown image %d", img)
	}
	v := gpu.ImageView(d.handle())
	d.Views[v] = img
	d.logf("create-view %d", v)
	return v, nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Views, v)
	d.logf("destroy-view %d", v)
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := gpu.Sampler(d.handle())
	d.Samplers[s] = desc
	return s, nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Samplers, s)
	d.logf("destroy-sampler %d", s)
}

func (d *Device) CreateCommandPool(transient bool) (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("create-command-pool"); err != nil {
		return 0, err
	}
	p := gpu.CommandPool(d.handle())
	d.CommandPools[p] = nil
	d.logf("create-command-pool %d", p)
	return p, nil
}

func (d *Device) DestroyCommandPool(p gpu.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.CommandPools, p)
	d.logf("destroy-command-pool %d", p)
}

func (d *Device) AllocateCommandBuffer(p gpu.CommandPool) (gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.CommandPools[p]; !ok {
		return nil, fmt.Errorf("gputest: unknown command pool %d", p)
	}
	if err := d.fail("allocate-command-buffer"); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{ID: d.handle(), Pool: p, dev: d}
	d.CommandPools[p] = append(d.CommandPools[p], cb)
	d.logf("allocate-command-buffer %d", cb.ID)
	return cb, nil
}

func (d *Device) FreeCommandBuffer(p gpu.CommandPool, cb gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fake := cb.(*CommandBuffer)
	fake.Freed = true
	d.logf("free-command-buffer %d", fake.ID)
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("create-fence"); err != nil {
		return 0, err
	}
	f := gpu.Fence(d.handle())
	d.Fences[f] = signaled
	return f, nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Fences, f)
	d.logf("destroy-fence %d", f)
}

func (d *Device) WaitFence(f gpu.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logf("wait-fence %d", f)
	if d.FenceTimeouts > 0 {
		d.FenceTimeouts--
		return gpu.ErrTimeout
	}
	if !d.Fences[f] {
		// Nothing pending would ever signal it.
		return gpu.ErrTimeout
	}
	return nil
}

func (d *Device) ResetFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fences[f] = false
	d.logf("reset-fence %d", f)
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("create-semaphore"); err != nil {
		return 0, err
	}
	s := gpu.Semaphore(d.handle())
	d.Semaphores[s] = true
	return s, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Semaphores, s)
	d.logf("destroy-semaphore %d", s)
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range info.CommandBuffers {
		cb := c.(*CommandBuffer)
		if cb.State != StateRecorded {
			return fmt.Errorf("gputest: command buffer %d submitted in state %s", cb.ID, cb.State)
		}
		cb.State = StateSubmitted
		cmds := append([]Command(nil), cb.Commands...)
		d.Submissions = append(d.Submissions, Submission{CommandBuffer: cb, Commands: cmds, Info: info})
		d.execute(cmds)
		d.logf("submit %d", cb.ID)
	}
	if info.Fence != 0 {
		d.Fences[info.Fence] = true
	}
	return nil
}

// execute resolves the side effects a real GPU would produce.
func (d *Device) execute(cmds []Command) {
	for _, c := range cmds {
		switch c.Name {
		case "copy-buffer":
			args := c.Args.(CopyBufferArgs)
			src, dst := d.Buffers[args.Src], d.Buffers[args.Dst]
			if src == nil || dst == nil {
				continue
			}
			for _, r := range args.Regions {
				copy(dst.Data[r.DstOffset:], src.Data[r.SrcOffset:r.SrcOffset+r.Size])
			}
			continue
		case "write-accel-properties":
		default:
			continue
		}
		args := c.Args.(WriteAccelPropertiesArgs)
		results := d.QueryPools[args.Pool]
		for i, as := range args.Structures {
			size := uint64(0)
			if st, ok := d.Accels[as]; ok {
				size = st.Size
			}
			if d.CompactedSize != nil {
				size = d.CompactedSize(size)
			} else {
				size /= 2
			}
			if idx := int(args.First) + i; idx < len(results) {
				results[idx] = size
			}
		}
	}
}

func (d *Device) Swapchain() gpu.Swapchain { return d.SwapchainInfo }

func (d *Device) AcquireNextImage(signal gpu.Semaphore, timeout time.Duration) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return 0, d.AcquireErr
	}
	idx := d.acquired % uint32(len(d.SwapchainInfo.Images))
	d.acquired++
	d.logf("acquire %d", idx)
	return idx, nil
}

func (d *Device) Present(wait gpu.Semaphore, imageIndex uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Presented = append(d.Presented, imageIndex)
	d.logf("present %d", imageIndex)
	return nil
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.PoolSize, bindless bool) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := gpu.DescriptorPool(d.handle())
	d.DescriptorPools[p] = maxSets
	d.logf("create-descriptor-pool %d", p)
	return p, nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.DescriptorPools, p)
	for s := range d.Sets {
		delete(d.Sets, s)
	}
	d.logf("destroy-descriptor-pool %d", p)
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.LayoutBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := gpu.DescriptorSetLayout(d.handle())
	d.Layouts[l] = append([]gpu.LayoutBinding(nil), bindings...)
	d.logf("create-descriptor-set-layout %d", l)
	return l, nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Layouts, l)
	d.logf("destroy-descriptor-set-layout %d", l)
}

func (d *Device) AllocateDescriptorSet(p gpu.DescriptorPool, l gpu.DescriptorSetLayout, variableCount uint32) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.DescriptorPools[p]; !ok {
		return 0, fmt.Errorf("gputest: unknown descriptor pool %d", p)
	}
	if _, ok := d.Layouts[l]; !ok {
		return 0, fmt.Errorf("gputest: unknown descriptor set layout %d", l)
	}
	s := gpu.DescriptorSet(d.handle())
	d.Sets[s] = l
	d.SetVariableCount[s] = variableCount
	return s, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DescriptorUpdates = append(d.DescriptorUpdates, append([]gpu.DescriptorWrite(nil), writes...))
	d.logf("update-descriptor-sets %d", len(writes))
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 {
		return 0, fmt.Errorf("gputest: empty shader module")
	}
	m := gpu.ShaderModule(d.handle())
	d.ShaderModules[m] = code
	return m, nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ShaderModules, m)
}

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push []gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := gpu.PipelineLayout(d.handle())
	d.PipelineLayouts[l] = append([]gpu.DescriptorSetLayout(nil), sets...)
	return l, nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.PipelineLayouts, l)
	d.logf("destroy-pipeline-layout %d", l)
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := gpu.Pipeline(d.handle())
	d.Pipelines[p] = desc
	d.logf("create-graphics-pipeline %d", p)
	return p, nil
}

func (d *Device) CreateRayTracingPipeline(desc gpu.RayTracingPipelineDesc) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Feat.RayTracing {
		return 0, gpu.ErrRayTracingUnsupported
	}
	p := gpu.Pipeline(d.handle())
	d.Pipelines[p] = desc
	d.logf("create-ray-tracing-pipeline %d", p)
	return p, nil
}

// ShaderGroupHandles fills handle i with the byte value first+i+1.
func (d *Device) ShaderGroupHandles(p gpu.Pipeline, first, count uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Pipelines[p].(gpu.RayTracingPipelineDesc); !ok {
		return nil, fmt.Errorf("gputest: pipeline %d is not a ray tracing pipeline", p)
	}
	size := d.Lim.ShaderGroupHandleSize
	out := make([]byte, size*count)
	for i := uint32(0); i < count; i++ {
		for j := uint32(0); j < size; j++ {
			out[i*size+j] = byte(first + i + 1)
		}
	}
	return out, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Pipelines, p)
	d.logf("destroy-pipeline %d", p)
}

func (d *Device) AccelBuildSizes(info gpu.AccelBuildInfo) (gpu.AccelBuildSizes, error) {
	if !d.Feat.RayTracing {
		return gpu.AccelBuildSizes{}, gpu.ErrRayTracingUnsupported
	}
	if d.BuildSizes != nil {
		return d.BuildSizes(info), nil
	}
	var prims uint64
	for _, t := range info.Triangles {
		prims += uint64(t.PrimitiveCount)
	}
	if info.Instances != nil {
		prims += uint64(info.Instances.Count)
	}
	return gpu.AccelBuildSizes{
		StructureSize:     1024 + 256*prims,
		BuildScratchSize:  512 + 128*prims,
		UpdateScratchSize: 256 + 64*prims,
	}, nil
}

func (d *Device) CreateAccelStructure(typ gpu.AccelStructureType, buffer gpu.Buffer, offset, size uint64) (gpu.AccelStructure, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Feat.RayTracing {
		return 0, gpu.ErrRayTracingUnsupported
	}
	as := gpu.AccelStructure(d.handle())
	d.Accels[as] = &AccelState{Type: typ, Buffer: buffer, Size: size}
	d.logf("create-accel %d", as)
	return as, nil
}

func (d *Device) DestroyAccelStructure(as gpu.AccelStructure) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Accels, as)
	d.logf("destroy-accel %d", as)
}

func (d *Device) AccelStructureAddress(as gpu.AccelStructure) (gpu.DeviceAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.Accels[as]; !ok {
		return 0, fmt.Errorf("gputest: unknown acceleration structure %d", as)
	}
	return gpu.DeviceAddress(0xA000_0000 + uint64(as)), nil
}

func (d *Device) CreateQueryPool(count uint32) (gpu.QueryPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := gpu.QueryPool(d.handle())
	d.QueryPools[q] = make([]uint64, count)
	d.logf("create-query-pool %d", q)
	return q, nil
}

func (d *Device) DestroyQueryPool(q gpu.QueryPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.QueryPools, q)
	d.logf("destroy-query-pool %d", q)
}

func (d *Device) QueryResults(q gpu.QueryPool, first, count uint32) ([]uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	results, ok := d.QueryPools[q]
	if !ok || int(first+count) > len(results) {
		return nil, fmt.Errorf("gputest: query range %d+%d out of bounds", first, count)
	}
	return append([]uint64(nil), results[first:first+count]...), nil
}

// IndexOf returns the position of the first Log entry equal to entry, or -1.
func (d *Device) IndexOf(entry string) int {
	for i, e := range d.Log {
		if e == entry {
			return i
		}
	}
	return -1
}

var _ gpu.Device = (*Device)(nil)
