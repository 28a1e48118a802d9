package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/charmbracelet/log"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Options configures instance and device creation.
type Options struct {
	AppName    string
	Validation bool
}

// Device implements gpu.Device on top of goki/vulkan. Attachment rendering
// is emulated with render passes and framebuffers cached by attachment
// formats and views. The binding exposes neither acceleration structures nor
// ray tracing pipelines, so the device reports no ray tracing support.
type Device struct {
	platform *platform.Platform
	locks    *VulkanLockPool
	log      *log.Logger

	instance      vk.Instance
	debugCallback vk.DebugReportCallback
	surface       vk.Surface

	physical      vk.PhysicalDevice
	handle        vk.Device
	properties    vk.PhysicalDeviceProperties
	memory        vk.PhysicalDeviceMemoryProperties
	queues        queueFamilyInfo
	graphicsQueue vk.Queue
	presentQueue  vk.Queue
	support       swapchainSupportInfo

	swapchain *swapchain

	buffers         handleTable[*buffer]
	images          handleTable[*image]
	views           handleTable[*imageView]
	samplers        handleTable[vk.Sampler]
	commandPools    handleTable[vk.CommandPool]
	fences          handleTable[vk.Fence]
	semaphores      handleTable[vk.Semaphore]
	descriptorPools handleTable[vk.DescriptorPool]
	setLayouts      handleTable[*setLayout]
	sets            handleTable[vk.DescriptorSet]
	shaders         handleTable[vk.ShaderModule]
	pipelineLayouts handleTable[vk.PipelineLayout]
	pipelines       handleTable[vk.Pipeline]

	cacheMu      sync.Mutex
	renderPasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer
}

var _ gpu.Device = (*Device)(nil)

type queueFamilyInfo struct {
	graphics uint32
	present  uint32
}

var deviceExtensions = []string{vk.KhrSwapchainExtensionName}

// NewDevice creates the instance, surface, logical device and swapchain for
// the platform window. On failure everything created so far is released.
func NewDevice(p *platform.Platform, opts Options) (*Device, error) {
	d := &Device{
		platform:     p,
		locks:        NewVulkanLockPool(),
		log:          core.NewComponentLogger("vulkan"),
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		framebuffers: make(map[framebufferKey]vk.Framebuffer),
	}
	if err := loadVulkan(); err != nil {
		return nil, err
	}

	steps := []func() error{
		func() error { return d.createInstance(opts.AppName, opts.Validation) },
		d.createSurface,
		d.selectPhysicalDevice,
		d.createLogicalDevice,
		func() error {
			w, h := p.FramebufferSize()
			return d.createSwapchain(w, h)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			d.Destroy()
			return nil, err
		}
	}
	return d, nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if count == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found")
		core.LogError(err.Error())
		return err
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	// Discrete GPUs first, then whatever else qualifies.
	var fallback vk.PhysicalDevice
	for _, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		name := cString(props.DeviceName[:])

		queues, ok := d.queueFamilies(pd)
		if !ok {
			d.log.Info("skipping device without graphics and present queues", "device", name)
			continue
		}
		if !hasExtensions(pd, deviceExtensions) {
			d.log.Info("skipping device without swapchain support", "device", name)
			continue
		}
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu || runtime.GOOS == "darwin" {
			d.usePhysicalDevice(pd, props, queues)
			return nil
		}
		if fallback == nil {
			fallback = pd
		}
	}
	if fallback != nil {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(fallback, &props)
		props.Deref()
		queues, _ := d.queueFamilies(fallback)
		d.usePhysicalDevice(fallback, props, queues)
		return nil
	}
	err := fmt.Errorf("no physical devices were found which meet the requirements")
	core.LogError(err.Error())
	return err
}

func (d *Device) usePhysicalDevice(pd vk.PhysicalDevice, props vk.PhysicalDeviceProperties, queues queueFamilyInfo) {
	props.Limits.Deref()
	d.physical = pd
	d.properties = props
	d.queues = queues
	vk.GetPhysicalDeviceMemoryProperties(pd, &d.memory)
	d.memory.Deref()

	v := vk.Version(props.ApiVersion)
	d.log.Info("selected device",
		"device", cString(props.DeviceName[:]),
		"api", fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()),
		"graphics", queues.graphics,
		"present", queues.present)
}

// queueFamilies finds a graphics family and a present family, preferring one
// family that does both.
func (d *Device) queueFamilies(pd vk.PhysicalDevice) (queueFamilyInfo, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	graphics, present := -1, -1
	for i := range families {
		families[i].Deref()
		isGraphics := vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent)
		canPresent := supportsPresent == vk.True

		if isGraphics && canPresent {
			return queueFamilyInfo{graphics: uint32(i), present: uint32(i)}, true
		}
		if isGraphics && graphics < 0 {
			graphics = i
		}
		if canPresent && present < 0 {
			present = i
		}
	}
	if graphics < 0 || present < 0 {
		return queueFamilyInfo{}, false
	}
	return queueFamilyInfo{graphics: uint32(graphics), present: uint32(present)}, true
}

func availableExtensions(pd vk.PhysicalDevice) map[string]bool {
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	props := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, props)
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = true
	}
	return out
}

func hasExtensions(pd vk.PhysicalDevice, names []string) bool {
	available := availableExtensions(pd)
	for _, n := range names {
		if !available[n] {
			return false
		}
	}
	return true
}

func (d *Device) createLogicalDevice() error {
	families := []uint32{d.queues.graphics}
	if d.queues.present != d.queues.graphics {
		families = append(families, d.queues.present)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := append([]string{}, deviceExtensions...)
	if availableExtensions(d.physical)["VK_KHR_portability_subset"] {
		d.log.Info("adding required extension", "extension", "VK_KHR_portability_subset")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	indexing := vk.PhysicalDeviceVulkan12Features{
		SType:                                        vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing:                           vk.True,
		RuntimeDescriptorArray:                       vk.True,
		DescriptorBindingPartiallyBound:              vk.True,
		DescriptorBindingVariableDescriptorCount:     vk.True,
		DescriptorBindingSampledImageUpdateAfterBind: vk.True,
		ShaderSampledImageArrayNonUniformIndexing:    vk.True,
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
			FillModeNonSolid:  vk.True,
		}},
		PNext: unsafe.Pointer(&indexing),
	}
	if err := check(vk.CreateDevice(d.physical, &createInfo, nil, &d.handle), "vkCreateDevice"); err != nil {
		return err
	}

	var q vk.Queue
	vk.GetDeviceQueue(d.handle, d.queues.graphics, 0, &q)
	d.graphicsQueue = q
	vk.GetDeviceQueue(d.handle, d.queues.present, 0, &q)
	d.presentQueue = q
	for _, f := range families {
		d.locks.SetQueueFamily(f)
	}
	d.log.Info("logical device created")
	return nil
}

func (d *Device) Limits() gpu.Limits {
	l := d.properties.Limits
	return gpu.Limits{
		MinUniformBufferOffsetAlignment: uint64(l.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: uint64(l.MinStorageBufferOffsetAlignment),
		MaxSamplerAnisotropy:            l.MaxSamplerAnisotropy,
	}
}

// Features reports attachment rendering as available because the backend
// emulates it with cached render passes.
func (d *Device) Features() gpu.Features {
	return gpu.Features{
		DescriptorIndexing: true,
		DynamicRendering:   true,
	}
}

func (d *Device) WaitIdle() error {
	if d.handle == nil {
		return nil
	}
	return check(vk.DeviceWaitIdle(d.handle), "vkDeviceWaitIdle")
}

// Destroy releases everything the device still owns, in reverse creation
// order. Objects the renderer leaked are released and logged.
func (d *Device) Destroy() {
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)
		d.destroyCaches()

		leaked := d.buffers.len() + d.images.len() + d.views.len() + d.samplers.len() +
			d.pipelines.len() + d.pipelineLayouts.len() + d.shaders.len() + d.setLayouts.len() +
			d.descriptorPools.len() + d.commandPools.len() + d.fences.len() + d.semaphores.len()
		if leaked > 0 {
			d.log.Warn("releasing objects still owned at shutdown", "count", leaked)
		}
		for _, p := range d.pipelines.drain() {
			vk.DestroyPipeline(d.handle, p, nil)
		}
		for _, l := range d.pipelineLayouts.drain() {
			vk.DestroyPipelineLayout(d.handle, l, nil)
		}
		for _, m := range d.shaders.drain() {
			vk.DestroyShaderModule(d.handle, m, nil)
		}
		d.sets.drain()
		for _, p := range d.descriptorPools.drain() {
			vk.DestroyDescriptorPool(d.handle, p, nil)
		}
		for _, l := range d.setLayouts.drain() {
			vk.DestroyDescriptorSetLayout(d.handle, l.handle, nil)
		}
		for _, s := range d.samplers.drain() {
			vk.DestroySampler(d.handle, s, nil)
		}
		for _, v := range d.views.drain() {
			vk.DestroyImageView(d.handle, v.handle, nil)
		}
		for _, img := range d.images.drain() {
			d.releaseImage(img)
		}
		for _, b := range d.buffers.drain() {
			d.releaseBuffer(b)
		}
		for _, p := range d.commandPools.drain() {
			vk.DestroyCommandPool(d.handle, p, nil)
		}
		for _, f := range d.fences.drain() {
			vk.DestroyFence(d.handle, f, nil)
		}
		for _, s := range d.semaphores.drain() {
			vk.DestroySemaphore(d.handle, s, nil)
		}
		d.destroySwapchain()
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	d.log.Info("Vulkan device destroyed")
}

// timeoutNanos clamps a wait duration to the API's unsigned nanoseconds.
func timeoutNanos(t time.Duration) uint64 {
	if t < 0 {
		return vk.MaxUint64
	}
	return uint64(t.Nanoseconds())
}
