package vulkan

import "github.com/spaghettifunk/lumen/engine/renderer/gpu"

// The binding exposes no acceleration structure or ray tracing pipeline
// entry points. Callers check Features().RayTracing before reaching these.

func (d *Device) AccelBuildSizes(gpu.AccelBuildInfo) (gpu.AccelBuildSizes, error) {
	return gpu.AccelBuildSizes{}, gpu.ErrRayTracingUnsupported
}

func (d *Device) CreateAccelStructure(gpu.AccelStructureType, gpu.Buffer, uint64, uint64) (gpu.AccelStructure, error) {
	return 0, gpu.ErrRayTracingUnsupported
}

func (d *Device) DestroyAccelStructure(gpu.AccelStructure) {}

func (d *Device) AccelStructureAddress(gpu.AccelStructure) (gpu.DeviceAddress, error) {
	return 0, gpu.ErrRayTracingUnsupported
}

func (d *Device) CreateQueryPool(uint32) (gpu.QueryPool, error) {
	return 0, gpu.ErrRayTracingUnsupported
}

func (d *Device) DestroyQueryPool(gpu.QueryPool) {}

func (d *Device) QueryResults(gpu.QueryPool, uint32, uint32) ([]uint64, error) {
	return nil, gpu.ErrRayTracingUnsupported
}
