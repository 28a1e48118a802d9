package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// CreateShaderModule wraps SPIR-V bytecode, which must be a whole number of
// 32-bit words.
func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		err := fmt.Errorf("invalid SPIR-V code size %d", len(code))
		core.LogError(err.Error())
		return 0, err
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)

	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := check(vk.CreateShaderModule(d.handle, &info, nil, &module), "vkCreateShaderModule"); err != nil {
		return 0, err
	}
	return gpu.ShaderModule(d.shaders.add(module)), nil
}

func (d *Device) DestroyShaderModule(h gpu.ShaderModule) {
	if m, ok := d.shaders.remove(uint64(h)); ok {
		vk.DestroyShaderModule(d.handle, m, nil)
	}
}
