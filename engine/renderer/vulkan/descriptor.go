package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// setLayout remembers whether sets of this layout need a variable
// descriptor count at allocation.
type setLayout struct {
	handle   vk.DescriptorSetLayout
	variable bool
}

// CreateDescriptorPool skips acceleration structure sizes since no layout
// on this device can hold them.
func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.PoolSize, bindless bool) (gpu.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Type == gpu.DescriptorAccelStructure || s.Count == 0 {
			continue
		}
		typ, err := vkDescriptorType(s.Type)
		if err != nil {
			return 0, err
		}
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            typ,
			DescriptorCount: s.Count,
		})
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if bindless {
		info.Flags |= vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit)
	}
	var pool vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.handle, &info, nil, &pool), "vkCreateDescriptorPool"); err != nil {
		return 0, err
	}
	return gpu.DescriptorPool(d.descriptorPools.add(pool)), nil
}

// DestroyDescriptorPool frees every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(h gpu.DescriptorPool) {
	if p, ok := d.descriptorPools.remove(uint64(h)); ok {
		vk.DestroyDescriptorPool(d.handle, p, nil)
	}
}

// CreateDescriptorSetLayout marks bindless bindings partially bound and
// update-after-bind. When the highest binding is bindless it also gets a
// variable descriptor count.
func (d *Device) CreateDescriptorSetLayout(bindings []gpu.LayoutBinding) (gpu.DescriptorSetLayout, error) {
	binds := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	flags := make([]vk.DescriptorBindingFlags, len(bindings))
	bindless := false
	last := -1
	for i, b := range bindings {
		typ, err := vkDescriptorType(b.Type)
		if err != nil {
			err = fmt.Errorf("layout binding %d: %w", b.Binding, err)
			core.LogError(err.Error())
			return 0, err
		}
		binds[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  typ,
			DescriptorCount: max(b.Count, 1),
			StageFlags:      vkShaderStages(b.Stages),
		}
		if b.Bindless {
			bindless = true
			flags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit | vk.DescriptorBindingUpdateAfterBindBit)
		}
		if last < 0 || b.Binding > bindings[last].Binding {
			last = i
		}
	}

	layout := &setLayout{}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	}
	if bindless {
		if bindings[last].Bindless {
			flags[last] |= vk.DescriptorBindingFlags(vk.DescriptorBindingVariableDescriptorCountBit)
			layout.variable = true
		}
		flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(flags)),
			PBindingFlags: flags,
		}
		ref, allocs := flagsInfo.PassRef()
		defer allocs.Free()
		info.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit)
		info.PNext = unsafe.Pointer(ref)
	}

	if err := check(vk.CreateDescriptorSetLayout(d.handle, &info, nil, &layout.handle), "vkCreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	return gpu.DescriptorSetLayout(d.setLayouts.add(layout)), nil
}

func (d *Device) DestroyDescriptorSetLayout(h gpu.DescriptorSetLayout) {
	if l, ok := d.setLayouts.remove(uint64(h)); ok {
		vk.DestroyDescriptorSetLayout(d.handle, l.handle, nil)
	}
}

func (d *Device) AllocateDescriptorSet(p gpu.DescriptorPool, l gpu.DescriptorSetLayout, variableCount uint32) (gpu.DescriptorSet, error) {
	pool, ok := d.descriptorPools.get(uint64(p))
	if !ok {
		return 0, fmt.Errorf("allocate from unknown descriptor pool %d", p)
	}
	layout, ok := d.setLayouts.get(uint64(l))
	if !ok {
		return 0, fmt.Errorf("allocate with unknown descriptor set layout %d", l)
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.handle},
	}
	if layout.variable {
		countInfo := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
			DescriptorSetCount: 1,
			PDescriptorCounts:  []uint32{variableCount},
		}
		ref, allocs := countInfo.PassRef()
		defer allocs.Free()
		info.PNext = unsafe.Pointer(ref)
	}

	var set vk.DescriptorSet
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return check(vk.AllocateDescriptorSets(d.handle, &info, &set), "vkAllocateDescriptorSets")
	})
	if err != nil {
		return 0, err
	}
	return gpu.DescriptorSet(d.sets.add(set)), nil
}

// UpdateDescriptorSets applies writes in one call. Acceleration structure
// writes are dropped.
func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := d.sets.get(uint64(w.Set))
		if !ok || w.Count() == 0 {
			continue
		}
		typ, err := vkDescriptorType(w.Type)
		if err != nil {
			d.log.Warn("skipping descriptor write", "binding", w.Binding, "err", err)
			continue
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: uint32(w.Count()),
			DescriptorType:  typ,
		}
		if len(w.Buffers) > 0 {
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for i, b := range w.Buffers {
				rng := vk.DeviceSize(b.Range)
				if b.Range == 0 {
					rng = vk.DeviceSize(vk.WholeSize)
				}
				infos[i] = vk.DescriptorBufferInfo{
					Buffer: d.buffer(b.Buffer),
					Offset: vk.DeviceSize(b.Offset),
					Range:  rng,
				}
			}
			vw.PBufferInfo = infos
		}
		if len(w.Images) > 0 {
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, img := range w.Images {
				infos[i] = vk.DescriptorImageInfo{
					Sampler:     d.sampler(img.Sampler),
					ImageView:   d.view(img.View),
					ImageLayout: vkLayout(img.Layout),
				}
			}
			vw.PImageInfo = infos
		}
		out = append(out, vw)
	}
	if len(out) == 0 {
		return
	}
	d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.handle, uint32(len(out)), out, 0, nil)
		return nil
	})
}
