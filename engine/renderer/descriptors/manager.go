// Package descriptors keeps the registry of descriptor set slots shared by
// every pass. Bindings are registered during initialization, then all sets
// are allocated and written in one batch.
package descriptors

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var (
	ErrAlreadyAllocated = errors.New("descriptor sets already allocated")
	ErrNotAllocated     = errors.New("descriptor sets not allocated")
	ErrInvalidSet       = errors.New("invalid descriptor set id")
)

const (
	// MaxSampledImages bounds the combined image samplers outside bindless arrays.
	MaxSampledImages = 500
	// MaxBindlessDescriptors bounds every variable-count array.
	MaxBindlessDescriptors = 4096

	maxUniformBuffers   = 64
	maxStorageBuffers   = 64
	maxStorageImages    = 64
	maxAccelStructures  = 16
	maxSetsPerFrameSlot = 4
)

// pendingWrite is a write whose destination set is resolved at allocation.
// frame is -1 for shared slots.
type pendingWrite struct {
	frame int
	write gpu.DescriptorWrite
}

type slot struct {
	registered bool
	perFrame   bool
	bindless   bool

	bindings      []gpu.LayoutBinding
	writes        []pendingWrite
	variableCount uint32

	layout gpu.DescriptorSetLayout
	sets   []gpu.DescriptorSet
}

type Manager struct {
	dev            gpu.Device
	framesInFlight int
	slots          [SetCount]slot
	pool           gpu.DescriptorPool
	allocated      bool
	log            *log.Logger
}

func NewManager(dev gpu.Device, framesInFlight int) *Manager {
	return &Manager{
		dev:            dev,
		framesInFlight: framesInFlight,
		log:            core.NewComponentLogger("descriptors"),
	}
}

type resource struct {
	buffers []gpu.BufferInfo
	images  []gpu.ImageInfo
	accels  []gpu.AccelStructure
}

func (r resource) len() int {
	return len(r.buffers) + len(r.images) + len(r.accels)
}

func (r resource) slice(from, to int) resource {
	switch {
	case r.buffers != nil:
		return resource{buffers: r.buffers[from:to]}
	case r.images != nil:
		return resource{images: r.images[from:to]}
	default:
		return resource{accels: r.accels[from:to]}
	}
}

// RegisterBuffer adds a buffer binding to set. For per-frame sets infos holds
// either count entries shared by every frame, or count*N entries laid out
// frame-major.
func (m *Manager) RegisterBuffer(set SetID, stages gpu.ShaderStage, typ gpu.DescriptorType, infos []gpu.BufferInfo, binding, count uint32, bindless, perFrame bool) error {
	return m.register(set, stages, typ, resource{buffers: infos}, binding, count, bindless, perFrame)
}

// RegisterImage adds an image binding to set; see RegisterBuffer for layout.
func (m *Manager) RegisterImage(set SetID, stages gpu.ShaderStage, typ gpu.DescriptorType, infos []gpu.ImageInfo, binding, count uint32, bindless, perFrame bool) error {
	return m.register(set, stages, typ, resource{images: infos}, binding, count, bindless, perFrame)
}

// RegisterAccelStructure adds an acceleration structure binding to set.
func (m *Manager) RegisterAccelStructure(set SetID, stages gpu.ShaderStage, structures []gpu.AccelStructure, binding, count uint32, bindless, perFrame bool) error {
	return m.register(set, stages, gpu.DescriptorAccelStructure, resource{accels: structures}, binding, count, bindless, perFrame)
}

func (m *Manager) register(set SetID, stages gpu.ShaderStage, typ gpu.DescriptorType, res resource, binding, count uint32, bindless, perFrame bool) error {
	if set >= SetCount {
		return fmt.Errorf("%w: %d", ErrInvalidSet, set)
	}
	if m.allocated {
		err := fmt.Errorf("register binding %d of set %s: %w", binding, set, ErrAlreadyAllocated)
		core.LogError(err.Error())
		return err
	}

	s := &m.slots[set]
	if !s.registered {
		// The first registration fixes the slot flags.
		s.registered = true
		s.perFrame = perFrame
		s.bindless = bindless
	}

	if bindless {
		core.Assert(count <= MaxBindlessDescriptors, "set %s: bindless binding %d has %d descriptors, max %d", set, binding, count, MaxBindlessDescriptors)
		s.variableCount = max(s.variableCount, uint32(res.len()))
	}
	s.bindings = append(s.bindings, gpu.LayoutBinding{
		Binding:  binding,
		Type:     typ,
		Count:    count,
		Stages:   stages,
		Bindless: bindless,
	})

	if !s.perFrame {
		s.writes = append(s.writes, pendingWrite{frame: -1, write: newWrite(binding, typ, res)})
		return nil
	}
	perFrameInfos := res.len() == int(count)*m.framesInFlight && m.framesInFlight > 1
	for f := 0; f < m.framesInFlight; f++ {
		r := res
		if perFrameInfos {
			r = res.slice(f*int(count), (f+1)*int(count))
		}
		s.writes = append(s.writes, pendingWrite{frame: f, write: newWrite(binding, typ, r)})
	}
	return nil
}

func newWrite(binding uint32, typ gpu.DescriptorType, r resource) gpu.DescriptorWrite {
	return gpu.DescriptorWrite{
		Binding:         binding,
		Type:            typ,
		Buffers:         r.buffers,
		Images:          r.images,
		AccelStructures: r.accels,
	}
}

func (m *Manager) poolSizes() []gpu.PoolSize {
	n := uint32(m.framesInFlight)
	return []gpu.PoolSize{
		{Type: gpu.DescriptorUniformBuffer, Count: maxUniformBuffers * n},
		{Type: gpu.DescriptorStorageBuffer, Count: maxStorageBuffers * n},
		{Type: gpu.DescriptorCombinedImageSampler, Count: MaxSampledImages + MaxBindlessDescriptors*n},
		{Type: gpu.DescriptorStorageImage, Count: maxStorageImages * n},
		{Type: gpu.DescriptorAccelStructure, Count: maxAccelStructures * n},
	}
}

// AllocateSets creates the pool, then each registered slot's layout and sets,
// and resolves every pending write to its destination set.
func (m *Manager) AllocateSets() error {
	if m.allocated {
		err := fmt.Errorf("allocate sets: %w", ErrAlreadyAllocated)
		core.LogError(err.Error())
		return err
	}

	maxSets := uint32(SetCount) * uint32(m.framesInFlight) * maxSetsPerFrameSlot
	pool, err := m.dev.CreateDescriptorPool(maxSets, m.poolSizes(), true)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor pool: %w", err)
		core.LogError(err.Error())
		return err
	}
	m.pool = pool

	for id := SetID(0); id < SetCount; id++ {
		s := &m.slots[id]
		if !s.registered {
			continue
		}
		if s.layout, err = m.dev.CreateDescriptorSetLayout(s.bindings); err != nil {
			err = fmt.Errorf("failed to create layout for set %s: %w", id, err)
			core.LogError(err.Error())
			return err
		}
		n := 1
		if s.perFrame {
			n = m.framesInFlight
		}
		s.sets = make([]gpu.DescriptorSet, n)
		for i := range s.sets {
			if s.sets[i], err = m.dev.AllocateDescriptorSet(pool, s.layout, s.variableCount); err != nil {
				err = fmt.Errorf("failed to allocate set %s[%d]: %w", id, i, err)
				core.LogError(err.Error())
				return err
			}
		}
		for i := range s.writes {
			w := &s.writes[i]
			switch {
			case w.frame < 0:
				w.write.Set = s.sets[0]
			case w.frame < len(s.sets):
				w.write.Set = s.sets[w.frame]
			}
		}
		m.log.Debug("set allocated", "set", id, "bindings", len(s.bindings), "sets", n, "bindless", s.bindless)
	}
	m.allocated = true
	return nil
}

// UpdateSets applies every accumulated write with one device call. Writes
// without a resolved destination or without resources are skipped. It
// returns the number of writes applied.
func (m *Manager) UpdateSets() (int, error) {
	if !m.allocated {
		err := fmt.Errorf("update sets: %w", ErrNotAllocated)
		core.LogError(err.Error())
		return 0, err
	}
	var writes []gpu.DescriptorWrite
	skipped := 0
	for id := SetID(0); id < SetCount; id++ {
		for _, w := range m.slots[id].writes {
			if w.write.Set == 0 || w.write.Count() == 0 {
				skipped++
				continue
			}
			writes = append(writes, w.write)
		}
	}
	m.dev.UpdateDescriptorSets(writes)
	m.log.Debug("sets updated", "writes", len(writes), "skipped", skipped)
	return len(writes), nil
}

// GetLayouts returns the layouts of the sets in mask, in ascending set order.
func (m *Manager) GetLayouts(mask SetMask) []gpu.DescriptorSetLayout {
	ids := mask.IDs()
	out := make([]gpu.DescriptorSetLayout, 0, len(ids))
	for _, id := range ids {
		s := &m.slots[id]
		core.Assert(s.layout != 0, "descriptor set %s requested but not allocated", id)
		out = append(out, s.layout)
	}
	return out
}

// GetDescriptorSets returns the sets in mask for frame, in ascending set
// order. Shared slots return the same set for every frame.
func (m *Manager) GetDescriptorSets(mask SetMask, frame int) []gpu.DescriptorSet {
	ids := mask.IDs()
	out := make([]gpu.DescriptorSet, 0, len(ids))
	for _, id := range ids {
		s := &m.slots[id]
		core.Assert(len(s.sets) > 0, "descriptor set %s requested but not allocated", id)
		if s.perFrame {
			out = append(out, s.sets[frame%len(s.sets)])
		} else {
			out = append(out, s.sets[0])
		}
	}
	return out
}

// Writes returns the accumulated writes of set.
func (m *Manager) Writes(set SetID) []gpu.DescriptorWrite {
	s := &m.slots[set]
	out := make([]gpu.DescriptorWrite, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.write
	}
	return out
}

func (m *Manager) IsPerFrame(set SetID) bool {
	return m.slots[set].perFrame
}

func (m *Manager) IsRegistered(set SetID) bool {
	return m.slots[set].registered
}

// Destroy releases all layouts and the pool and clears the registry, after
// which slots can be registered and allocated again.
func (m *Manager) Destroy() {
	for id := SetID(0); id < SetCount; id++ {
		if l := m.slots[id].layout; l != 0 {
			m.dev.DestroyDescriptorSetLayout(l)
		}
	}
	if m.pool != 0 {
		m.dev.DestroyDescriptorPool(m.pool)
	}
	m.slots = [SetCount]slot{}
	m.pool = 0
	m.allocated = false
}
