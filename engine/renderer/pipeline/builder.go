// Package pipeline builds graphics and ray tracing passes from declarative
// descriptions.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var ErrInvalidRayTracingShaders = errors.New("ray tracing pass needs one raygen, two miss, one closest-hit and one any-hit shader")

type Kind int

const (
	KindGraphics Kind = iota
	KindRayTracing
)

type InitInfo struct {
	/** @brief Debug name of the pass. */
	Name string
	Kind Kind
	/** @brief Descriptor sets used by the shaders, bound in ascending order. */
	Sets descriptors.SetMask
	/** @brief Shader blob names; the stage comes from the name suffix. */
	Shaders []string

	ColorFormats []gpu.Format
	/** @brief FormatUndefined disables the depth attachment. */
	DepthFormat  gpu.Format
	DepthTest    bool
	DepthWrite   bool
	DepthCompare gpu.CompareOp
	Blend        bool
	Cull         gpu.CullMode
	Wireframe    bool
	/** @brief nil for passes generating their vertices in the shader. */
	Vertex *gpu.VertexLayout

	PushConstantSize   uint32
	PushConstantStages gpu.ShaderStage

	MaxRecursion uint32
}

// Pass is a built pipeline plus what is needed to bind it.
type Pass struct {
	Name       string
	Pipeline   gpu.Pipeline
	Layout     gpu.PipelineLayout
	BindPoint  gpu.BindPoint
	Sets       descriptors.SetMask
	PushStages gpu.ShaderStage
	PushSize   uint32
	SBT        *ShaderBindingTable
}

// Bind binds the pipeline and its descriptor sets for frame.
func (p *Pass) Bind(cb gpu.CommandBuffer, sets *descriptors.Manager, frame int) {
	cb.BindPipeline(p.BindPoint, p.Pipeline)
	if p.Sets != 0 {
		cb.BindDescriptorSets(p.BindPoint, p.Layout, 0, sets.GetDescriptorSets(p.Sets, frame))
	}
}

func (p *Pass) Push(cb gpu.CommandBuffer, data []byte) {
	core.Assert(uint32(len(data)) <= p.PushSize, "pass %s: %d bytes of push constants, layout has %d", p.Name, len(data), p.PushSize)
	cb.PushConstants(p.Layout, p.PushStages, 0, data)
}

func (p *Pass) TraceRays(cb gpu.CommandBuffer, extent gpu.Extent2D) {
	core.Assert(p.SBT != nil, "pass %s has no shader binding table", p.Name)
	cb.TraceRays(p.SBT.Regions, extent.Width, extent.Height, 1)
}

type Builder struct {
	dev       gpu.Device
	sets      *descriptors.Manager
	shaders   ShaderSource
	allocator *alloc.Allocator
	submitter alloc.Submitter
	passes    []*Pass
	log       *log.Logger
}

func NewBuilder(dev gpu.Device, sets *descriptors.Manager, shaders ShaderSource, allocator *alloc.Allocator, submitter alloc.Submitter) *Builder {
	return &Builder{
		dev:       dev,
		sets:      sets,
		shaders:   shaders,
		allocator: allocator,
		submitter: submitter,
		log:       core.NewComponentLogger("pipeline"),
	}
}

func (b *Builder) Build(info InitInfo) (*Pass, error) {
	if info.Kind == KindRayTracing {
		if err := b.checkRayTracing(); err != nil {
			return nil, err
		}
	}

	var push []gpu.PushConstantRange
	if info.PushConstantSize > 0 {
		push = []gpu.PushConstantRange{{Stages: info.PushConstantStages, Size: info.PushConstantSize}}
	}
	layout, err := b.dev.CreatePipelineLayout(b.sets.GetLayouts(info.Sets), push)
	if err != nil {
		err = fmt.Errorf("failed to create pipeline layout for %s: %w", info.Name, err)
		core.LogError(err.Error())
		return nil, err
	}

	stages, err := b.loadStages(info.Shaders)
	defer func() {
		for _, s := range stages {
			b.dev.DestroyShaderModule(s.Module)
		}
	}()
	if err != nil {
		b.dev.DestroyPipelineLayout(layout)
		return nil, err
	}

	pass := &Pass{
		Name:       info.Name,
		Layout:     layout,
		Sets:       info.Sets,
		PushStages: info.PushConstantStages,
		PushSize:   info.PushConstantSize,
	}
	switch info.Kind {
	case KindRayTracing:
		pass.BindPoint = gpu.BindPointRayTracing
		err = b.buildRayTracing(pass, info, stages)
	default:
		pass.BindPoint = gpu.BindPointGraphics
		pass.Pipeline, err = b.dev.CreateGraphicsPipeline(gpu.GraphicsPipelineDesc{
			Layout:       layout,
			Stages:       stages,
			Vertex:       info.Vertex,
			ColorFormats: info.ColorFormats,
			DepthFormat:  info.DepthFormat,
			DepthTest:    info.DepthTest,
			DepthWrite:   info.DepthWrite,
			DepthCompare: info.DepthCompare,
			Blend:        info.Blend,
			Cull:         info.Cull,
			Wireframe:    info.Wireframe,
		})
	}
	if err != nil {
		if pass.Pipeline != 0 {
			b.dev.DestroyPipeline(pass.Pipeline)
		}
		b.dev.DestroyPipelineLayout(layout)
		err = fmt.Errorf("failed to create pipeline %s: %w", info.Name, err)
		core.LogError(err.Error())
		return nil, err
	}

	b.passes = append(b.passes, pass)
	b.log.Debug("pass built", "name", info.Name, "sets", info.Sets, "shaders", len(stages))
	return pass, nil
}

func (b *Builder) checkRayTracing() error {
	if !b.dev.Features().RayTracing || b.dev.Limits().MaxRayRecursionDepth == 0 {
		core.LogError(gpu.ErrRayTracingUnsupported.Error())
		return gpu.ErrRayTracingUnsupported
	}
	return nil
}

func (b *Builder) loadStages(names []string) ([]gpu.ShaderStageInfo, error) {
	stages := make([]gpu.ShaderStageInfo, 0, len(names))
	for _, name := range names {
		stage, err := StageFromName(name)
		if err != nil {
			return stages, err
		}
		code, err := b.shaders.LoadShader(name)
		if err != nil {
			err = fmt.Errorf("failed to load shader %s: %w", name, err)
			core.LogError(err.Error())
			return stages, err
		}
		module, err := b.dev.CreateShaderModule(code)
		if err != nil {
			err = fmt.Errorf("failed to create shader module %s: %w", name, err)
			core.LogError(err.Error())
			return stages, err
		}
		stages = append(stages, gpu.ShaderStageInfo{Stage: stage, Module: module, Entry: "main"})
	}
	return stages, nil
}

// rayTracingStages orders stages as raygen, miss, shadow miss, closest hit,
// any hit. The two miss shaders keep their listed order.
func rayTracingStages(stages []gpu.ShaderStageInfo) ([]gpu.ShaderStageInfo, error) {
	var rgen, chit, ahit, miss []gpu.ShaderStageInfo
	for _, s := range stages {
		switch s.Stage {
		case gpu.ShaderStageRaygen:
			rgen = append(rgen, s)
		case gpu.ShaderStageMiss:
			miss = append(miss, s)
		case gpu.ShaderStageClosestHit:
			chit = append(chit, s)
		case gpu.ShaderStageAnyHit:
			ahit = append(ahit, s)
		}
	}
	if len(rgen) != 1 || len(miss) != 2 || len(chit) != 1 || len(ahit) != 1 {
		return nil, ErrInvalidRayTracingShaders
	}
	out := append(rgen, miss...)
	out = append(out, chit...)
	return append(out, ahit...), nil
}

var rayTracingGroups = []gpu.ShaderGroup{
	{Kind: gpu.ShaderGroupGeneral, General: 0, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
	{Kind: gpu.ShaderGroupGeneral, General: 1, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
	{Kind: gpu.ShaderGroupGeneral, General: 2, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
	{Kind: gpu.ShaderGroupTrianglesHit, General: gpu.ShaderUnused, ClosestHit: 3, AnyHit: 4, Intersection: gpu.ShaderUnused},
}

const (
	rayTracingMissGroups = 2
	rayTracingHitGroups  = 1
)

func (b *Builder) buildRayTracing(pass *Pass, info InitInfo, stages []gpu.ShaderStageInfo) error {
	ordered, err := rayTracingStages(stages)
	if err != nil {
		return err
	}
	recursion := min(max(info.MaxRecursion, 1), b.dev.Limits().MaxRayRecursionDepth)
	if pass.Pipeline, err = b.dev.CreateRayTracingPipeline(gpu.RayTracingPipelineDesc{
		Layout:       pass.Layout,
		Stages:       ordered,
		Groups:       rayTracingGroups,
		MaxRecursion: recursion,
	}); err != nil {
		return err
	}
	pass.SBT, err = buildSBT(b.dev, b.allocator, b.submitter, pass.Pipeline, pass.Name, rayTracingMissGroups, rayTracingHitGroups)
	return err
}

// Destroy releases every pass built so far. SBT buffers belong to the
// allocator's deletion queue.
func (b *Builder) Destroy() {
	for _, p := range b.passes {
		b.dev.DestroyPipeline(p.Pipeline)
		b.dev.DestroyPipelineLayout(p.Layout)
	}
	b.passes = nil
}
