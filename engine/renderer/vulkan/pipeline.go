package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// maxPushConstantRanges is the most ranges that fit the guaranteed 128
// bytes of push constants at 4-byte alignment.
const maxPushConstantRanges = 32

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push []gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	if len(push) > maxPushConstantRanges {
		err := fmt.Errorf("cannot have more than %d push constant ranges, got %d", maxPushConstantRanges, len(push))
		core.LogError(err.Error())
		return 0, err
	}
	layouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		l, ok := d.setLayouts.get(uint64(s))
		if !ok {
			err := fmt.Errorf("pipeline layout with unknown set layout %d", s)
			core.LogError(err.Error())
			return 0, err
		}
		layouts[i] = l.handle
	}
	ranges := make([]vk.PushConstantRange, 0, len(push))
	for _, r := range push {
		stages := vkShaderStages(r.Stages)
		if stages == 0 {
			continue
		}
		ranges = append(ranges, vk.PushConstantRange{
			StageFlags: stages,
			Offset:     r.Offset,
			Size:       r.Size,
		})
	}

	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	err := d.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreatePipelineLayout(d.handle, &info, nil, &layout), "vkCreatePipelineLayout")
	})
	if err != nil {
		return 0, err
	}
	return gpu.PipelineLayout(d.pipelineLayouts.add(layout)), nil
}

func (d *Device) DestroyPipelineLayout(h gpu.PipelineLayout) {
	if l, ok := d.pipelineLayouts.remove(uint64(h)); ok {
		d.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipelineLayout(d.handle, l, nil)
			return nil
		})
	}
}

func (d *Device) shaderStages(stages []gpu.ShaderStageInfo) ([]vk.PipelineShaderStageCreateInfo, error) {
	out := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stage, err := vkShaderStage(s.Stage)
		if err != nil {
			return nil, err
		}
		module, ok := d.shaders.get(uint64(s.Module))
		if !ok {
			return nil, fmt.Errorf("unknown shader module %d", s.Module)
		}
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		out[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString(entry),
		}
	}
	return out, nil
}

// CreateGraphicsPipeline builds a pipeline with dynamic viewport and
// scissor against a render pass compatible with desc's attachment formats.
func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	layout, ok := d.pipelineLayouts.get(uint64(desc.Layout))
	if !ok {
		err := fmt.Errorf("graphics pipeline with unknown layout %d", desc.Layout)
		core.LogError(err.Error())
		return 0, err
	}
	stages, err := d.shaderStages(desc.Stages)
	if err != nil {
		err = fmt.Errorf("graphics pipeline stages: %w", err)
		core.LogError(err.Error())
		return 0, err
	}
	pass, err := d.renderPass(pipelineRenderPassKey(desc.ColorFormats, desc.DepthFormat))
	if err != nil {
		return 0, err
	}

	// Viewport and scissor are dynamic; only the counts matter here.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vkCullMode(desc.Cull),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	if desc.Wireframe {
		rasterizer.PolygonMode = vk.PolygonModeLine
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vkCompareOp(desc.DepthCompare)
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	writeMask := vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorFormats))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:    vk.False,
			ColorWriteMask: writeMask,
		}
		if desc.Blend {
			blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
				BlendEnable:         vk.True,
				SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
				DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        vk.BlendOpAdd,
				SrcAlphaBlendFactor: vk.BlendFactorOne,
				DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				AlphaBlendOp:        vk.BlendOpAdd,
				ColorWriteMask:      writeMask,
			}
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Fullscreen passes generate their vertices and bind no buffers.
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if v := desc.Vertex; v != nil {
		attributes := make([]vk.VertexInputAttributeDescription, len(v.Attributes))
		for i, a := range v.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   vkFormat(a.Format),
				Offset:   a.Offset,
			}
		}
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    v.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	err = d.locks.SafeCall(PipelineManagement, func() error {
		return check(vk.CreateGraphicsPipelines(d.handle, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, nil, pipelines), "vkCreateGraphicsPipelines")
	})
	if err != nil {
		return 0, err
	}
	d.log.Debug("graphics pipeline created", "stages", len(stages), "colors", len(desc.ColorFormats), "depth", desc.DepthFormat != gpu.FormatUndefined)
	return gpu.Pipeline(d.pipelines.add(pipelines[0])), nil
}

func (d *Device) CreateRayTracingPipeline(gpu.RayTracingPipelineDesc) (gpu.Pipeline, error) {
	return 0, gpu.ErrRayTracingUnsupported
}

func (d *Device) ShaderGroupHandles(gpu.Pipeline, uint32, uint32) ([]byte, error) {
	return nil, gpu.ErrRayTracingUnsupported
}

func (d *Device) DestroyPipeline(h gpu.Pipeline) {
	if p, ok := d.pipelines.remove(uint64(h)); ok {
		d.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(d.handle, p, nil)
			return nil
		})
	}
}
