package system

import (
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/pipeline"
	"github.com/spaghettifunk/lumen/engine/scene"
)

const (
	sceneStages   = gpu.ShaderStageAllGraphics | gpu.ShaderStageRaygen | gpu.ShaderStageClosestHit | gpu.ShaderStageMiss
	materialStage = gpu.ShaderStageFragment | gpu.ShaderStageClosestHit | gpu.ShaderStageAnyHit
	rayPushStages = gpu.ShaderStageRaygen | gpu.ShaderStageClosestHit | gpu.ShaderStageMiss | gpu.ShaderStageAnyHit
	pushSize      = 16
)

type passes struct {
	gbuffer  *pipeline.Pass
	lighting *pipeline.Pass
	skybox   *pipeline.Pass
	motion   *pipeline.Pass
	trace    *pipeline.Pass
	post     *pipeline.Pass
	overlay  *pipeline.Pass
}

// registerDescriptors records every binding of every set. It runs once,
// before the manager allocates anything.
func (r *Renderer) registerDescriptors() error {
	sets := r.sets
	n := r.framesInFlight

	uniforms := make([]gpu.BufferInfo, n)
	objects := make([]gpu.BufferInfo, n)
	for f := 0; f < n; f++ {
		uniforms[f] = gpu.BufferInfo{Buffer: r.uniforms.Handle, Offset: UniformOffset(f, scene.CameraSize, scene.LightingSize, r.uniformAlign), Range: sceneBlockSize}
		objects[f] = r.ring.Frame(f).ObjectBuffer.Info()
	}
	if err := sets.RegisterBuffer(descriptors.SetGlobal, sceneStages, gpu.DescriptorUniformBuffer, uniforms, 0, 1, false, true); err != nil {
		return err
	}
	if err := sets.RegisterBuffer(descriptors.SetObjects, sceneStages, gpu.DescriptorStorageBuffer, objects, 0, 1, false, true); err != nil {
		return err
	}

	textures := make([]gpu.ImageInfo, 0, len(r.textures)+1)
	for _, img := range r.textures {
		textures = append(textures, img.Sampled(r.linearSampler))
	}
	if r.overlay != nil {
		r.overlay.atlasIndex = int32(len(textures))
		textures = append(textures, r.overlay.atlas.Sampled(r.linearSampler))
	}
	if err := sets.RegisterImage(descriptors.SetDiffuseTextures, materialStage, gpu.DescriptorCombinedImageSampler, textures, 0, descriptors.MaxBindlessDescriptors, true, false); err != nil {
		return err
	}

	t := r.targets
	post := []gpu.ImageInfo{t.intermediate.Sampled(r.linearSampler)}
	if r.pathTrace {
		post = append(post, t.motion.Sampled(r.nearestSampler))
	}
	for i, info := range post {
		if err := sets.RegisterImage(descriptors.SetPostProcess, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, []gpu.ImageInfo{info}, uint32(i), 1, false, false); err != nil {
			return err
		}
	}

	if !r.pathTrace {
		if err := sets.RegisterImage(descriptors.SetSkybox, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, []gpu.ImageInfo{r.skybox.Sampled(r.linearSampler)}, 0, 1, false, false); err != nil {
			return err
		}
		for i, img := range []gpu.ImageInfo{t.albedo.Sampled(r.nearestSampler), t.normal.Sampled(r.nearestSampler), t.position.Sampled(r.nearestSampler)} {
			if err := sets.RegisterImage(descriptors.SetGBuffer, gpu.ShaderStageFragment, gpu.DescriptorCombinedImageSampler, []gpu.ImageInfo{img}, uint32(i), 1, false, false); err != nil {
				return err
			}
		}
	}

	if r.accel != nil {
		if err := r.registerRayTracing(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) registerRayTracing() error {
	sets := r.sets
	if err := r.accel.Register(sets, 0); err != nil {
		return err
	}

	var vertices, indices []gpu.BufferInfo
	for _, m := range r.scene.Meshes {
		if m.BlasIndex < 0 {
			continue
		}
		vertices = append(vertices, m.VertexBuffer.Info())
		indices = append(indices, m.IndexBuffer.Info())
	}
	hit := gpu.ShaderStageClosestHit | gpu.ShaderStageAnyHit
	if err := sets.RegisterBuffer(descriptors.SetRayTracingGeneral, hit, gpu.DescriptorStorageBuffer, vertices, 1, uint32(len(vertices)), false, false); err != nil {
		return err
	}
	if err := sets.RegisterBuffer(descriptors.SetRayTracingGeneral, hit, gpu.DescriptorStorageBuffer, indices, 2, uint32(len(indices)), false, false); err != nil {
		return err
	}

	if !r.pathTrace {
		return nil
	}
	t := r.targets
	for i, img := range []gpu.ImageInfo{t.intermediate.Storage(), t.previous.Storage(), t.motion.Storage(), t.position.Storage(), t.prevPosition.Storage()} {
		if err := sets.RegisterImage(descriptors.SetRayTracingPerFrame, gpu.ShaderStageRaygen, gpu.DescriptorStorageImage, []gpu.ImageInfo{img}, uint32(i), 1, false, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) buildPasses() error {
	var err error
	build := func(dst **pipeline.Pass, info pipeline.InitInfo) {
		if err != nil {
			return
		}
		*dst, err = r.builder.Build(info)
	}
	swapchain := []gpu.Format{r.dev.Swapchain().Format}
	fullscreen := "fullscreen.vert"

	if r.pathTrace {
		build(&r.passes.motion, pipeline.InitInfo{
			Name:         descriptors.MotionPass.Name,
			Sets:         descriptors.MotionPass.Sets,
			Shaders:      []string{"motion.vert", "motion.frag"},
			ColorFormats: []gpu.Format{motionFormat, positionFormat},
			DepthFormat:  depthFormat,
			DepthTest:    true,
			DepthWrite:   true,
			DepthCompare: gpu.CompareLess,
			Cull:         gpu.CullBack,
			Vertex:       scene.VertexLayout(),
		})
		build(&r.passes.trace, pipeline.InitInfo{
			Name:               descriptors.PathTracePass.Name,
			Kind:               pipeline.KindRayTracing,
			Sets:               descriptors.PathTracePass.Sets,
			Shaders:            []string{"raytrace.rgen", "raytrace.rmiss", "shadow.rmiss", "raytrace.rchit", "raytrace.rahit"},
			PushConstantSize:   pushSize,
			PushConstantStages: rayPushStages,
			MaxRecursion:       2,
		})
		build(&r.passes.post, pipeline.InitInfo{
			Name:               descriptors.DenoisePass.Name,
			Sets:               descriptors.DenoisePass.Sets,
			Shaders:            []string{fullscreen, "denoise.frag"},
			ColorFormats:       swapchain,
			PushConstantSize:   pushSize,
			PushConstantStages: gpu.ShaderStageFragment,
		})
	} else {
		build(&r.passes.gbuffer, pipeline.InitInfo{
			Name:         descriptors.GBufferPass.Name,
			Sets:         descriptors.GBufferPass.Sets,
			Shaders:      []string{"gbuffer.vert", "gbuffer.frag"},
			ColorFormats: []gpu.Format{albedoFormat, normalFormat, positionFormat},
			DepthFormat:  depthFormat,
			DepthTest:    true,
			DepthWrite:   true,
			DepthCompare: gpu.CompareLess,
			Cull:         gpu.CullBack,
			Vertex:       scene.VertexLayout(),
		})
		lighting := descriptors.LightingPass
		if r.accel == nil {
			lighting = lighting.Without(descriptors.MaskOf(descriptors.SetTLAS))
		}
		build(&r.passes.lighting, pipeline.InitInfo{
			Name:               lighting.Name,
			Sets:               lighting.Sets,
			Shaders:            []string{fullscreen, "lighting.frag"},
			ColorFormats:       []gpu.Format{intermediateFormat},
			PushConstantSize:   pushSize,
			PushConstantStages: gpu.ShaderStageFragment,
		})
		build(&r.passes.skybox, pipeline.InitInfo{
			Name:         descriptors.SkyboxPass.Name,
			Sets:         descriptors.SkyboxPass.Sets,
			Shaders:      []string{"skybox.vert", "skybox.frag"},
			ColorFormats: []gpu.Format{intermediateFormat},
			DepthFormat:  depthFormat,
			DepthTest:    true,
			DepthCompare: gpu.CompareLessOrEqual,
		})
		build(&r.passes.post, pipeline.InitInfo{
			Name:               descriptors.FXAAPass.Name,
			Sets:               descriptors.FXAAPass.Sets,
			Shaders:            []string{fullscreen, "fxaa.frag"},
			ColorFormats:       swapchain,
			PushConstantSize:   pushSize,
			PushConstantStages: gpu.ShaderStageFragment,
		})
	}

	if r.overlay != nil {
		build(&r.passes.overlay, pipeline.InitInfo{
			Name:               descriptors.OverlayPass.Name,
			Sets:               descriptors.OverlayPass.Sets,
			Shaders:            []string{"overlay.vert", "overlay.frag"},
			ColorFormats:       swapchain,
			Blend:              true,
			Vertex:             overlayLayout(),
			PushConstantSize:   pushSize,
			PushConstantStages: gpu.ShaderStageVertex | gpu.ShaderStageFragment,
		})
	}
	return err
}
