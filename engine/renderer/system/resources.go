package system

import (
	"fmt"
	"runtime"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/alloc"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/scene"
)

// skyColor fills the skybox cube until a sky texture source exists.
var skyColor = []byte{135, 170, 215, 255}

// uploadMeshes creates the vertex and index buffers of every mesh. With ray
// tracing the buffers are also acceleration structure inputs.
func (r *Renderer) uploadMeshes(meshes []*scene.Mesh) error {
	vertexUsage := gpu.BufferUsageVertex
	indexUsage := gpu.BufferUsageIndex
	dstStage := gpu.StageVertexInput
	if r.rayTracing {
		rt := gpu.BufferUsageDeviceAddress | gpu.BufferUsageAccelStructureInput | gpu.BufferUsageStorage
		vertexUsage |= rt
		indexUsage |= rt
		dstStage |= gpu.StageAccelStructureBuild | gpu.StageRayTracingShader
	}

	for _, m := range meshes {
		if len(m.Data.Vertices) == 0 || len(m.Data.Indices) == 0 {
			r.log.Warn("skipping empty mesh", "mesh", m.Data.Name)
			continue
		}
		var err error
		m.VertexBuffer, err = r.allocator.UploadBuffer(r.immediate, scene.EncodeVertices(m.Data.Vertices), alloc.BufferInfo{
			Usage: vertexUsage,
			Name:  fmt.Sprintf("mesh%d.vertices", m.ID),
		}, dstStage, gpu.AccessVertexAttributeRead|gpu.AccessShaderRead)
		if err != nil {
			return err
		}
		m.IndexBuffer, err = r.allocator.UploadBuffer(r.immediate, scene.EncodeIndices(m.Data.Indices), alloc.BufferInfo{
			Usage: indexUsage,
			Name:  fmt.Sprintf("mesh%d.indices", m.ID),
		}, dstStage, gpu.AccessIndexRead|gpu.AccessShaderRead)
		if err != nil {
			return err
		}
	}
	r.log.Info("meshes uploaded", "count", len(meshes))
	return nil
}

// textureKinds reports how each scene texture is used so a failed load gets
// the right placeholder. The first material referencing a texture wins.
func textureKinds(s *scene.Scene) []loaders.TextureKind {
	kinds := make([]loaders.TextureKind, len(s.Textures))
	seen := make([]bool, len(s.Textures))
	mark := func(i int, kind loaders.TextureKind) {
		if i >= 0 && i < len(kinds) && !seen[i] {
			kinds[i] = kind
			seen[i] = true
		}
	}
	for _, m := range s.Materials {
		mark(m.DiffuseIndex, loaders.TextureDiffuse)
		mark(m.MetallicIndex, loaders.TextureMetallic)
		mark(m.RoughnessIndex, loaders.TextureRoughness)
		mark(m.NormalIndex, loaders.TextureNormal)
	}
	return kinds
}

func (r *Renderer) uploadPixels(px *loaders.Pixels, format gpu.Format, name string) (*alloc.Image, error) {
	return r.allocator.UploadImage(r.immediate, px.Data, alloc.ImageInfo{
		Format: format,
		Extent: gpu.Extent3D{Width: px.Width, Height: px.Height, Depth: 1},
		Name:   name,
	})
}

// decodeTextures loads the scene textures on a worker pool. Missing files
// have already been replaced by placeholders in the asset layer.
func (r *Renderer) decodeTextures(paths []string, kinds []loaders.TextureKind) ([]*loaders.Pixels, error) {
	pixels := make([]*loaders.Pixels, len(paths))
	if len(paths) == 0 {
		return pixels, nil
	}
	jobs, err := core.NewJobSystem(min(runtime.NumCPU(), len(paths)), len(paths))
	if err != nil {
		return nil, err
	}
	for i, path := range paths {
		jobs.Submit(core.JobTask{
			Name: path,
			Run: func() error {
				pixels[i] = r.assets.LoadTexture(path, kinds[i])
				return nil
			},
		})
	}
	jobs.Wait()
	return pixels, jobs.Shutdown()
}

// uploadTextures uploads every scene texture in index order.
func (r *Renderer) uploadTextures(s *scene.Scene) error {
	kinds := textureKinds(s)
	pixels, err := r.decodeTextures(s.Textures, kinds)
	if err != nil {
		return err
	}
	for i, path := range s.Textures {
		format := gpu.FormatR8G8B8A8Srgb
		if kinds[i] != loaders.TextureDiffuse {
			format = gpu.FormatR8G8B8A8Unorm
		}
		img, err := r.uploadPixels(pixels[i], format, path)
		if err != nil {
			return err
		}
		r.textures = append(r.textures, img)
	}

	sky, err := r.allocator.UploadImage(r.immediate, repeat(skyColor, 6), alloc.ImageInfo{
		Format: gpu.FormatR8G8B8A8Srgb,
		Extent: gpu.Extent3D{Width: 1, Height: 1, Depth: 1},
		Cube:   true,
		Name:   "skybox",
	})
	if err != nil {
		return err
	}
	r.skybox = sky
	r.log.Info("textures uploaded", "count", len(r.textures))
	return nil
}

func repeat(b []byte, n int) []byte {
	out := make([]byte, 0, len(b)*n)
	for i := 0; i < n; i++ {
		out = append(out, b...)
	}
	return out
}

func (r *Renderer) createSamplers() error {
	var err error
	r.linearSampler, err = r.allocator.CreateSampler(gpu.SamplerDesc{
		MagFilter:     gpu.FilterLinear,
		MinFilter:     gpu.FilterLinear,
		AddressMode:   gpu.AddressRepeat,
		MaxAnisotropy: 16,
		MaxLod:        1000,
	})
	if err != nil {
		return err
	}
	r.nearestSampler, err = r.allocator.CreateSampler(gpu.SamplerDesc{
		MagFilter:   gpu.FilterNearest,
		MinFilter:   gpu.FilterNearest,
		AddressMode: gpu.AddressClampToEdge,
	})
	return err
}

// createUniforms allocates one host-visible buffer with a padded camera and
// lighting region per frame in flight.
func (r *Renderer) createUniforms() error {
	r.uniformAlign = r.dev.Limits().MinUniformBufferOffsetAlignment
	r.uniformStride = UniformStride(scene.CameraSize, scene.LightingSize, r.uniformAlign)
	var err error
	r.uniforms, err = r.allocator.CreateBuffer(alloc.BufferInfo{
		Size:   r.uniformStride * uint64(r.framesInFlight),
		Usage:  gpu.BufferUsageUniform,
		Memory: gpu.MemoryCPUToGPU,
		Name:   "scene-uniforms",
	}, alloc.LifetimeManaged)
	return err
}

// buildAccelStructures builds one bottom-level structure per uploaded mesh
// and a top-level structure with one instance per render object, in draw
// order so the instance custom index is the object buffer index.
func (r *Renderer) buildAccelStructures() error {
	b, err := accel.NewBuilder(r.dev, r.allocator, r.immediate, r.cfg.BlasBatchBudget())
	if err != nil {
		return err
	}
	r.accel = b

	var inputs []accel.MeshInput
	for _, m := range r.scene.Meshes {
		if m.VertexBuffer == nil {
			continue
		}
		m.BlasIndex = len(inputs)
		inputs = append(inputs, accel.MeshInput{
			Name:          m.Data.Name,
			VertexAddress: m.VertexBuffer.Address,
			VertexStride:  scene.VertexSize,
			VertexCount:   uint32(len(m.Data.Vertices)),
			IndexAddress:  m.IndexBuffer.Address,
			IndexCount:    uint32(len(m.Data.Indices)),
			Opaque:        true,
		})
	}
	flags := gpu.BuildPreferFastTrace
	if r.cfg.BlasCompaction {
		flags |= gpu.BuildAllowCompaction
	}
	if err := b.BuildBlas(inputs, flags); err != nil {
		return err
	}

	instances := make([]accel.Instance, 0, len(r.objects))
	for i, o := range r.objects {
		if o.Mesh.BlasIndex < 0 {
			continue
		}
		instances = append(instances, accel.Instance{
			Transform:   o.Transform,
			Blas:        o.Mesh.BlasIndex,
			CustomIndex: uint32(i),
			Mask:        0xFF,
			Flags:       accel.InstanceTriangleCullDisable,
		})
	}
	return b.BuildTlas(instances, false, gpu.BuildPreferFastTrace|gpu.BuildAllowUpdate)
}
