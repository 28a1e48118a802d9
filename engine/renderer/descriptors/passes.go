package descriptors

// PassSets names the sets one pipeline binds.
type PassSets struct {
	Name string
	Sets SetMask
}

var (
	GBufferPass   = PassSets{Name: "gbuffer", Sets: MaskOf(SetGlobal, SetObjects, SetDiffuseTextures)}
	SkyboxPass    = PassSets{Name: "skybox", Sets: MaskOf(SetGlobal, SetSkybox)}
	FXAAPass      = PassSets{Name: "fxaa", Sets: MaskOf(SetPostProcess)}
	DenoisePass   = PassSets{Name: "denoise", Sets: MaskOf(SetPostProcess)}
	MotionPass    = PassSets{Name: "motion-vectors", Sets: MaskOf(SetGlobal, SetObjects)}
	OverlayPass   = PassSets{Name: "debug-overlay", Sets: MaskOf(SetDiffuseTextures)}
	PathTracePass = PassSets{Name: "path-trace", Sets: MaskOf(SetGlobal, SetObjects, SetDiffuseTextures, SetRayTracingPerFrame, SetRayTracingGeneral)}

	// LightingPass drops SetTLAS without ray tracing. It is the highest set
	// of the mask, so every other position is unchanged.
	LightingPass = PassSets{Name: "lighting", Sets: MaskOf(SetGlobal, SetGBuffer, SetTLAS)}
)

// Passes lists every pipeline in the order GLSLHeader emits them.
var Passes = []PassSets{
	GBufferPass,
	LightingPass,
	SkyboxPass,
	FXAAPass,
	MotionPass,
	PathTracePass,
	DenoisePass,
	OverlayPass,
}

// Without returns p minus the sets in drop.
func (p PassSets) Without(drop SetMask) PassSets {
	p.Sets &^= drop
	return p
}
