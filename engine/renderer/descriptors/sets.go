package descriptors

import (
	"fmt"
	"math/bits"
	"strings"
)

// SetID names a registered descriptor set. GetLayouts and GetDescriptorSets
// pack the sets of a mask in this order and passes bind them from set zero,
// so a shader's `set = N` is the position of the set within its pass mask.
// Shaders take those positions from the header written by GLSLHeader.
type SetID uint32

const (
	SetGlobal SetID = iota
	SetObjects
	SetDiffuseTextures
	SetSkybox
	SetGBuffer
	SetPostProcess
	SetRayTracingPerFrame
	SetRayTracingGeneral
	SetTLAS

	SetCount
)

var setNames = [SetCount]string{
	SetGlobal:             "global",
	SetObjects:            "objects",
	SetDiffuseTextures:    "diffuse-textures",
	SetSkybox:             "skybox",
	SetGBuffer:            "gbuffer",
	SetPostProcess:        "post-process",
	SetRayTracingPerFrame: "ray-tracing-per-frame",
	SetRayTracingGeneral:  "ray-tracing-general",
	SetTLAS:               "tlas",
}

func (id SetID) String() string {
	if id < SetCount {
		return setNames[id]
	}
	return "unknown"
}

// SetMask selects a subset of registered sets, one bit per SetID.
type SetMask uint32

func MaskOf(ids ...SetID) SetMask {
	var m SetMask
	for _, id := range ids {
		m |= 1 << id
	}
	return m
}

func (m SetMask) Has(id SetID) bool {
	return m&(1<<id) != 0
}

// IDs lists the selected sets in ascending order.
func (m SetMask) IDs() []SetID {
	var ids []SetID
	for id := SetID(0); id < SetCount; id++ {
		if m.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m SetMask) String() string {
	ids := m.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, "|")
}

// Index returns the position of id among the sets of m, which is where a
// pipeline bound with m sees it.
func (m SetMask) Index(id SetID) (uint32, bool) {
	if !m.Has(id) {
		return 0, false
	}
	return uint32(bits.OnesCount32(uint32(m) & (1<<id - 1))), true
}

// macroName turns "post-process" into "POST_PROCESS".
func macroName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// GLSLHeader renders, for every pass in Passes, the position of each of its
// sets as a <PASS>_SET_<NAME> define. The shader build writes it to
// shaders/common/sets.glsl before compiling.
func GLSLHeader() string {
	var b strings.Builder
	b.WriteString("// Generated from descriptors.Passes. Do not edit.\n")
	b.WriteString("#ifndef LUMEN_SETS_GLSL\n#define LUMEN_SETS_GLSL\n")
	for _, p := range Passes {
		fmt.Fprintf(&b, "\n// %s: %s\n", p.Name, p.Sets)
		for _, id := range p.Sets.IDs() {
			n, _ := p.Sets.Index(id)
			fmt.Fprintf(&b, "#define %s_SET_%s %d\n", macroName(p.Name), macroName(id.String()), n)
		}
	}
	b.WriteString("\n#endif\n")
	return b.String()
}
