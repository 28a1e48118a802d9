//go:build mage

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
)

type Build mg.Namespace

const (
	shaderSrcDir = "shaders"
	shaderOutDir = "assets/shaders"
	setsHeader   = "shaders/common/sets.glsl"
)

var shaderStages = []string{"vert", "frag", "rgen", "rmiss", "rchit", "rahit"}

// Compiles every GLSL stage under shaders/ into assets/shaders/<name>.<stage>.spv.
func (Build) Shaders() error {
	return buildShaders()
}

// Writes the per-pass descriptor set positions included by every shader.
func (Build) SetsHeader() error {
	return writeSetsHeader()
}

// Builds the engine binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/lumen", "."), withStream())
	return err
}

// writeSetsHeader leaves an up to date header untouched so its timestamp
// only moves when the sets of a pass change.
func writeSetsHeader() error {
	header := []byte(descriptors.GLSLHeader())
	if old, err := os.ReadFile(setsHeader); err == nil && bytes.Equal(old, header) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(setsHeader), 0o755); err != nil {
		return err
	}
	return os.WriteFile(setsHeader, header, 0o644)
}

// buildShaders recompiles stages older than their source. A changed set
// header forces every stage to rebuild.
func buildShaders() error {
	if err := writeSetsHeader(); err != nil {
		return err
	}
	if err := os.MkdirAll(shaderOutDir, 0o755); err != nil {
		return err
	}
	for _, stage := range shaderStages {
		sources, err := filepath.Glob(filepath.Join(shaderSrcDir, "*."+stage))
		if err != nil {
			return err
		}
		for _, src := range sources {
			out := filepath.Join(shaderOutDir, filepath.Base(src)+".spv")
			stale, err := target.Path(out, src, setsHeader)
			if err != nil {
				return err
			}
			if !stale {
				continue
			}
			if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", src, "-o", out), withStream()); err != nil {
				return fmt.Errorf("compiling %s: %w", src, err)
			}
		}
	}
	return nil
}
