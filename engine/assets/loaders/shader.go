package loaders

import (
	"fmt"
	"os"
)

// ShaderLoader reads compiled shader blobs. The contents are opaque; only a
// successful read is checked.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("shader %s is empty", path)
	}
	return data, nil
}
