// Package assets indexes the asset directory and loads shader blobs,
// textures and fonts from it.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
)

var ErrAssetNotFound = errors.New("asset not found")

type Kind int

const (
	KindNone Kind = iota
	KindShader
	KindTexture
	KindFont
	KindModel
)

type AssetInfo struct {
	Path       string
	Kind       Kind
	LastLoaded time.Time
}

type Manager struct {
	root      string
	shaderDir string

	assets map[string]AssetInfo
	mutex  sync.RWMutex

	shaders  loaders.ShaderLoader
	textures loaders.TextureLoader
	fonts    loaders.FontLoader

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	changes  chan string
	isClosed bool
}

// NewManager indexes root. Shader blobs are looked up in root/shaderDir.
func NewManager(root, shaderDir string) (*Manager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:      root,
		shaderDir: shaderDir,
		assets:    make(map[string]AssetInfo),
		fsnotify:  fsWatch,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		changes:   make(chan string, 16),
	}, nil
}

func (am *Manager) Initialize() error {
	if err := am.watchRecursive(am.root); err != nil {
		err = fmt.Errorf("failed to index assets in %s: %w", am.root, err)
		core.LogError(err.Error())
		return err
	}
	go am.start()
	core.LogInfo("indexed %d assets in %s", am.Count(), am.root)
	return nil
}

// Changes reports shader blobs rewritten on disk, relative to the root.
// Events are dropped when nobody is reading.
func (am *Manager) Changes() <-chan string {
	return am.changes
}

func (am *Manager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Lookup returns the index entry of a path relative to the root.
func (am *Manager) Lookup(rel string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.ToSlash(filepath.Clean(rel))]
	return info, ok
}

func (am *Manager) touch(rel string) (AssetInfo, error) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	key := filepath.ToSlash(filepath.Clean(rel))
	info, ok := am.assets[key]
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetNotFound, key)
	}
	info.LastLoaded = time.Now()
	am.assets[key] = info
	return info, nil
}

// LoadShader returns the compiled blob for a name such as "mesh.vert";
// a trailing ".spv" is optional.
func (am *Manager) LoadShader(name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".spv") {
		name += ".spv"
	}
	info, err := am.touch(filepath.Join(am.shaderDir, name))
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return am.shaders.Load(filepath.Join(am.root, info.Path))
}

// LoadTexture loads an image, falling back to the placeholder for kind when
// the file is missing or cannot be decoded. Relative paths start at the root.
func (am *Manager) LoadTexture(path string, kind loaders.TextureKind) *loaders.Pixels {
	if !filepath.IsAbs(path) {
		path = filepath.Join(am.root, path)
	}
	px, err := am.textures.Load(path)
	if err != nil {
		core.LogWarn("using placeholder texture for %s: %s", path, err)
		return loaders.Placeholder(kind)
	}
	return px
}

func (am *Manager) LoadFont(rel string) (*loaders.Font, error) {
	info, err := am.touch(rel)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return am.fonts.Load(filepath.Join(am.root, info.Path))
}

// Path resolves a root-relative path.
func (am *Manager) Path(rel string) string {
	return filepath.Join(am.root, rel)
}

func (am *Manager) Close() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	close(am.done)
	<-am.stopped
	return nil
}

func (am *Manager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *Manager) handleEvent(e fsnotify.Event) {
	if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err)
			}
		}
		return
	}
	rel, err := filepath.Rel(am.root, e.Name)
	if err != nil {
		return
	}
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if am.index(rel) == KindShader && e.Op&fsnotify.Write != 0 {
			select {
			case am.changes <- filepath.ToSlash(rel):
			default:
			}
		}
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		am.mutex.Lock()
		delete(am.assets, filepath.ToSlash(rel))
		am.mutex.Unlock()
	}
}

// watchRecursive watches every directory under path and indexes its files.
func (am *Manager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		if rel, err := filepath.Rel(am.root, walkPath); err == nil {
			am.index(rel)
		}
		return nil
	})
}

func (am *Manager) index(rel string) Kind {
	kind := determineAssetKind(rel)
	if kind == KindNone {
		return kind
	}
	key := filepath.ToSlash(filepath.Clean(rel))
	am.mutex.Lock()
	am.assets[key] = AssetInfo{Path: key, Kind: kind}
	am.mutex.Unlock()
	return kind
}

func determineAssetKind(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return KindShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp", ".tga":
		return KindTexture
	case ".fnt":
		return KindFont
	case ".obj", ".gltf", ".glb":
		return KindModel
	default:
		return KindNone
	}
}
