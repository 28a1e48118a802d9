package engine

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/system"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Every subsystem has been released
	EngineStageShutdown
)

const (
	moveSpeed       = 5.0
	fastMoveSpeed   = 20.0
	lookSensitivity = 0.003
)

type Engine struct {
	currentStage Stage
	configPath   string
	cfg          *config.Config
	stop         atomic.Bool

	events   *core.EventBus
	input    *core.InputState
	platform *platform.Platform
	device   *vulkan.Device
	assets   *assets.Manager
	watcher  *config.Watcher
	renderer *system.Renderer

	scene   *scene.Scene
	camera  *scene.Camera
	toggles scene.Toggles
	clock   *core.Clock
}

// New loads the configuration at configPath. Nothing else is created until
// Initialize.
func New(configPath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.Log.Level)

	events := core.NewEventBus()
	input := core.NewInputState(events)
	return &Engine{
		currentStage: EngineStageUninitialized,
		configPath:   configPath,
		cfg:          cfg,
		events:       events,
		input:        input,
		platform:     platform.New(input, events),
		camera:       scene.NewCamera(),
		toggles:      scene.Toggles{DebugUI: cfg.Renderer.DebugUI, MotionVectors: cfg.Renderer.MotionVectors},
		clock:        core.NewClock(),
	}, nil
}

// Initialize opens the window, creates the device and uploads the scene.
// Any failure here is fatal.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onQuit)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.events.Register(core.EVENT_CODE_TOGGLES_CHANGED, e.onToggles)

	core.Must(e.platform.Startup(e.cfg.App.Name, e.cfg.Window), "platform startup")

	dev, err := vulkan.NewDevice(e.platform, vulkan.Options{
		AppName:    e.cfg.App.Name,
		Validation: e.cfg.Renderer.Validation,
	})
	core.Must(err, "vulkan device")
	e.device = dev

	am, err := assets.NewManager(e.cfg.Assets.Root, e.cfg.Assets.Shaders)
	core.Must(err, "asset manager")
	core.Must(am.Initialize(), "asset index")
	e.assets = am

	e.scene = e.loadScene()

	e.renderer = system.New(dev, am, e.cfg.Renderer, e.cfg.Assets.Font)
	core.Must(e.renderer.Initialize(e.scene), "renderer initialization")

	// A broken watcher only costs live reloads.
	if w, err := config.NewWatcher(e.configPath); err != nil {
		core.LogWarn("config hot reload disabled: %s", err)
	} else {
		e.watcher = w
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized: %d objects, mode %s", len(e.scene.Objects), e.cfg.Renderer.Mode)
	return nil
}

// loadScene builds the configured scene description. Without one the scene
// is empty and the default camera is kept.
func (e *Engine) loadScene() *scene.Scene {
	if e.cfg.App.Scene == "" {
		core.LogWarn("no scene configured, rendering an empty scene")
		return scene.New()
	}
	desc, err := scene.LoadDescription(e.cfg.App.Scene)
	core.Must(err, "scene description")
	desc.Camera.Apply(e.camera)
	return desc.Build(&loaders.ObjLoader{})
}

// Run drives the frame loop until the window closes, Escape is pressed or
// Stop is called, then shuts everything down.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning

	e.clock.Start()
	last := e.clock.Elapsed()

	var runErr error
	for !e.stop.Load() {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			break
		}
		e.pollChanges()

		e.clock.Update()
		now := e.clock.Elapsed()
		delta := float32(now - last)
		last = now

		e.updateCamera(delta)

		w, h := e.platform.FramebufferSize()
		if w == 0 || h == 0 {
			e.input.Update()
			continue
		}
		if err := e.renderer.Draw(e.camera.Snapshot(float32(w)/float32(h)), e.toggles); err != nil {
			core.LogError("frame %d failed: %s", e.renderer.FrameNumber(), err)
			runErr = err
			break
		}

		// Input state is rolled over last so every consumer above saw this
		// frame's transitions.
		e.input.Update()
	}

	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop asks the frame loop to exit. Safe to call from any goroutine.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// pollChanges forwards config reloads and shader edits to the main thread
// without blocking the frame.
func (e *Engine) pollChanges() {
	var updates <-chan config.Toggles
	if e.watcher != nil {
		updates = e.watcher.Toggles()
	}
	select {
	case t := <-updates:
		e.events.Fire(core.EVENT_CODE_TOGGLES_CHANGED, core.EventContext{Data: t})
	case path := <-e.assets.Changes():
		core.LogInfo("asset %s changed, restart to pick it up", filepath.Base(path))
	default:
	}
}

func (e *Engine) updateCamera(delta float32) {
	speed := float32(moveSpeed)
	if e.input.IsKeyDown(core.KEY_LSHIFT) {
		speed = fastMoveSpeed
	}
	step := speed * delta

	if e.input.IsKeyDown(core.KEY_W) {
		e.camera.MoveForward(step)
	}
	if e.input.IsKeyDown(core.KEY_S) {
		e.camera.MoveForward(-step)
	}
	if e.input.IsKeyDown(core.KEY_D) {
		e.camera.MoveRight(step)
	}
	if e.input.IsKeyDown(core.KEY_A) {
		e.camera.MoveRight(-step)
	}
	if e.input.IsKeyDown(core.KEY_E) || e.input.IsKeyDown(core.KEY_SPACE) {
		e.camera.MoveUp(step)
	}
	if e.input.IsKeyDown(core.KEY_Q) {
		e.camera.MoveUp(-step)
	}

	if e.input.IsButtonDown(core.BUTTON_RIGHT) {
		dx, dy := e.input.MouseDelta()
		e.camera.Yaw(float32(-dx) * lookSensitivity)
		e.camera.Pitch(float32(-dy) * lookSensitivity)
	}
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.watcher != nil {
		keep(e.watcher.Close())
	}
	if e.renderer != nil {
		keep(e.renderer.Shutdown())
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.assets != nil {
		keep(e.assets.Close())
	}
	keep(e.platform.Shutdown())

	e.currentStage = EngineStageShutdown
	core.LogInfo("engine shut down")
	return firstErr
}

func (e *Engine) onQuit(code core.SystemEventCode, ctx core.EventContext) bool {
	core.LogInfo("quit requested, shutting down")
	e.Stop()
	return true
}

func (e *Engine) onKey(code core.SystemEventCode, ctx core.EventContext) bool {
	switch ctx.Key {
	case core.KEY_ESCAPE:
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, core.EventContext{})
	case core.KEY_F1:
		e.toggles.DebugUI = !e.toggles.DebugUI
	case core.KEY_F2:
		e.toggles.Defocus = !e.toggles.Defocus
	case core.KEY_F3:
		e.toggles.MotionVectors = !e.toggles.MotionVectors
	case core.KEY_F4:
		opts := e.renderer.Options()
		opts.FXAA = !opts.FXAA
		e.renderer.ApplyOptions(opts)
	default:
		return false
	}
	core.LogDebug("toggles: debug ui %t, defocus %t, motion vectors %t", e.toggles.DebugUI, e.toggles.Defocus, e.toggles.MotionVectors)
	return true
}

func (e *Engine) onToggles(code core.SystemEventCode, ctx core.EventContext) bool {
	t, ok := ctx.Data.(config.Toggles)
	if !ok {
		core.LogError("wrong data associated with the event type `%d`", code)
		return false
	}
	e.renderer.ApplyOptions(t)
	e.toggles.DebugUI = t.DebugUI
	e.toggles.MotionVectors = t.MotionVectors
	return true
}
