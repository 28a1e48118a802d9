// Command lumen opens a window and renders the scene named in its config
// file with the hybrid rasterizer or the path tracer.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
)

func main() {
	configPath := flag.String("config", "configs/lumen.toml", "path to the engine configuration")
	flag.Parse()

	e, err := engine.New(*configPath)
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal("failed to initialize engine: %s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the frame loop owns shutdown, so the signal only asks it to stop
	go func() {
		<-sigCh
		e.Stop()
	}()

	if err := e.Run(); err != nil {
		core.LogError("engine stopped with error: %s", err)
		os.Exit(1)
	}
}
