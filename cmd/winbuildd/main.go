// Command winbuildd runs the remote build-and-execution MCP daemon.
// Bootstrap sequence (config load, logger init, port auto-selection,
// graceful shutdown) is adapted from the teacher's cmd/scooter/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/forgewright/winbuildd/internal/config"
	"github.com/forgewright/winbuildd/internal/credstore"
	"github.com/forgewright/winbuildd/internal/logger"
	"github.com/forgewright/winbuildd/internal/plugins"
	"github.com/forgewright/winbuildd/internal/ratelimit"
	"github.com/forgewright/winbuildd/internal/server"
	"github.com/forgewright/winbuildd/internal/tools"
)

// portRangeSize is the §4.8 fallback window: 8080 -> 8090.
const portRangeSize = 11

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func appDataDir() (string, error) {
	if dir := os.Getenv("WINBUILDD_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "winbuildd")
	return dir, os.MkdirAll(dir, 0755)
}

func run() error {
	appDir, err := appDataDir()
	if err != nil {
		return fmt.Errorf("resolving config directory: %w", err)
	}
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	yamlPath := filepath.Join(appDir, "winbuildd.yaml")
	cfg, warnings, err := config.Load(yamlPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Init(appDir, cfg.LogMaxFileSizeBytes); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	for _, w := range warnings {
		logger.AddLog("WARN", w)
	}

	key, err := credstore.LoadOrGenerateKey(cfg.EncryptionKey, config.EncryptionKeyPath(appDir))
	if err != nil {
		return fmt.Errorf("loading encryption key: %w", err)
	}
	codec := credstore.NewCodec(key)

	pluginDir := os.Getenv("WINBUILDD_PLUGIN_DIR")
	builtinNames := make(map[string]bool)
	for _, t := range tools.Descriptors() {
		builtinNames[t.Name] = true
	}
	var pluginSource tools.PluginSource
	pluginRegistry, err := plugins.Load(context.Background(), pluginDir, builtinNames)
	if err != nil {
		logger.AddLog("WARN", fmt.Sprintf("plugin load failed: %v", err))
	} else {
		pluginSource = pluginRegistry
	}

	dispatcher := tools.NewDispatcher(cfg, codec, pluginSource)
	limiter := ratelimit.New()
	defer limiter.Destroy()

	srv := server.New(cfg, limiter, dispatcher)

	listener, port, err := listenWithFallback(cfg.PreferredPort)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	portFilePath := config.PortFilePath(appDir)
	if err := publishPortFile(portFilePath, port); err != nil {
		logger.AddLog("WARN", fmt.Sprintf("could not write port file: %v", err))
	}
	defer os.Remove(portFilePath)

	httpServer := &http.Server{Handler: srv.Handler()}

	go func() {
		logger.AddLog("INFO", fmt.Sprintf("winbuildd listening on port %d", port))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.AddLog("ERROR", fmt.Sprintf("server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.AddLog("INFO", "shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// listenWithFallback tries preferred, then preferred+1 ... preferred+10
// (the documented 8080->8090 range when preferred is the 8080 default).
func listenWithFallback(preferred int) (net.Listener, int, error) {
	for i := 0; i < portRangeSize; i++ {
		port := preferred + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no available port in range %d-%d", preferred, preferred+portRangeSize-1)
}

type portFile struct {
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

func publishPortFile(path string, port int) error {
	data, err := json.Marshal(portFile{Port: port, PID: os.Getpid(), StartedAt: time.Now()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
