// Package plugins implements the supplemented scripted/sandboxed tool
// extension mechanism described in SPEC_FULL.md §5: an operator may drop
// .wasm modules or .js scripts into a configured plugin directory, each
// with a sidecar <name>.json descriptor. This adopts the WASM and JS
// branches of the teacher's discovery registry (discovery.WASMWorker /
// discovery.JSInterpreter), not its persistent-MCP-stdio branch, whose job
// is fully replaced by internal/executor.
package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/forgewright/winbuildd/internal/logger"
	"github.com/forgewright/winbuildd/internal/tools"
)

// descriptor is the sidecar <name>.json shape, trimmed from the teacher's
// ToolDefinition to the fields a plugin tool needs.
type descriptor struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	InputSchema tools.JSONSchema    `json:"inputSchema"`
	Kind        string              `json:"kind"` // "wasm" or "js"
	File        string              `json:"file"`
}

type plugin struct {
	descriptor
	path string
}

// Registry holds the loaded plugin set and satisfies internal/tools.PluginSource.
type Registry struct {
	runtime wazero.Runtime
	plugins map[string]plugin
}

// Load scans dir for <name>.json sidecar descriptors and their referenced
// .wasm/.js files. A name colliding with builtinNames is rejected and
// logged as a security event — plugins can never shadow a built-in tool.
func Load(ctx context.Context, dir string, builtinNames map[string]bool) (*Registry, error) {
	reg := &Registry{
		runtime: wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		plugins: make(map[string]plugin),
	}
	wasi_snapshot_preview1.MustInstantiate(ctx, reg.runtime)

	if dir == "" {
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("reading plugin directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Security(fmt.Sprintf("plugin descriptor unreadable: %s: %v", entry.Name(), err))
			continue
		}
		var d descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			logger.Security(fmt.Sprintf("plugin descriptor malformed: %s: %v", entry.Name(), err))
			continue
		}
		if d.Name == "" || d.File == "" {
			continue
		}
		if builtinNames[d.Name] {
			logger.Security(fmt.Sprintf("plugin %q rejected: shadows a built-in tool", d.Name))
			continue
		}
		if _, exists := reg.plugins[d.Name]; exists {
			logger.Security(fmt.Sprintf("plugin %q rejected: duplicate name", d.Name))
			continue
		}
		reg.plugins[d.Name] = plugin{descriptor: d, path: filepath.Join(dir, d.File)}
	}

	return reg, nil
}

// Tools returns the plugin tool descriptors to merge into tools/list.
func (r *Registry) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, tools.Tool{Name: p.Name, Description: p.Description, InputSchema: p.InputSchema})
	}
	return out
}

// Has reports whether name is a loaded plugin tool.
func (r *Registry) Has(name string) bool {
	_, ok := r.plugins[name]
	return ok
}

// Call invokes a plugin tool with its arguments exactly as the client sent
// them; the dispatcher does not run plugin arguments through
// internal/security.
func (r *Registry) Call(ctx context.Context, name string, arguments json.RawMessage, timeout time.Duration) (string, error) {
	p, ok := r.plugins[name]
	if !ok {
		return "", fmt.Errorf("unknown plugin: %s", name)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch p.Kind {
	case "wasm":
		return r.callWASM(callCtx, p, arguments)
	case "js":
		return r.callJS(callCtx, p, arguments)
	default:
		return "", fmt.Errorf("plugin %q has unknown kind %q", name, p.Kind)
	}
}

// callWASM runs a module under wazero's WASI snapshot preview1 with no
// filesystem or network imports granted: it receives only its JSON
// arguments on stdin and must write a JSON result to stdout.
func (r *Registry) callWASM(ctx context.Context, p plugin, arguments json.RawMessage) (string, error) {
	wasmBytes, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("reading wasm module: %w", err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(arguments)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := r.runtime.InstantiateWithConfig(ctx, wasmBytes, config)
	if err != nil {
		return "", fmt.Errorf("running wasm plugin %q: %w (stderr: %s)", p.Name, err, stderr.String())
	}
	defer mod.Close(ctx)

	return stdout.String(), nil
}

// callJS runs the script inside a fresh goja.Runtime per call — no shared
// state across invocations — exposing the arguments as a global `args`
// object and expecting the script to set a global `result` string.
func (r *Registry) callJS(ctx context.Context, p plugin, arguments json.RawMessage) (string, error) {
	script, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("reading js plugin: %w", err)
	}

	vm := goja.New()

	var parsedArgs interface{}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &parsedArgs); err != nil {
			return "", fmt.Errorf("malformed plugin arguments: %w", err)
		}
	}
	if err := vm.Set("args", parsedArgs); err != nil {
		return "", err
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = vm.RunString(string(script))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt("timeout")
		<-done
		return "", fmt.Errorf("plugin %q timed out", p.Name)
	}
	if runErr != nil {
		return "", fmt.Errorf("running js plugin %q: %w", p.Name, runErr)
	}

	resultVal := vm.Get("result")
	if resultVal == nil || goja.IsUndefined(resultVal) {
		return "", nil
	}
	return resultVal.String(), nil
}

// Close tears down the shared wazero runtime.
func (r *Registry) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
