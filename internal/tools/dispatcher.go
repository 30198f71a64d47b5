package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgewright/winbuildd/internal/config"
	"github.com/forgewright/winbuildd/internal/credstore"
	"github.com/forgewright/winbuildd/internal/executor"
	"github.com/forgewright/winbuildd/internal/logger"
	"github.com/forgewright/winbuildd/internal/rpc"
	"github.com/forgewright/winbuildd/internal/security"
	"github.com/forgewright/winbuildd/internal/sshexec"
)

// Dispatcher implements handleToolsCall from §4.6: it validates arguments,
// consults the security validator, assembles an argv, and chooses local vs
// SSH execution.
type Dispatcher struct {
	cfg     *config.Config
	codec   *credstore.Codec
	plugins PluginSource
}

// PluginSource is satisfied by internal/plugins.Registry; kept as an
// interface here so internal/tools never imports internal/plugins
// directly (plugins depend on tools' Tool type, not the reverse).
type PluginSource interface {
	Tools() []Tool
	Call(ctx context.Context, name string, arguments json.RawMessage, timeout time.Duration) (string, error)
	Has(name string) bool
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg *config.Config, codec *credstore.Codec, plugins PluginSource) *Dispatcher {
	return &Dispatcher{cfg: cfg, codec: codec, plugins: plugins}
}

// ListTools returns the merged built-in + plugin tool table for tools/list.
func (d *Dispatcher) ListTools() []Tool {
	out := Descriptors()
	if d.plugins != nil {
		out = append(out, d.plugins.Tools()...)
	}
	return out
}

// Call implements the tools/call path. It never returns a Go error:
// validation/execution failures and malformed argument JSON all come back
// as text results per the §7 error-handling taxonomy.
func (d *Dispatcher) Call(ctx context.Context, name string, rawArgs json.RawMessage, callerIsLocalhost bool) rpc.ToolResult {
	var args map[string]any
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return rpc.TextResult(fmt.Sprintf("Validation error: malformed arguments: %v", err))
		}
	}

	logger.Audit(fmt.Sprintf("tool invocation: %s", name))

	switch name {
	case "run_powershell":
		return d.runPowerShell(ctx, args, callerIsLocalhost)
	case "build_dotnet":
		return d.buildDotnet(ctx, args, callerIsLocalhost)
	case "ping_host":
		return d.pingHost(ctx, args, callerIsLocalhost)
	case "ssh_command":
		return d.sshCommand(ctx, args, callerIsLocalhost)
	case "run_batch":
		return d.runBatch(ctx, args)
	case "mcp_self_build":
		return d.selfBuild(ctx, args)
	case "process_manager":
		return d.processManager(ctx, args)
	case "file_sync":
		return d.fileSync(ctx, args)
	}

	if strings.HasPrefix(name, "build_") {
		lang := strings.TrimPrefix(name, "build_")
		return d.buildLanguage(ctx, lang, args, callerIsLocalhost)
	}

	if d.plugins != nil && d.plugins.Has(name) {
		text, err := d.plugins.Call(ctx, name, rawArgs, time.Duration(d.commandTimeout(0))*time.Millisecond)
		if err != nil {
			return rpc.TextResult(fmt.Sprintf("Validation error: %v", err))
		}
		return rpc.TextResult(text)
	}

	return rpc.TextResult(fmt.Sprintf("Unknown tool: %s", name))
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func validationError(err error) rpc.ToolResult {
	hint := security.RemediationHint(err)
	msg := fmt.Sprintf("Validation error: %v", err)
	if hint != "" {
		msg += " (" + hint + ")"
	}
	logger.Security(msg)
	return rpc.TextResult(msg)
}

func (d *Dispatcher) commandTimeout(requestedSeconds float64) int {
	timeoutMs := d.cfg.CommandTimeoutMs
	if requestedSeconds > 0 {
		timeoutMs = int(requestedSeconds * 1000)
		if timeoutMs < 1000 {
			timeoutMs = 1000
		}
	}
	if timeoutMs > d.cfg.MaxAllowedTimeoutMs {
		timeoutMs = d.cfg.MaxAllowedTimeoutMs
	}
	return timeoutMs
}

func (d *Dispatcher) validatorOptions() security.ValidatorOptions {
	if d.cfg.Modes.Dangerous {
		logger.Security("dangerous mode: PowerShell command validation bypassed")
	}
	return security.ValidatorOptions{
		Dangerous:          d.cfg.Modes.Dangerous,
		DevCommands:        d.cfg.Modes.DevCommands,
		AllowedDevCommands: d.cfg.AllowedDevCommands,
		DevCommandPaths:    d.cfg.DevCommandPaths,
		MaxCommandLength:   d.cfg.MaxCommandLength,
	}
}

func (d *Dispatcher) runPowerShell(ctx context.Context, args map[string]any, callerIsLocalhost bool) rpc.ToolResult {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return rpc.TextResult("Validation error: command is required")
	}

	validated, err := security.ValidatePowerShellCommand(command, d.validatorOptions())
	if err != nil {
		return validationError(err)
	}

	if remoteHost, ok := stringArg(args, "remoteHost"); ok && remoteHost != "" {
		return d.sshRun(remoteHost, validated, callerIsLocalhost)
	}

	argv := []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", validated}
	timeoutSeconds, _ := numberArg(args, "timeout")
	res := executor.ExecuteBuild(ctx, "powershell.exe", argv,
		executor.Options{TimeoutMs: d.commandTimeout(timeoutSeconds)},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	return toToolResult(res.Content)
}

func (d *Dispatcher) sshRun(host, command string, callerIsLocalhost bool) rpc.ToolResult {
	if _, err := security.ValidateIPAddress(host, callerIsLocalhost); err != nil {
		return validationError(err)
	}
	resolver := d.remoteResolver()
	res := sshexec.ExecuteRemoteCommand(host, command, resolver, time.Duration(d.cfg.SSHTimeoutMs)*time.Millisecond)
	return toToolResult(res.Content)
}

func (d *Dispatcher) remoteResolver() *sshexec.CredentialResolver {
	return sshexec.NewCredentialResolver(d.cfg.RemoteUsername, d.cfg.RemotePassword, func(s string) (string, error) {
		if !credstore.IsEncrypted(s) {
			return s, nil
		}
		if d.codec == nil {
			return "", fmt.Errorf("no credential codec configured")
		}
		return d.codec.Decrypt(s)
	})
}

func (d *Dispatcher) buildDotnet(ctx context.Context, args map[string]any, callerIsLocalhost bool) rpc.ToolResult {
	projectPath, ok := stringArg(args, "projectPath")
	if !ok || projectPath == "" {
		return rpc.TextResult("Validation error: projectPath is required")
	}
	validated, err := security.ValidateBuildPath(projectPath, d.cfg.AllowedBuildPaths)
	if err != nil {
		return validationError(err)
	}
	configuration, _ := stringArg(args, "configuration")
	if configuration == "" {
		configuration = "Release"
	}

	projectName := strings.TrimSuffix(filepath.Base(validated), filepath.Ext(validated))
	projectDir := filepath.Dir(validated)
	buildDir := `C:\build\` + projectName
	releaseDir := buildDir + `\release`

	if remoteHost, ok := stringArg(args, "remoteHost"); ok && remoteHost != "" {
		cmd := fmt.Sprintf(
			`New-Item -ItemType Directory -Force -Path '%s' | Out-Null; Copy-Item -Path '%s\*' -Destination '%s' -Recurse -Force; dotnet build '%s' -c %s -o '%s'`,
			releaseDir, projectDir, buildDir, validated, configuration, releaseDir)
		return d.sshRun(remoteHost, cmd, callerIsLocalhost)
	}

	// Mirror the remote branch locally: materialize the isolated build-dir
	// copy before building against it, rather than building the source tree
	// in place.
	mkdirRes := executor.ExecuteBuild(ctx, "cmd.exe", []string{"/c", "mkdir", releaseDir},
		executor.Options{IgnoreExitCode: true}, d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)

	copyRes := executor.ExecuteBuild(ctx, "robocopy.exe", []string{projectDir, buildDir, "/E"},
		executor.Options{IgnoreExitCode: true}, d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	if copyRes.ExitCode == nil || *copyRes.ExitCode >= 8 {
		return toToolResult(fmt.Sprintf("Process failed with code %d while copying project into %s:\n%s",
			derefInt(copyRes.ExitCode), buildDir, copyRes.Content))
	}

	builtProjectPath := filepath.Join(buildDir, filepath.Base(validated))
	buildRes := executor.ExecuteBuild(ctx, "dotnet.exe",
		[]string{"build", builtProjectPath, "-c", configuration, "-o", releaseDir},
		executor.Options{},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)

	content := mkdirRes.Content + copyRes.Content + buildRes.Content +
		fmt.Sprintf("\n\nCreated directories:\n%s\n%s", buildDir, releaseDir)
	return toToolResult(content)
}

func (d *Dispatcher) pingHost(ctx context.Context, args map[string]any, callerIsLocalhost bool) rpc.ToolResult {
	host, ok := stringArg(args, "host")
	if !ok || host == "" {
		return rpc.TextResult("Validation error: host is required")
	}
	if _, err := security.ValidateIPAddress(host, callerIsLocalhost); err != nil {
		return validationError(err)
	}
	res := executor.ExecuteBuild(ctx, "ping.exe", []string{"-n", "4", host},
		executor.Options{}, d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	return toToolResult(res.Content)
}

func (d *Dispatcher) sshCommand(ctx context.Context, args map[string]any, callerIsLocalhost bool) rpc.ToolResult {
	host, _ := stringArg(args, "host")
	username, _ := stringArg(args, "username")
	password, _ := stringArg(args, "password")
	command, _ := stringArg(args, "command")

	validHost, validUser, validPass, err := security.ValidateSSHCredentials(host, username, password, callerIsLocalhost)
	if err != nil {
		return validationError(err)
	}
	validatedCmd, err := security.ValidatePowerShellCommand(command, d.validatorOptions())
	if err != nil {
		return validationError(err)
	}

	logger.Security(fmt.Sprintf("ssh_command to %s: password fingerprint %s", validHost, credstore.HashForLogging(validPass)))

	res := sshexec.ExecuteSSHCommand(validHost, validUser, validPass, validatedCmd,
		time.Duration(d.cfg.SSHTimeoutMs)*time.Millisecond)
	return toToolResult(res.Content)
}

func (d *Dispatcher) runBatch(ctx context.Context, args map[string]any) rpc.ToolResult {
	batchFile, ok := stringArg(args, "batchFile")
	if !ok || batchFile == "" {
		return rpc.TextResult("Validation error: batchFile is required")
	}
	validated, err := security.ValidateBatchFilePath(batchFile, d.cfg.AllowedBatchDirs)
	if err != nil {
		return validationError(err)
	}

	workingDir, _ := stringArg(args, "workingDirectory")
	if workingDir == "" {
		workingDir = filepath.Dir(validated)
	}

	res := executor.ExecuteBuild(ctx, "cmd.exe",
		[]string{"/c", "cd", "/d", workingDir, "&&", validated},
		executor.Options{WorkingDirectory: workingDir},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	return toToolResult(res.Content)
}

func (d *Dispatcher) selfBuild(ctx context.Context, args map[string]any) rpc.ToolResult {
	action, _ := stringArg(args, "action")
	switch action {
	case "build", "test", "start", "stop", "status":
		res := executor.ExecuteBuild(ctx, "powershell.exe",
			[]string{"-NoProfile", "-NonInteractive", "-Command", "winbuildd-self-" + action + ".ps1"},
			executor.Options{}, d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
		return toToolResult(res.Content)
	case "install", "update":
		if !d.cfg.Modes.Dangerous {
			return rpc.TextResult("Validation error: " + action + " requires dangerous mode")
		}
		if action == "update" {
			manifestURL, tokenURL, clientID, clientSecret, publicKey := updateConfigFromEnv()
			manifest, err := fetchUpdateManifest(ctx, manifestURL, tokenURL, clientID, clientSecret, publicKey)
			if err != nil {
				return rpc.TextResult(fmt.Sprintf("Validation error: update manifest unavailable or unverified: %v", err))
			}
			logger.Audit(fmt.Sprintf("update manifest verified: version=%s autoStart=%v", manifest.Version, manifest.AutoStart))
		}
		res := executor.ExecuteBuild(ctx, "powershell.exe",
			[]string{"-NoProfile", "-NonInteractive", "-Command", "winbuildd-self-" + action + ".ps1"},
			executor.Options{TimeoutMs: 30 * 60 * 1000}, d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
		return toToolResult(res.Content)
	default:
		return rpc.TextResult("Validation error: unknown mcp_self_build action " + action)
	}
}

func (d *Dispatcher) processManager(ctx context.Context, args map[string]any) rpc.ToolResult {
	action, _ := stringArg(args, "action")
	name, _ := stringArg(args, "name")
	asService := boolArg(args, "asService")

	var spawn Spawn
	var stopContent string
	switch action {
	case "start":
		if asService {
			spawn = Spawn{Command: "net.exe", Args: []string{"start", name}}
		} else {
			spawn = Spawn{Command: "cmd.exe", Args: []string{"/c", "start", "", name}}
		}
	case "stop":
		if asService {
			spawn = Spawn{Command: "net.exe", Args: []string{"stop", name}}
		} else {
			spawn = Spawn{Command: "taskkill.exe", Args: []string{"/IM", name, "/F"}}
		}
	case "restart":
		stop := Spawn{Command: "taskkill.exe", Args: []string{"/IM", name, "/F"}}
		spawn = Spawn{Command: "cmd.exe", Args: []string{"/c", "start", "", name}}
		if asService {
			stop = Spawn{Command: "net.exe", Args: []string{"stop", name}}
			spawn = Spawn{Command: "net.exe", Args: []string{"start", name}}
		}
		stopRes := executor.ExecuteBuild(ctx, stop.Command, stop.Args, executor.Options{IgnoreExitCode: true},
			d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
		stopContent = stopRes.Content
	case "status":
		spawn = Spawn{Command: "sc.exe", Args: []string{"query", name}}
	case "list":
		spawn = Spawn{Command: "tasklist.exe", Args: nil}
	case "kill":
		spawn = Spawn{Command: "taskkill.exe", Args: []string{"/IM", name, "/F"}}
	default:
		return rpc.TextResult("Validation error: unknown process_manager action " + action)
	}

	res := executor.ExecuteBuild(ctx, spawn.Command, spawn.Args, executor.Options{},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	return toToolResult(stopContent + res.Content)
}

func (d *Dispatcher) fileSync(ctx context.Context, args map[string]any) rpc.ToolResult {
	source, ok1 := stringArg(args, "source")
	dest, ok2 := stringArg(args, "destination")
	if !ok1 || !ok2 || source == "" || dest == "" {
		return rpc.TextResult("Validation error: source and destination are required")
	}
	validSource, err := security.ValidateBuildPath(source, d.cfg.AllowedBuildPaths)
	if err != nil {
		return validationError(err)
	}
	validDest, err := security.ValidateBuildPath(dest, d.cfg.AllowedBuildPaths)
	if err != nil {
		return validationError(err)
	}

	argv := []string{validSource, validDest}
	if boolArg(args, "mirror") {
		argv = append(argv, "/MIR")
	} else {
		argv = append(argv, "/E")
	}

	res := executor.ExecuteBuild(ctx, "robocopy.exe", argv, executor.Options{IgnoreExitCode: true},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)

	// robocopy exit codes 0-7 are success, >=8 is failure (§4.6).
	success := res.ExitCode != nil && *res.ExitCode < 8
	if !success {
		return rpc.TextResult(fmt.Sprintf("Process failed with code %d:\n%s", derefInt(res.ExitCode), res.Content))
	}
	return toToolResult(res.Content)
}

func (d *Dispatcher) buildLanguage(ctx context.Context, lang string, args map[string]any, callerIsLocalhost bool) rpc.ToolResult {
	projectPath, ok := stringArg(args, "projectPath")
	if !ok || projectPath == "" {
		return rpc.TextResult("Validation error: projectPath is required")
	}
	validated, err := security.ValidateBuildPath(projectPath, d.cfg.AllowedBuildPaths)
	if err != nil {
		return validationError(err)
	}

	spawn, err := BuildWrapper(lang, validated)
	if err != nil {
		return rpc.TextResult("Validation error: " + err.Error())
	}

	if remoteHost, ok := stringArg(args, "remoteHost"); ok && remoteHost != "" {
		cmd := spawn.Command + " " + strings.Join(spawn.Args, " ")
		return d.sshRun(remoteHost, cmd, callerIsLocalhost)
	}

	res := executor.ExecuteBuild(ctx, spawn.Command, spawn.Args,
		executor.Options{WorkingDirectory: validated},
		d.cfg.CommandTimeoutMs, d.cfg.MaxAllowedTimeoutMs)
	return toToolResult(res.Content)
}

func toToolResult(content string) rpc.ToolResult {
	return rpc.TextResult(content)
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
