package tools

var buildLanguages = []string{
	"java", "python", "node", "go", "rust", "cpp", "docker", "kotlin", "swift", "php", "ruby",
}

// Descriptors returns the static tools/list table (§6). Order is stable
// across calls.
func Descriptors() []Tool {
	out := []Tool{
		{
			Name:        "run_powershell",
			Description: "Run a PowerShell command on the local host, or on a remote host via SSH when remoteHost is set.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"command":    {Type: "string", Description: "The PowerShell command to execute."},
					"remoteHost": {Type: "string", Description: "Optional remote Windows host to execute the command on via SSH."},
					"timeout":    {Type: "number", Description: "Timeout in seconds, clamped to [1, maxAllowedTimeoutMs/1000].", Minimum: floatPtr(1), Maximum: floatPtr(1800)},
				},
				Required: []string{"command"},
			},
		},
		{
			Name:        "build_dotnet",
			Description: "Build a .NET project: copies the project into the build tree and runs dotnet build.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"projectPath":   {Type: "string", Description: "Absolute path to the .csproj file."},
					"configuration": {Type: "string", Description: "Build configuration.", Default: "Release"},
					"remoteHost":    {Type: "string", Description: "Optional remote host to build on via SSH."},
				},
				Required: []string{"projectPath"},
			},
		},
		{
			Name:        "ping_host",
			Description: "Check reachability of a host using ICMP.",
			InputSchema: JSONSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"host": {Type: "string"}},
				Required:   []string{"host"},
			},
		},
		{
			Name:        "ssh_command",
			Description: "Execute a command on a remote Windows host over SSH.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"host":     {Type: "string"},
					"username": {Type: "string"},
					"password": {Type: "string"},
					"command":  {Type: "string"},
				},
				Required: []string{"host", "username", "password", "command"},
			},
		},
		{
			Name:        "run_batch",
			Description: "Run a .bat or .cmd file from an allowed directory.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"batchFile":        {Type: "string"},
					"workingDirectory": {Type: "string", Description: "Defaults to the batch file's parent directory."},
				},
				Required: []string{"batchFile"},
			},
		},
		{
			Name:        "mcp_self_build",
			Description: "Manage the winbuildd daemon's own build/install/update lifecycle.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"action": {Type: "string", Enum: []string{"build", "test", "install", "update", "start", "stop", "status"}},
				},
				Required: []string{"action"},
			},
		},
		{
			Name:        "process_manager",
			Description: "Start, stop, restart, list, or kill OS processes/services.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"action":    {Type: "string", Enum: []string{"start", "stop", "restart", "status", "list", "kill"}},
					"name":      {Type: "string"},
					"asService": {Type: "boolean"},
				},
				Required: []string{"action"},
			},
		},
		{
			Name:        "file_sync",
			Description: "Copy files/directories with robocopy semantics.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"source":      {Type: "string"},
					"destination": {Type: "string"},
					"mirror":      {Type: "boolean"},
				},
				Required: []string{"source", "destination"},
			},
		},
	}

	for _, lang := range buildLanguages {
		out = append(out, Tool{
			Name:        "build_" + lang,
			Description: "Build a " + lang + " project; where the language has more than one supported toolchain, it is picked from the project's marker files.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"projectPath": {Type: "string"},
					"remoteHost":  {Type: "string"},
				},
				Required: []string{"projectPath"},
			},
		})
	}

	return out
}
