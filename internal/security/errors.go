// Package security implements the policy validator described in §4.3: path,
// IP, PowerShell command, and SSH credential validation. It is not a
// substitute for OS-level isolation — only a reduction of the blast radius
// of argv-based execution, grounded on the teacher's
// registry.ValidationError/ValidationResult typed-error idiom.
package security

import "fmt"

// PathValidationError carries the rejected path and the allowlist it failed
// to match, both safe to surface to the client per §4.3.
type PathValidationError struct {
	Path            string
	AllowedPrefixes []string
	Reason          string
}

func (e *PathValidationError) Error() string {
	return fmt.Sprintf("path validation failed: %s (%s)", e.Path, e.Reason)
}

// IPValidationError reports a rejected IP literal.
type IPValidationError struct {
	Value  string
	Reason string
}

func (e *IPValidationError) Error() string {
	return fmt.Sprintf("IP validation failed: %s (%s)", e.Value, e.Reason)
}

// CommandValidationError reports a rejected command string, naming the rule
// that fired so the dispatcher can offer a remediation hint.
type CommandValidationError struct {
	Command string
	Rule    string
}

func (e *CommandValidationError) Error() string {
	return fmt.Sprintf("command validation failed: %s (rule: %s)", truncate(e.Command, 80), e.Rule)
}

// CredentialValidationError reports a rejected SSH credential field.
type CredentialValidationError struct {
	Field  string
	Reason string
}

func (e *CredentialValidationError) Error() string {
	return fmt.Sprintf("credential validation failed: %s (%s)", e.Field, e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RemediationHint returns the operator-facing suggestion the dispatcher
// appends after "Validation error: <message>" for a given validation error.
func RemediationHint(err error) string {
	switch e := err.(type) {
	case *PathValidationError:
		return "add the path to ALLOWED_BUILD_PATHS (or ALLOWED_BATCH_DIRS)"
	case *CommandValidationError:
		if e.Rule == "dangerous-pattern" || e.Rule == "disallowed-verb" {
			return "enable development mode (ENABLE_DEV_COMMANDS) or dangerous mode if this is intentional"
		}
		return "adjust the command to match an allowed verb"
	case *IPValidationError:
		return "the target address is in a blocked range (loopback/link-local/multicast) or not a valid literal"
	case *CredentialValidationError:
		return "check the SSH host/username/password for invalid characters"
	default:
		return ""
	}
}
