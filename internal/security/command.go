package security

import (
	"regexp"
	"strings"
)

const defaultMaxCommandLength = 8192

// dangerousPatterns is the data-driven deny-pattern matcher named in §9's
// re-architecture notes ("keep the deny-pattern list data-driven (loaded
// once) rather than embedded in control flow"). Each entry targets one
// glossary-listed dangerous-pattern family.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)remove-item\s+.*-recurse`),
	regexp.MustCompile(`(?i)\brd\b\s+/s`),
	regexp.MustCompile(`(?i)\brmdir\b\s+/s`),
	regexp.MustCompile(`(?i)\bdel\b\s+/f\s+/s`),
	regexp.MustCompile(`(?i)format\s+[a-z]:`),
	regexp.MustCompile(`(?i)shutdown\s+(/s|/r|-s|-r)`),
	regexp.MustCompile(`(?i)restart-computer`),
	regexp.MustCompile(`(?i)stop-computer`),
	regexp.MustCompile(`(?i)net\s+user\s+\S+\s+/add`),
	regexp.MustCompile(`(?i)new-localuser`),
	regexp.MustCompile(`(?i)remove-localuser`),
	regexp.MustCompile(`(?i)add-localgroupmember`),
	regexp.MustCompile(`(?i)reg\s+delete`),
	regexp.MustCompile(`(?i)remove-item\s+.*hklm`),
	regexp.MustCompile(`(?i)stop-service\s+(wuauserv|eventlog|winmgmt)`),
	regexp.MustCompile(`(?i)invoke-expression\s*\(\s*(new-object\s+net\.webclient|invoke-webrequest|iwr|curl)`),
	regexp.MustCompile(`(?i)\biex\b.*\b(http|https)://`),
	regexp.MustCompile(`(?i)start-process\s+.*-verb\s+runas`),
	regexp.MustCompile(`(?i)\bsudo\b`),
}

// hereStringRe matches a PowerShell here-string delimiter, used to carve
// out the stretches of a command where a literal backtick is legitimate
// text rather than command-substitution syntax.
var hereStringRe = regexp.MustCompile(`(?s)@"(?:[^"]|"[^@])*?"@|@'(?:[^']|'[^@])*?'@`)

var backtickRe = regexp.MustCompile("`")

var devVerbAllowlist = map[string]bool{
	"tasklist": true, "netstat": true, "type": true, "python": true, "python3": true,
	"pip": true, "pip3": true, "node": true, "npm": true, "npx": true, "yarn": true,
	"if": true, "for": true, "findstr": true, "echo": true, "set": true, "call": true,
	"start": true, "cd": true, "set-location": true, "invoke-command": true,
	"start-process": true, "dir": true, "where": true, "git": true,
}

var normalVerbAllowlistPrefixes = []string{"get-", "set-"}

var normalVerbAllowlistExact = map[string]bool{
	"where-object": true, "select-object": true, "measure-object": true,
	"out-file": true, "new-item": true, "set-content": true, "add-content": true,
	"get-content": true, "test-path": true, "stop-process": true, "wait-process": true,
	"write-output": true, "write-host": true, "compare-object": true, "sort-object": true,
	"group-object": true, "foreach-object": true,
}

// ValidatorOptions carries the operator-configured modes and extension sets
// that shape command validation.
type ValidatorOptions struct {
	Dangerous          bool
	DevCommands        bool
	AllowedDevCommands []string
	DevCommandPaths    []string
	MaxCommandLength   int
}

// ValidatePowerShellCommand implements validatePowerShellCommand from §4.3:
// dangerous mode passes the string through unchanged (logged by the
// caller as a security event); dev-commands mode splits on shell
// separators and checks each sub-command's verb against an extended
// allowlist; normal mode enforces length, a narrower verb allowlist, and
// the dangerous-pattern deny-list.
func ValidatePowerShellCommand(command string, opts ValidatorOptions) (string, error) {
	if containsUnsafeChars(command) {
		return "", &CommandValidationError{Command: command, Rule: "unsafe-characters"}
	}

	if opts.Dangerous {
		return command, nil
	}

	if err := checkBacktickInjection(command); err != nil {
		return "", err
	}

	if opts.DevCommands {
		if err := validateDevCommand(command, opts); err == nil {
			return command, nil
		}
		// Fall through to normal-mode evaluation: dev mode enlarges the
		// allowlist but a command that is also valid under normal mode
		// should not be rejected just because it failed the dev-mode
		// sub-command split (e.g. a single safe Get-* call).
	}

	return validateNormalCommand(command, opts)
}

// checkBacktickInjection rejects backtick command-substitution outside
// here-strings. Here-string bodies are stripped first so a `@"…`…"@` block
// never trips the alarm (a negative look-around substitute, since Go's RE2
// has no look-around support).
func checkBacktickInjection(command string) error {
	stripped := hereStringRe.ReplaceAllString(command, "")
	if backtickRe.MatchString(stripped) {
		return &CommandValidationError{Command: command, Rule: "backtick-injection"}
	}
	return nil
}

var subCommandSplitRe = regexp.MustCompile(`&&|\|\||2>&1|[|;&>]+`)

func validateDevCommand(command string, opts ValidatorOptions) error {
	subCommands := subCommandSplitRe.Split(command, -1)

	allowed := make(map[string]bool, len(devVerbAllowlist)+len(opts.AllowedDevCommands))
	for k := range devVerbAllowlist {
		allowed[k] = true
	}
	for _, v := range opts.AllowedDevCommands {
		allowed[strings.ToLower(strings.TrimSpace(v))] = true
	}

	for _, sub := range subCommands {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		verb := firstToken(sub)
		if !allowed[strings.ToLower(verb)] {
			return &CommandValidationError{Command: command, Rule: "disallowed-verb"}
		}
		if err := checkPatternDeny(command); err != nil {
			return err
		}
		if err := checkPathLiteralsInDevPaths(sub, opts.DevCommandPaths); err != nil {
			return err
		}
	}
	return nil
}

func checkPathLiteralsInDevPaths(sub string, devPaths []string) error {
	for _, tok := range strings.Fields(sub) {
		tok = strings.Trim(tok, `"'`)
		if driveAbsoluteRe.MatchString(tok) {
			if _, err := ValidatePath(tok, devPaths); err != nil {
				return &CommandValidationError{Command: sub, Rule: "path-outside-dev-paths"}
			}
		}
		lower := strings.ToLower(tok)
		if strings.HasSuffix(lower, ".bat") || strings.HasSuffix(lower, ".cmd") {
			if _, err := ValidateBatchFilePath(tok, devPaths); err != nil {
				return &CommandValidationError{Command: sub, Rule: "batch-outside-allowed-prefix"}
			}
		}
	}
	return nil
}

func validateNormalCommand(command string, opts ValidatorOptions) error {
	maxLen := opts.MaxCommandLength
	if maxLen <= 0 {
		maxLen = defaultMaxCommandLength
	}
	if len(command) > maxLen {
		return &CommandValidationError{Command: command, Rule: "max-length-exceeded"}
	}

	verb := strings.ToLower(firstToken(command))
	if !isAllowedNormalVerb(verb) {
		return &CommandValidationError{Command: command, Rule: "disallowed-verb"}
	}

	if err := checkPatternDeny(command); err != nil {
		return err
	}

	return nil
}

func isAllowedNormalVerb(verb string) bool {
	if normalVerbAllowlistExact[verb] {
		return true
	}
	for _, prefix := range normalVerbAllowlistPrefixes {
		if strings.HasPrefix(verb, prefix) {
			return true
		}
	}
	return false
}

func checkPatternDeny(command string) error {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			return &CommandValidationError{Command: command, Rule: "dangerous-pattern"}
		}
	}
	return nil
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s
	}
	return s[:idx]
}
