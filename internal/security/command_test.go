package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePowerShellCommandAcceptsSafeNormalCommand(t *testing.T) {
	out, err := ValidatePowerShellCommand("Get-Date", ValidatorOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Get-Date", out)
}

func TestValidatePowerShellCommandRejectsDangerousPattern(t *testing.T) {
	_, err := ValidatePowerShellCommand(`Remove-Item C:\ -Recurse -Force`, ValidatorOptions{})
	require.Error(t, err)
	var cerr *CommandValidationError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidatePowerShellCommandDangerousModePassesThrough(t *testing.T) {
	cmd := `Remove-Item C:\ -Recurse -Force`
	out, err := ValidatePowerShellCommand(cmd, ValidatorOptions{Dangerous: true})
	require.NoError(t, err)
	assert.Equal(t, cmd, out)
}

func TestValidatePowerShellCommandRejectsDisallowedVerbInNormalMode(t *testing.T) {
	_, err := ValidatePowerShellCommand("notepad.exe", ValidatorOptions{})
	assert.Error(t, err)
}

func TestValidatePowerShellCommandDevModeAllowsExtendedVerbs(t *testing.T) {
	out, err := ValidatePowerShellCommand("tasklist", ValidatorOptions{DevCommands: true})
	require.NoError(t, err)
	assert.Equal(t, "tasklist", out)
}

func TestValidatePowerShellCommandRejectsOverLengthInNormalMode(t *testing.T) {
	long := "Get-" + strings.Repeat("x", defaultMaxCommandLength)
	_, err := ValidatePowerShellCommand(long, ValidatorOptions{})
	assert.Error(t, err)
}

func TestValidatePowerShellCommandAcceptsExactMaxLength(t *testing.T) {
	cmd := "Get-" + strings.Repeat("x", defaultMaxCommandLength-4)
	assert.Len(t, cmd, defaultMaxCommandLength)
	_, err := ValidatePowerShellCommand(cmd, ValidatorOptions{})
	assert.NoError(t, err)
}

func TestValidatePowerShellCommandHereStringExemptsBacktick(t *testing.T) {
	cmd := "Get-Content -Raw; " + `@"` + "\nsome ` text\n" + `"@`
	_, err := ValidatePowerShellCommand(cmd, ValidatorOptions{})
	assert.NoError(t, err)
}

func TestValidatePowerShellCommandRejectsBacktickInjectionOutsideHereString(t *testing.T) {
	_, err := ValidatePowerShellCommand("Get-Content `whoami`", ValidatorOptions{})
	assert.Error(t, err)
}
