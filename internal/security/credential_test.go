package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSSHCredentialsAccepts(t *testing.T) {
	host, user, pass, err := ValidateSSHCredentials("203.0.113.5", "Administrator", "s3cr3t!", false)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", host)
	assert.Equal(t, "Administrator", user)
	assert.Equal(t, "s3cr3t!", pass)
}

func TestValidateSSHCredentialsRejectsBadHost(t *testing.T) {
	_, _, _, err := ValidateSSHCredentials("not-a-host", "Administrator", "s3cr3t!", false)
	assert.Error(t, err)
}

func TestValidateSSHCredentialsRejectsSQLInjectionInUsername(t *testing.T) {
	_, _, _, err := ValidateSSHCredentials("203.0.113.5", "admin' OR 1=1 --", "s3cr3t!", false)
	assert.Error(t, err)
}

func TestValidateSSHCredentialsRejectsEmptyUsername(t *testing.T) {
	_, _, _, err := ValidateSSHCredentials("203.0.113.5", "", "s3cr3t!", false)
	assert.Error(t, err)
}

func TestValidateSSHCredentialsRejectsOverLongPassword(t *testing.T) {
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	_, _, _, err := ValidateSSHCredentials("203.0.113.5", "Administrator", string(long), false)
	assert.Error(t, err)
}
