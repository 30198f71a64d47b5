package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintFormatsSecret(t *testing.T) {
	assert.Equal(t, "abcd…vwxy", Fingerprint("abcdefghijklmnopqrstuvwxy"))
	assert.Equal(t, "too short", Fingerprint("abc"))
}

func TestRedactStripsBearerTokensAndAPIKeys(t *testing.T) {
	msg := redact("auth failed for Bearer abcd1234efgh5678 and sk-abcd1234wxyz")
	assert.NotContains(t, msg, "abcd1234efgh5678")
	assert.Contains(t, msg, "bearer REDACTED")
	assert.Contains(t, msg, "sk-REDACTED")
}

func TestInitAndAddLogChannelRecordsEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, 0))
	defer Close()

	Access("client connected")
	Security("auth rejected: fingerprint abcd…wxyz")
	Audit("tool invocation: ping_host")

	logs := GetLogs("")
	require.GreaterOrEqual(t, len(logs), 3)

	var channels []Channel
	for _, e := range logs {
		channels = append(channels, e.Channel)
	}
	assert.Contains(t, channels, ChannelAccess)
	assert.Contains(t, channels, ChannelSecurity)
	assert.Contains(t, channels, ChannelAudit)
}

func TestGetLogsFiltersByChannel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, 0))
	defer Close()

	Access("client connected")
	Security("auth rejected")
	Audit("tool invocation: ping_host")

	auditOnly := GetLogs(ChannelAudit)
	require.Len(t, auditOnly, 1)
	assert.Equal(t, ChannelAudit, auditOnly[0].Channel)
	assert.Equal(t, "tool invocation: ping_host", auditOnly[0].Message)
}

func TestSubscribeReceivesNewEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, 0))
	defer Close()

	ch := Subscribe("")
	defer Unsubscribe(ch)

	AddLog("INFO", "hello subscriber")

	select {
	case entry := <-ch:
		assert.Equal(t, "hello subscriber", entry.Message)
	default:
		t.Fatal("expected a buffered entry to be available")
	}
}

func TestSubscribeFiltersToASingleChannel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, 0))
	defer Close()

	ch := Subscribe(ChannelSecurity)
	defer Unsubscribe(ch)

	Access("client connected")
	Security("auth rejected")

	select {
	case entry := <-ch:
		assert.Equal(t, ChannelSecurity, entry.Channel)
	default:
		t.Fatal("expected the security entry to be delivered")
	}

	select {
	case entry := <-ch:
		t.Fatalf("unexpected second entry delivered: %+v", entry)
	default:
	}
}
