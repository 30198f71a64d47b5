package sshexec

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecuteSSHCommandConnectTimeout(t *testing.T) {
	// 198.51.100.0/24 is TEST-NET-2 (RFC 5737), guaranteed unroutable.
	res := ExecuteSSHCommand("198.51.100.1", "user", "pass", "echo hi", 200*time.Millisecond)
	assert.False(t, res.Success)
	assert.Contains(t, res.Content, "SSH connection timeout")
}

func TestCredentialResolverMemoizesDecryption(t *testing.T) {
	calls := 0
	resolver := NewCredentialResolver("Administrator", "encrypted:abc", func(s string) (string, error) {
		calls++
		return "plaintext", nil
	})

	p1, err := resolver.Password()
	assert.NoError(t, err)
	assert.Equal(t, "plaintext", p1)

	p2, err := resolver.Password()
	assert.NoError(t, err)
	assert.Equal(t, "plaintext", p2)
	assert.Equal(t, 1, calls)
}

// TestStreamLinesConcurrentWritesDoNotLoseData drives two streamLines
// goroutines against the same buffer the way ExecuteSSHCommand does for
// stdout/stderr, verifying the shared strings.Builder survives concurrent
// writers under the mutex (rather than only under the race detector).
func TestStreamLinesConcurrentWritesDoNotLoseData(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	const linesPerStream = 200

	var buf strings.Builder
	var bufMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdoutR, &buf, &bufMu, "")
	}()
	go func() {
		defer wg.Done()
		streamLines(stderrR, &buf, &bufMu, "STDERR: ")
	}()

	var writers sync.WaitGroup
	writers.Add(2)
	go func() {
		defer writers.Done()
		defer stdoutW.Close()
		for i := 0; i < linesPerStream; i++ {
			fmt.Fprintf(stdoutW, "out-%d\n", i)
		}
	}()
	go func() {
		defer writers.Done()
		defer stderrW.Close()
		for i := 0; i < linesPerStream; i++ {
			fmt.Fprintf(stderrW, "err-%d\n", i)
		}
	}()
	writers.Wait()
	wg.Wait()

	result := buf.String()
	lineCount := strings.Count(result, "\n")
	assert.Equal(t, 2*linesPerStream, lineCount)
	assert.Equal(t, linesPerStream, strings.Count(result, "out-"))
	assert.Equal(t, linesPerStream, strings.Count(result, "STDERR: err-"))
}

func TestCredentialResolverPropagatesDecryptError(t *testing.T) {
	resolver := NewCredentialResolver("Administrator", "encrypted:bad", func(s string) (string, error) {
		return "", errors.New("authentication tag mismatch")
	})

	_, err := resolver.Password()
	assert.ErrorContains(t, err, "Failed to decrypt remote password")
}
