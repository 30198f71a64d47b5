// Package sshexec implements the one-shot SSH command executor of §4.5,
// grounded on golang.org/x/crypto/ssh (the pack's one SSH-capable
// dependency, a direct require of southerncoder-gh-aw and indirect in two
// other examples).
package sshexec

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Result mirrors the uniform execution result of §3.
type Result struct {
	Success  bool
	Output   string
	ErrorMsg string
	ExitCode *int
	Content  string
}

// ExecuteSSHCommand implements executeSSHCommand from §4.5: connect to
// host:22 with a ready deadline of readyTimeout, authenticate with
// password, run the single command string, and collect stdout/stderr
// (stderr lines tagged "STDERR: " into the same buffer), closing the
// connection on every exit path.
func ExecuteSSHCommand(host, username, password, command string, readyTimeout time.Duration) Result {
	addr := net.JoinHostPort(host, "22")

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         readyTimeout,
	}

	conn, err := net.DialTimeout("tcp", addr, readyTimeout)
	if err != nil {
		msg := fmt.Sprintf("SSH connection timeout to %s", host)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		msg := fmt.Sprintf("Connection failed to %s: %v", host, err)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		msg := fmt.Sprintf("Connection failed to %s: %v", host, err)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		msg := fmt.Sprintf("Connection failed to %s: %v", host, err)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		msg := fmt.Sprintf("Connection failed to %s: %v", host, err)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}

	// x/crypto/ssh requires every read from the Stdout/Stderr pipes to
	// complete before Wait is called; the WaitGroup enforces that ordering
	// and the mutex makes the shared buffer safe for the two concurrent
	// scanner goroutines.
	var buf strings.Builder
	var bufMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, &buf, &bufMu, "")
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, &buf, &bufMu, "STDERR: ")
	}()

	if err := session.Start(command); err != nil {
		msg := fmt.Sprintf("Connection failed to %s: %v", host, err)
		return Result{Success: false, ErrorMsg: msg, Content: msg}
	}

	wg.Wait()
	waitErr := session.Wait()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			exitCode = -1
		}
	}

	content := fmt.Sprintf("SSH Command completed (code: %d):\n%s", exitCode, buf.String())
	return Result{
		Success:  exitCode == 0,
		Output:   buf.String(),
		ExitCode: &exitCode,
		Content:  content,
	}
}

func streamLines(r interface{ Read([]byte) (int, error) }, buf *strings.Builder, mu *sync.Mutex, prefix string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		mu.Lock()
		buf.WriteString(prefix)
		buf.WriteString(scanner.Text())
		buf.WriteString("\n")
		mu.Unlock()
	}
}

// CredentialResolver resolves the REMOTE_USERNAME/REMOTE_PASSWORD pair used
// by ExecuteRemoteCommand, decrypting the password via credstore on first
// use and memoizing it for the request (§4.5's executeRemoteCommand thin
// wrapper). The decrypt function is injected so sshexec does not import
// credstore directly, keeping the dependency direction leaf-first.
type CredentialResolver struct {
	Username string
	password string
	decrypt  func(string) (string, error)
	resolved bool
}

// NewCredentialResolver builds a resolver. rawPassword may carry the
// "encrypted:" prefix; decrypt is called at most once.
func NewCredentialResolver(username, rawPassword string, decrypt func(string) (string, error)) *CredentialResolver {
	return &CredentialResolver{Username: username, password: rawPassword, decrypt: decrypt}
}

// Password returns the plaintext password, decrypting and memoizing on
// first call.
func (r *CredentialResolver) Password() (string, error) {
	if r.resolved {
		return r.password, nil
	}
	plain, err := r.decrypt(r.password)
	if err != nil {
		return "", fmt.Errorf("Failed to decrypt remote password: %w", err)
	}
	r.password = plain
	r.resolved = true
	return r.password, nil
}

// ExecuteRemoteCommand is the thin wrapper from §4.5: it resolves
// credentials via resolver and delegates to ExecuteSSHCommand.
func ExecuteRemoteCommand(host, command string, resolver *CredentialResolver, readyTimeout time.Duration) Result {
	password, err := resolver.Password()
	if err != nil {
		return Result{Success: false, ErrorMsg: err.Error(), Content: err.Error()}
	}
	return ExecuteSSHCommand(host, resolver.Username, password, command, readyTimeout)
}
