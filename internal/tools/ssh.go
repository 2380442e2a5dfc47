package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// sshConnectTimeout bounds the TCP+handshake phase so unreachable hosts fail
// fast instead of eating the whole command timeout.
const sshConnectTimeout = 10 * time.Second

// runRemote executes a command on a remote server over SSH. Every failure
// mode gets a distinct message naming the server and the remediation step,
// because these errors are read by the model and relayed to an operator who
// has to act on them.
func runRemote(ctx context.Context, server *inventory.ServerEntry, command string) *ToolResult {
	config, result := sshClientConfig(server)
	if result != nil {
		return result
	}

	addr := net.JoinHostPort(server.Host, "22")
	client, err := sshDial(ctx, addr, config)
	if err != nil {
		return cleanResult(classifySSHError(server, err))
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return failf(1, "Failed to open SSH session on %s: %v — the server may be dropping connections", server.Name, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		// Best effort: tear the connection down so the remote side notices.
		client.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failf(exitTimeout, "Command timed out on %s", server.Name)
		}
		return failf(exitTimeout, "Command cancelled on %s", server.Name)
	case runErr := <-done:
		res := &ToolResult{Output: stdout.String(), Error: stderr.String()}
		if runErr != nil {
			var exitErr *ssh.ExitError
			switch {
			case errors.As(runErr, &exitErr):
				res.ExitCode = exitErr.ExitStatus()
				if res.Error == "" {
					res.Error = fmt.Sprintf("exit status %d", res.ExitCode)
				}
			default:
				res.Error = fmt.Sprintf("SSH connection to %s was lost while running the command: %v — retry once the host is reachable", server.Name, runErr)
				res.ExitCode = 1
			}
		}
		return cleanResult(res)
	}
}

// sshClientConfig builds the client config from the server entry. Host keys
// are strict by default; `host_key_checking: false` is the explicit opt-out
// and is logged loudly.
func sshClientConfig(server *inventory.ServerEntry) (*ssh.ClientConfig, *ToolResult) {
	keyPath := server.SSHKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_ed25519")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, failf(1, "Invalid SSH key file for %s: %v — check ssh_key_path in the inventory", server.Name, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, failf(1, "Invalid SSH key file for %s: %v — the key may be encrypted or malformed", server.Name, err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if server.StrictHostKey() {
		knownHosts := server.KnownHostsPath
		if knownHosts == "" {
			knownHosts = filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
		}
		hostKeyCallback, err = knownhosts.New(knownHosts)
		if err != nil {
			return nil, failf(1, "Cannot load known_hosts for %s: %v — create the file or set known_hosts_path", server.Name, err)
		}
	} else {
		slog.Warn("host key verification disabled", "server", server.Name)
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            server.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         sshConnectTimeout,
	}, nil
}

// sshDial honors context cancellation during the connect phase.
func sshDial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// classifySSHError maps connect-phase failures to the operator-facing message
// taxonomy: timeout, authentication, host key, disconnect, generic.
func classifySSHError(server *inventory.ServerEntry, err error) *ToolResult {
	msg := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failf(1, "Connection to %s (%s) timed out — check the host is up and port 22 is reachable", server.Name, server.Host)
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(msg, "knownhosts") || strings.Contains(msg, "key mismatch") {
		return failf(1, "Host key for %s is not trusted: %v — verify the host and add its key to known_hosts", server.Name, err)
	}

	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied") {
		return failf(1, "Permission denied connecting to %s as %s — check ssh_key_path and that the key is authorized on the host", server.Name, server.User)
	}

	if strings.Contains(msg, "connection refused") {
		return failf(1, "Connection to %s (%s) refused — check sshd is running on the host", server.Name, server.Host)
	}

	if strings.Contains(msg, "handshake failed") || strings.Contains(msg, "EOF") {
		return failf(1, "SSH handshake with %s failed: %v — the server closed the connection", server.Name, err)
	}

	return failf(1, "Cannot connect to %s (%s): %v", server.Name, server.Host, err)
}
