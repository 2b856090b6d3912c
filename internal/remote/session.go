package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/logging"
)

const dialTimeout = 10 * time.Second

// ErrSession marks a failure to establish the SSH session. The command
// layer maps it to the remote-specific process exit code.
var ErrSession = errors.New("remote session unavailable")

// Manager owns the single SSH session to the remote side. The session is
// built lazily on first use and torn down exactly once; all exit paths of
// the driver call Close, including signal-driven teardown.
//
// One client is shared by all pool workers: SSH multiplexes channels over
// the connection and every command opens its own channel, so no extra
// serialization is needed at this concurrency level.
type Manager struct {
	endpoint config.Endpoint
	logger   *logging.Logger

	mu     sync.Mutex
	client *ssh.Client

	closeOnce sync.Once
}

// NewManager creates a manager for the given endpoint. The connection is
// not established until Session or Run is first called.
func NewManager(endpoint config.Endpoint, logger *logging.Logger) *Manager {
	return &Manager{endpoint: endpoint, logger: logger}
}

// Session returns the memoized SSH client, dialing on first use.
func (m *Manager) Session(ctx context.Context) (*ssh.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	m.client = client
	return client, nil
}

func (m *Manager) dial(ctx context.Context) (*ssh.Client, error) {
	host := m.endpoint.Host
	if host == "" {
		return nil, fmt.Errorf("no remote host configured")
	}
	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "22")
	}

	sshUser := m.endpoint.User
	if sshUser == "" {
		if u, err := user.Current(); err == nil {
			sshUser = u.Username
		}
	}

	auth, err := publicKeyAuth(m.endpoint.KeyFile)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyPolicy(m.endpoint.Insecure)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            sshUser,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	m.logger.Debug("Opening SSH session to %s@%s", sshUser, addr)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Run executes a shell command on the remote host over a fresh SSH channel,
// wiring the given stdin and stdout. A configured remote-cmd is prepended
// as a wrapper (e.g. "sudo -n"). Context cancellation closes the channel so
// a hung command cannot block teardown.
func (m *Manager) Run(ctx context.Context, command string, stdin io.Reader, stdout io.Writer) error {
	client, err := m.Session(ctx)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh channel: %w", err)
	}
	defer session.Close()

	if m.endpoint.RemoteCmd != "" {
		command = m.endpoint.RemoteCmd + " " + command
	}

	session.Stdin = stdin
	session.Stdout = stdout
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return fmt.Errorf("start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("remote command failed: %w (stderr: %s)", err, msg)
			}
			return fmt.Errorf("remote command failed: %w", err)
		}
		return nil
	}
}

// ExitStatus extracts the remote exit status from a Run error, or -1 when
// the error does not carry one. Matched by interface so both ssh.ExitError
// and substituted runners report through the same path.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr interface{ ExitStatus() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// Close tears down the SSH connection. Safe to call multiple times and when
// no session was ever established.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.client == nil {
			return
		}
		m.logger.Debug("Closing SSH session to %s", m.endpoint.Host)
		if err := m.client.Close(); err != nil {
			m.logger.Warning("SSH session close: %v", err)
		}
		m.client = nil
	})
}

func publicKeyAuth(keyFile string) ([]ssh.AuthMethod, error) {
	candidates := []string{keyFile}
	if keyFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", path, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("no usable SSH private key found (tried %s)", strings.Join(candidates, ", "))
}

func hostKeyPolicy(insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w (set insecure: true to skip host verification)", path, err)
	}
	return callback, nil
}
