package sshpool

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/config"
	desopssshpool "github.com/desops/sshpool"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Target describes where and as whom to connect.
type Target struct {
	Address string
	Port    int
	User    string
	// Vars are the host's connection variables (ansible_ssh_private_key_file, ansible_password).
	Vars map[string]interface{}
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

func (t Target) key() string {
	return t.User + "@" + t.Addr()
}

// Manager manages SSH connection pools for multiple hosts
type Manager struct {
	pools map[string]*desopssshpool.Pool
	mu    sync.Mutex
	cfg   config.SSHConfig

	hostKeyOnce     sync.Once
	hostKeyCallback ssh.HostKeyCallback
	hostKeyErr      error
}

// NewManager creates a new SSH pool manager
func NewManager(cfg config.SSHConfig) *Manager {
	return &Manager{
		pools: make(map[string]*desopssshpool.Pool),
		cfg:   cfg,
	}
}

// Resolve fills in the user and port defaults for a target.
func (m *Manager) Resolve(t Target) (Target, error) {
	if t.Port == 0 {
		t.Port = m.cfg.Port
	}
	if t.Port == 0 {
		t.Port = 22
	}
	if t.User == "" {
		t.User = m.cfg.User
	}
	if t.User == "" {
		current, err := user.Current()
		if err != nil {
			return t, fmt.Errorf("failed to determine SSH user for %s: %w", t.Address, err)
		}
		t.User = current.Username
	}
	return t, nil
}

// GetPool returns or creates the pool for the target.
func (m *Manager) GetPool(t Target) (*desopssshpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, exists := m.pools[t.key()]; exists {
		return pool, nil
	}

	clientConfig, err := m.ClientConfig(t)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH config for host %s: %w", t.Address, err)
	}

	maxSessions := m.cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 10
	}
	maxConnections := m.cfg.MaxConnections
	if maxConnections <= 0 {
		maxConnections = 5
	}
	pool := desopssshpool.New(clientConfig, &desopssshpool.PoolConfig{
		MaxSessions:       maxSessions,
		MaxConnections:    maxConnections,
		SessionCloseDelay: 20 * time.Millisecond,
	})
	common.LogDebug("Created SSH pool", map[string]interface{}{
		"host":            t.Address,
		"user":            t.User,
		"max_sessions":    maxSessions,
		"max_connections": maxConnections,
	})
	m.pools[t.key()] = pool
	return pool, nil
}

// ClientConfig builds the ssh client configuration for a target.
func (m *Manager) ClientConfig(t Target) (*ssh.ClientConfig, error) {
	authMethods := m.buildAuthMethods(t)
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication methods available for host %s", t.Address)
	}

	hostKeyCallback, err := m.buildHostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := m.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		ClientVersion:   "SSH-2.0-converge",
	}, nil
}

// buildAuthMethods collects key files, the ssh agent and a password, in that order.
func (m *Manager) buildAuthMethods(t Target) []ssh.AuthMethod {
	var authMethods []ssh.AuthMethod

	var keyFiles []string
	for _, name := range []string{"ansible_ssh_private_key_file", "ansible_private_key_file"} {
		if keyPath, ok := t.Vars[name].(string); ok && keyPath != "" {
			keyFiles = append(keyFiles, keyPath)
		}
	}
	if m.cfg.PrivateKeyFile != "" {
		keyFiles = append(keyFiles, m.cfg.PrivateKeyFile)
	}
	for _, keyPath := range keyFiles {
		if method := loadPrivateKeyFile(keyPath, t.Address); method != nil {
			authMethods = append(authMethods, method)
		}
	}

	if agentMethod := buildSSHAgentAuth(t.Address); agentMethod != nil {
		authMethods = append(authMethods, agentMethod)
	}

	for _, name := range []string{"ansible_password", "ansible_ssh_pass"} {
		if password, ok := t.Vars[name].(string); ok && password != "" {
			authMethods = append(authMethods, ssh.Password(password))
			authMethods = append(authMethods, ssh.KeyboardInteractive(
				func(user, instruction string, questions []string, echos []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = password
					}
					return answers, nil
				},
			))
			break
		}
	}

	return authMethods
}

// loadPrivateKeyFile loads a private key from file
func loadPrivateKeyFile(keyPath, host string) ssh.AuthMethod {
	keyPath = expandHome(keyPath)

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		common.LogWarn("Failed to read SSH private key file", map[string]interface{}{
			"host":     host,
			"key_path": keyPath,
			"error":    err.Error(),
		})
		return nil
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		common.LogWarn("Failed to parse SSH private key file", map[string]interface{}{
			"host":     host,
			"key_path": keyPath,
			"error":    err.Error(),
		})
		return nil
	}

	return ssh.PublicKeys(signer)
}

// buildSSHAgentAuth builds SSH agent authentication if available
func buildSSHAgentAuth(host string) ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		common.LogWarn("Failed to connect to SSH agent", map[string]interface{}{
			"host":  host,
			"error": err.Error(),
		})
		return nil
	}

	agentClient := agent.NewClient(conn)
	common.LogDebug("SSH agent available, adding public key authentication", map[string]interface{}{
		"host": host,
	})

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// buildHostKeyCallback loads known_hosts once when host key checking is on.
func (m *Manager) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if !m.cfg.HostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	m.hostKeyOnce.Do(func() {
		path := expandHome(m.cfg.KnownHostsFile)
		if path == "" {
			path = expandHome("~/.ssh/known_hosts")
		}
		m.hostKeyCallback, m.hostKeyErr = knownhosts.New(path)
		if m.hostKeyErr != nil {
			m.hostKeyErr = fmt.Errorf("failed to load known_hosts %s: %w", path, m.hostKeyErr)
		}
	})
	return m.hostKeyCallback, m.hostKeyErr
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return homeDir + path[1:]
		}
	}
	return path
}

// Close closes all SSH pools
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, pool := range m.pools {
		pool.Close()
		delete(m.pools, key)
	}
	return nil
}

// CloseHost closes the SSH pool for a specific target
func (m *Manager) CloseHost(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, exists := m.pools[t.key()]; exists {
		pool.Close()
		delete(m.pools, t.key())
	}
}
