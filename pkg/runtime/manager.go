package runtime

import (
	"fmt"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/sshpool"
)

// Manager hands out one connection per host for the duration of a run.
type Manager struct {
	ssh   *sshpool.Manager
	local *LocalConnection

	mu    sync.Mutex
	conns map[string]Connection
}

func NewManager(cfg config.SSHConfig) *Manager {
	return &Manager{
		ssh:   sshpool.NewManager(cfg),
		local: NewLocalConnection(),
		conns: make(map[string]Connection),
	}
}

// Get returns the connection for host. Connection variables in vars
// (ansible_connection, ansible_host, ansible_port, ansible_user) override the
// inventory values.
func (m *Manager) Get(host *inventory.Host, vars map[string]interface{}) (Connection, error) {
	target := sshpool.Target{Address: host.Addr(), Port: host.Port, User: host.User, Vars: vars}
	if addr, ok := vars["ansible_host"].(string); ok && addr != "" {
		target.Address = addr
	}
	if port, ok := vars["ansible_port"]; ok {
		if p, err := common.ToInt(port); err == nil {
			target.Port = p
		}
	}
	if user, ok := vars["ansible_user"].(string); ok && user != "" {
		target.User = user
	}

	if isLocal(host, vars) {
		return m.local, nil
	}

	key := fmt.Sprintf("%s@%s:%d", target.User, target.Address, target.Port)
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[key]; ok {
		return conn, nil
	}
	conn, err := NewSSHConnection(host.Name, target, m.ssh)
	if err != nil {
		return nil, Unreachable(host.Name, err)
	}
	m.conns[key] = conn
	return conn, nil
}

func isLocal(host *inventory.Host, vars map[string]interface{}) bool {
	if conn, ok := vars["ansible_connection"].(string); ok && conn != "" {
		return conn == "local"
	}
	return host.IsLocal()
}

// Close closes every connection and the SSH pools behind them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, conn := range m.conns {
		if err := conn.Close(); err != nil {
			common.LogWarn("Failed to close connection", map[string]interface{}{
				"target": key,
				"error":  err.Error(),
			})
		}
		delete(m.conns, key)
	}
	return m.ssh.Close()
}
