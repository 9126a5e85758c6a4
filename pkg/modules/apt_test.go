package modules

import (
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
)

func TestAptModule(t *testing.T) {
	installed := runtime.CommandResult{Stdout: "install ok installed"}
	unknown := runtime.CommandResult{ExitCode: 1, Stderr: "dpkg-query: no packages found matching curl"}

	tests := []struct {
		name    string
		replies map[string]runtime.CommandResult
		args    map[string]interface{}
		check   bool
		status  Status
		actions []string
	}{
		{
			name:    "install missing",
			replies: map[string]runtime.CommandResult{"dpkg-query": unknown},
			args:    map[string]interface{}{"name": "curl"},
			status:  StatusChanged,
			actions: []string{"apt-get -q -y install curl"},
		},
		{
			name:    "already present",
			replies: map[string]runtime.CommandResult{"dpkg-query": installed},
			args:    map[string]interface{}{"name": []interface{}{"curl", "git"}, "state": "present"},
			status:  StatusOK,
		},
		{
			name:    "remove installed",
			replies: map[string]runtime.CommandResult{"dpkg-query": installed},
			args:    map[string]interface{}{"name": "curl", "state": "absent"},
			status:  StatusChanged,
			actions: []string{"apt-get -q -y remove curl"},
		},
		{
			name: "latest already newest",
			replies: map[string]runtime.CommandResult{
				"dpkg-query":            installed,
				"apt-get -q -y install": {Stdout: "curl is already the newest version.\n0 upgraded, 0 newly installed, 0 to remove and 0 not upgraded.\n"},
			},
			args:    map[string]interface{}{"name": "curl", "state": "latest"},
			status:  StatusOK,
			actions: []string{"apt-get -q -y install curl"},
		},
		{
			name:    "update cache first",
			replies: map[string]runtime.CommandResult{"dpkg-query": unknown},
			args:    map[string]interface{}{"name": "curl", "update_cache": true},
			status:  StatusChanged,
			actions: []string{"apt-get -q update", "apt-get -q -y install curl"},
		},
		{
			name:    "check mode",
			replies: map[string]runtime.CommandResult{"dpkg-query": unknown},
			args:    map[string]interface{}{"name": "curl"},
			check:   true,
			status:  StatusChanged,
		},
		{
			name: "install fails",
			replies: map[string]runtime.CommandResult{
				"dpkg-query":            unknown,
				"apt-get -q -y install": {ExitCode: 100, Stderr: "E: Unable to locate package curl"},
			},
			args:    map[string]interface{}{"name": "curl"},
			status:  StatusFailed,
			actions: []string{"apt-get -q -y install curl"},
		},
		{
			name:   "invalid state",
			args:   map[string]interface{}{"name": "curl", "state": "purged"},
			status: StatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptedConn{replies: tt.replies}
			r, _ := newTestRunner(conn)
			res := invokeReq(t, r, Request{Module: "apt", Args: tt.args, Check: tt.check})
			assert.Equal(t, tt.status, res.Status, res.Msg)
			assert.Equal(t, tt.actions, conn.mutating("dpkg-query"))
			for _, env := range conn.envs {
				assert.Equal(t, "noninteractive", env["DEBIAN_FRONTEND"])
			}
		})
	}
}
