package handlers

import (
	"errors"
	"sync"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/playbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handler(name string, listen ...string) *playbook.Action {
	return &playbook.Action{Common: playbook.Common{Name: name}, Module: "command", Listen: listen}
}

func names(actions []*playbook.Action) []string {
	var out []string
	for _, a := range actions {
		out = append(out, a.Name)
	}
	return out
}

func TestNotifyDeduplicates(t *testing.T) {
	restart := handler("restart-x")
	q := New([]*playbook.Action{restart})

	for i := 0; i < 3; i++ {
		added, err := q.Notify("h1", "restart-x")
		require.NoError(t, err)
		assert.Equal(t, i == 0, added)
	}
	assert.Equal(t, []string{"restart-x"}, names(q.Pending("h1")))
	assert.Empty(t, q.Pending("h2"))

	drained := q.Drain("h1")
	assert.Equal(t, []string{"restart-x"}, names(drained))
	assert.Empty(t, q.Pending("h1"))

	// A new flush cycle accepts the handler again
	added, err := q.Notify("h1", "restart-x")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestFirstNotifiedOrder(t *testing.T) {
	a, b, c := handler("a"), handler("b"), handler("c")
	q := New([]*playbook.Action{a, b, c})
	require.NoError(t, q.NotifyAll("h1", []string{"c", "a", "c", "b"}))
	assert.Equal(t, []string{"c", "a", "b"}, names(q.Drain("h1")))
}

func TestListenAliases(t *testing.T) {
	web := handler("restart web", "restart stack")
	db := handler("restart db", "restart stack")
	other := handler("other")
	q := New([]*playbook.Action{web, db, other})

	added, err := q.Notify("h1", "restart stack")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"restart web", "restart db"}, names(q.Pending("h1")))

	// Already queued through the alias
	added, err = q.Notify("h1", "restart db")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestUnknownHandler(t *testing.T) {
	q := New([]*playbook.Action{handler("known")})
	_, err := q.Notify("h1", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownHandler))
	assert.Empty(t, q.Pending("h1"))
}

func TestStatsAndReset(t *testing.T) {
	h := handler("h")
	q := New([]*playbook.Action{h})
	_, _ = q.Notify("host", "h")
	assert.Equal(t, Stats{Notified: 1, Pending: 1}, q.Stats("host"))

	for _, drained := range q.Drain("host") {
		q.MarkExecuted("host", drained)
	}
	assert.Equal(t, Stats{Notified: 1, Executed: 1}, q.Stats("host"))

	_, _ = q.Notify("host", "h")
	q.Reset("host")
	assert.Equal(t, 0, q.Stats("host").Pending)
	assert.Len(t, q.Handlers(), 1)
}

func TestConcurrentHosts(t *testing.T) {
	q := New([]*playbook.Action{handler("h")})
	var wg sync.WaitGroup
	hosts := []string{"a", "b", "c", "d"}
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = q.Notify(host, "h")
			}
		}(host)
	}
	wg.Wait()
	for _, host := range hosts {
		assert.Len(t, q.Pending(host), 1)
	}
}
