package maintenance

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNode struct {
	mu      sync.Mutex
	entries []string
	fail    bool
	panics  bool
}

func (n *countingNode) Bootstrap(entryAddr string) error {
	n.mu.Lock()
	n.entries = append(n.entries, entryAddr)
	fail, panics := n.fail, n.panics
	n.mu.Unlock()
	if panics {
		panic("bootstrap exploded")
	}
	if fail {
		return errors.New("entry unreachable")
	}
	return nil
}

func (n *countingNode) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

func startScheduler(t *testing.T, node *countingNode) *clock.Mock {
	t.Helper()
	clk := clock.NewMock()
	s := NewScheduler(SchedulerOptions{
		Node:         node,
		EntryAddr:    "192.0.2.1:4001",
		InitialDelay: 2 * time.Minute,
		Interval:     time.Hour,
		Clock:        clk,
	})
	s.Start()
	t.Cleanup(s.Stop)
	return clk
}

// advanceUntil moves the clock forward in steps until cond holds.
func advanceUntil(t *testing.T, clk *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clk.Add(step)
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func Test_First_Run_Waits_For_Initial_Delay(t *testing.T) {
	node := &countingNode{}
	clk := startScheduler(t, node)

	clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, node.calls())

	clk.Add(time.Minute)
	assert.Eventually(t, func() bool { return node.calls() == 1 }, time.Second, 5*time.Millisecond)
	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Equal(t, []string{"192.0.2.1:4001"}, node.entries)
}

func Test_Runs_Repeat_Every_Interval(t *testing.T) {
	node := &countingNode{}
	clk := startScheduler(t, node)

	clk.Add(2 * time.Minute)
	require.Eventually(t, func() bool { return node.calls() == 1 }, time.Second, 5*time.Millisecond)

	advanceUntil(t, clk, 10*time.Minute, func() bool { return node.calls() >= 2 })
	advanceUntil(t, clk, 10*time.Minute, func() bool { return node.calls() >= 3 })
}

func Test_Failures_And_Panics_Do_Not_Stop_The_Schedule(t *testing.T) {
	node := &countingNode{fail: true}
	clk := startScheduler(t, node)

	clk.Add(2 * time.Minute)
	require.Eventually(t, func() bool { return node.calls() == 1 }, time.Second, 5*time.Millisecond)

	node.mu.Lock()
	node.fail, node.panics = false, true
	node.mu.Unlock()
	advanceUntil(t, clk, 10*time.Minute, func() bool { return node.calls() >= 2 })

	node.mu.Lock()
	node.panics = false
	node.mu.Unlock()
	advanceUntil(t, clk, 10*time.Minute, func() bool { return node.calls() >= 3 })
}

func Test_Stop_Cancels_Future_Runs(t *testing.T) {
	node := &countingNode{}
	clk := clock.NewMock()
	s := NewScheduler(SchedulerOptions{Node: node, InitialDelay: time.Minute, Interval: time.Hour, Clock: clk})
	s.Start()
	s.Stop()
	s.Stop()

	clk.Add(2 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, node.calls())
}
