package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHoldTimeout bounds a single fire's network calls.
const DefaultHoldTimeout = 10 * time.Minute

// Connectivity reports whether the device currently has a network.
type Connectivity interface {
	Connected() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

// Connected implements Connectivity.
func (f ConnectivityFunc) Connected() bool { return f() }

// AlwaysConnected is used when the host cannot report connectivity.
var AlwaysConnected Connectivity = ConnectivityFunc(func() bool { return true })

// SwitchableConnectivity is a Connectivity whose answer can be flipped,
// for hosts that push connectivity changes and for tests.
type SwitchableConnectivity struct {
	up atomic.Bool
}

// NewSwitchableConnectivity starts in the given state.
func NewSwitchableConnectivity(up bool) *SwitchableConnectivity {
	c := &SwitchableConnectivity{}
	c.up.Store(up)
	return c
}

// Connected implements Connectivity.
func (c *SwitchableConnectivity) Connected() bool { return c.up.Load() }

// Set changes the reported state.
func (c *SwitchableConnectivity) Set(up bool) { c.up.Store(up) }

// Hold keeps the host from suspending work while a fire's requests run.
type Hold interface {
	Release()
}

// HoldProvider acquires execution holds. The host is expected to drop the
// hold on its own once timeout passes.
type HoldProvider interface {
	Acquire(timeout time.Duration) Hold
}

// CountingHolds is a HoldProvider that only counts. It is the default when
// the host has nothing to suspend.
type CountingHolds struct {
	active   atomic.Int64
	acquired atomic.Int64
}

// Acquire implements HoldProvider. Releasing the returned hold twice has no
// further effect.
func (h *CountingHolds) Acquire(time.Duration) Hold {
	h.active.Add(1)
	h.acquired.Add(1)
	return &countedHold{owner: h}
}

// Active returns the number of holds not yet released.
func (h *CountingHolds) Active() int64 { return h.active.Load() }

// Acquired returns the number of holds ever acquired.
func (h *CountingHolds) Acquired() int64 { return h.acquired.Load() }

type countedHold struct {
	owner *CountingHolds
	once  sync.Once
}

func (c *countedHold) Release() {
	c.once.Do(func() { c.owner.active.Add(-1) })
}

// OnlineFlag is the session-owned online/offline indicator. The engine
// demotes it from the watchdog and promotes it on any successful contact.
type OnlineFlag struct {
	mu     sync.RWMutex
	online bool
}

// NewOnlineFlag creates a flag in the given state.
func NewOnlineFlag(online bool) *OnlineFlag {
	return &OnlineFlag{online: online}
}

// Online reports the current state.
func (f *OnlineFlag) Online() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.online
}

// Set changes the state and reports whether it was different.
func (f *OnlineFlag) Set(online bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.online == online {
		return false
	}
	f.online = online
	return true
}
