package resource

import (
	"net"
	"sort"
	"sync"

	snowyerr "github.com/turtacn/Snowy/pkg/errors"
	"github.com/turtacn/Snowy/pkg/logger"
	"github.com/turtacn/Snowy/pkg/protocol"
)

// SocketManager owns the TCP listeners of the daemon and refuses to bind
// anything reachable from off the device.
type SocketManager struct {
	mu sync.Mutex

	// Active listeners keyed by the requested address and by the bound address
	listeners map[string]net.Listener
}

func NewSocketManager() *SocketManager {
	return &SocketManager{
		listeners: make(map[string]net.Listener),
	}
}

// EnsureListener returns the listener for addr, binding it on first use.
// addr must name a loopback host; "127.0.0.1:0" picks a free port.
func (sm *SocketManager) EnsureListener(addr string) (net.Listener, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// 1. Check if we already have it active
	if l, ok := sm.listeners[addr]; ok {
		return l, nil
	}

	// 2. Loopback only
	if !protocol.IsLoopbackAddr(addr) {
		return nil, snowyerr.New(snowyerr.ErrCodeSocketBindFailed, "EnsureListener", "refusing non-loopback address "+addr, nil)
	}

	// 3. Bind
	logger.Log.Info("Binding loopback listener", "addr", addr)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, snowyerr.New(snowyerr.ErrCodeSocketBindFailed, "EnsureListener", "listen "+addr, err)
	}

	bound := l.Addr().String()
	sm.listeners[addr] = l
	sm.listeners[bound] = l
	return l, nil
}

// Release closes the listener registered under addr (requested or bound form).
func (sm *SocketManager) Release(addr string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	l, ok := sm.listeners[addr]
	if !ok {
		return
	}
	l.Close()
	for k, v := range sm.listeners {
		if v == l {
			delete(sm.listeners, k)
		}
	}
}

// Addrs lists the bound address of every active listener, sorted.
func (sm *SocketManager) Addrs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	seen := make(map[net.Listener]bool)
	var addrs []string
	for _, l := range sm.listeners {
		if !seen[l] {
			seen[l] = true
			addrs = append(addrs, l.Addr().String())
		}
	}
	sort.Strings(addrs)
	return addrs
}

func (sm *SocketManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	seen := make(map[net.Listener]bool)
	for _, l := range sm.listeners {
		if !seen[l] {
			l.Close()
			seen[l] = true
		}
	}
	sm.listeners = make(map[string]net.Listener)
}

// Personal.AI order the ending
