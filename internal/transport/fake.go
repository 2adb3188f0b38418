package transport

import (
	"math/rand"
	"reflect"
	"sync"
	"time"
)

// FakeNetwork simulates a lossy, reorderable RPC fabric: requests and
// replies may be dropped or delayed, and a disconnected peer
// behaves like a dead or partitioned one — but a live handler always
// eventually returns, so callers never need their own timeouts. It exists
// purely for the raft/kvraft test suites; nothing in internal/raft or
// internal/kvraft imports it, they only see the ClientEnd interface.
type FakeNetwork struct {
	mu         sync.Mutex
	reliable   bool
	longDelays bool // fail calls to a disconnected peer only after a long pause instead of failing fast
	servers    map[string]reflect.Value // server name -> receiver
	endpoints  map[string]string        // end name -> server name it's wired to
	enabled    map[string]bool          // end name -> connected
	callCount  int64
}

// NewFakeNetwork returns a reliable network with no registered peers.
func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{
		reliable:  true,
		servers:   make(map[string]reflect.Value),
		endpoints: make(map[string]string),
		enabled:   make(map[string]bool),
	}
}

func (n *FakeNetwork) SetReliable(reliable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reliable = reliable
}

func (n *FakeNetwork) SetLongDelays(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.longDelays = v
}

// AddServer registers svc (a *raft.Raft or *kvraft.KVServer, reached through
// its exported methods via reflection) under serverName.
func (n *FakeNetwork) AddServer(serverName string, svc interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[serverName] = reflect.ValueOf(svc)
}

// MakeEnd creates a new endpoint named endName, initially disconnected and
// wired to nothing; call Connect to route it at a server.
func (n *FakeNetwork) MakeEnd(endName string) *FakeClientEnd {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled[endName] = false
	return &FakeClientEnd{name: endName, net: n}
}

// Connect wires endName's calls to serverName and marks it reachable.
func (n *FakeNetwork) Connect(endName, serverName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[endName] = serverName
	n.enabled[endName] = true
}

// Disconnect simulates a partition isolating endName from the fabric.
func (n *FakeNetwork) Disconnect(endName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled[endName] = false
}

// Reconnect heals a previously disconnected endpoint.
func (n *FakeNetwork) Reconnect(endName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled[endName] = true
}

func (n *FakeNetwork) CallCount() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.callCount
}

// FakeClientEnd is the FakeNetwork's ClientEnd implementation.
type FakeClientEnd struct {
	name string
	net  *FakeNetwork
}

func methodNameOf(serviceDotMethod string) string {
	for i := len(serviceDotMethod) - 1; i >= 0; i-- {
		if serviceDotMethod[i] == '.' {
			return serviceDotMethod[i+1:]
		}
	}
	return serviceDotMethod
}

// Call implements ClientEnd. serviceMethod is "Raft.RequestVote" etc; the
// receiver is whatever server e is currently Connect-ed to.
func (e *FakeClientEnd) Call(serviceMethod string, args, reply interface{}) bool {
	n := e.net

	n.mu.Lock()
	reliable := n.reliable
	longDelays := n.longDelays
	enabled := n.enabled[e.name]
	serverName, wired := n.endpoints[e.name]
	var rcvr reflect.Value
	var hasServer bool
	if wired {
		rcvr, hasServer = n.servers[serverName]
	}
	n.callCount++
	n.mu.Unlock()

	if !enabled || !hasServer {
		if longDelays {
			time.Sleep(time.Duration(rand.Intn(7000)) * time.Millisecond)
		} else {
			time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
		}
		return false
	}

	if !reliable {
		time.Sleep(time.Duration(rand.Intn(27)) * time.Millisecond)
		if rand.Intn(1000) < 100 {
			return false // drop the request
		}
	}

	method := rcvr.MethodByName(methodNameOf(serviceMethod))
	if !method.IsValid() {
		return false
	}

	argVal := reflect.New(reflect.TypeOf(args).Elem())
	argVal.Elem().Set(reflect.ValueOf(args).Elem())
	replyVal := reflect.New(reflect.TypeOf(reply).Elem())

	method.Call([]reflect.Value{argVal, replyVal})

	if !reliable && rand.Intn(1000) < 100 {
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
		return false // drop the reply
	}

	reflect.ValueOf(reply).Elem().Set(replyVal.Elem())
	return true
}
