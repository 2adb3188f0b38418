// Package transport is the RPC fabric that carries RequestVote, AppendEntries,
// InstallSnapshot, and KV client calls between peers. It is deliberately thin:
// the consensus and kvraft packages only ever see the ClientEnd interface, so
// either implementation below — or a future grpc/quic one — can serve a cluster
// without touching core logic.
package transport

import (
	"errors"
	"net"
	"net/rpc"
)

// ClientEnd is a named endpoint that can place one RPC and wait for its reply.
// A false return means "no answer" — it is the caller's
// job to treat that identically to a dropped packet, never as a protocol error.
type ClientEnd interface {
	// Call invokes serviceMethod (e.g. "Raft.RequestVote") on the remote end,
	// blocking until a reply arrives or the underlying transport gives up.
	Call(serviceMethod string, args, reply interface{}) bool
}

// ErrUnreachable is returned by implementations that distinguish "dialed but
// the peer refused" from "timed out"; callers generally don't care which.
var ErrUnreachable = errors.New("transport: peer unreachable")

// RPCClientEnd dials a real net/rpc server per call. Raft and kvraft RPCs are
// infrequent enough (bounded by heartbeat period) that paying dial cost is
// acceptable; a production deployment would pool connections, which is a
// matter for a transport implementation to improve without touching the
// consensus or kvraft packages.
type RPCClientEnd struct {
	Addr string
}

func (e *RPCClientEnd) Call(serviceMethod string, args, reply interface{}) bool {
	client, err := rpc.Dial("tcp", e.Addr)
	if err != nil {
		return false
	}
	defer client.Close()
	if err := client.Call(serviceMethod, args, reply); err != nil {
		return false
	}
	return true
}

// NewRPCClientEnds builds one ClientEnd per peer address.
func NewRPCClientEnds(addrs []string) []ClientEnd {
	ends := make([]ClientEnd, len(addrs))
	for i, a := range addrs {
		ends[i] = &RPCClientEnd{Addr: a}
	}
	return ends
}

// Services maps an RPC service name (e.g. "Raft", "KVServer") to the
// receiver that implements it, for registering several services on one
// listener.
type Services map[string]interface{}

// Listen registers every (name, svc) pair in services and serves them all on
// addr until the listener is closed. A single peer's Raft and KVServer
// receivers share one listener since callers already address them through
// the same ClientEnd.
func Listen(addr string, services Services) (net.Listener, error) {
	server := rpc.NewServer()
	for name, svc := range services {
		if err := server.RegisterName(name, svc); err != nil {
			return nil, err
		}
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go server.Accept(l)
	return l, nil
}
