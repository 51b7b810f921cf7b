package clusterlock

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config configures a Raft-backed cluster Lock.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Lock reports and gates on Raft leadership. A nil *raft.Raft (as
// produced by Standalone) always reports leadership, for single-node
// deployments and tests.
type Lock struct {
	raft *raft.Raft
}

// Standalone returns a Lock that always considers the local node the
// leader, for single-replica deployments that don't need a Raft quorum.
func Standalone() *Lock {
	return &Lock{}
}

// Bootstrap starts a single-node Raft cluster rooted at cfg.DataDir and
// returns a Lock wrapping it, with tighter-than-default heartbeat and
// election timeouts for faster failover on a local cluster.
func Bootstrap(cfg Config) (*Lock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("clusterlock: create data dir: %w", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("clusterlock: resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterlock: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("clusterlock: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterlock: create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("clusterlock: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("clusterlock: create raft: %w", err)
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}
	if err := r.BootstrapCluster(configuration).Error(); err != nil {
		return nil, fmt.Errorf("clusterlock: bootstrap cluster: %w", err)
	}

	return &Lock{raft: r}, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (l *Lock) IsLeader() bool {
	if l.raft == nil {
		return true
	}
	return l.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's address, or "" if unknown.
func (l *Lock) LeaderAddr() string {
	if l.raft == nil {
		return ""
	}
	return string(l.raft.Leader())
}

// WithLeadership runs fn only if this node is currently the leader. It
// returns false without running fn if leadership is not held, so the
// beat loop can skip this tick and record contention rather than block.
func (l *Lock) WithLeadership(fn func() error) (ran bool, err error) {
	if !l.IsLeader() {
		return false, nil
	}
	return true, fn()
}

// Shutdown releases the Raft node, if one was started.
func (l *Lock) Shutdown() error {
	if l.raft == nil {
		return nil
	}
	return l.raft.Shutdown().Error()
}
