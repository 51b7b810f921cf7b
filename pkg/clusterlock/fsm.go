package clusterlock

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM satisfies raft.FSM without applying any state: indexctl uses
// Raft only to elect a leader, never to replicate data through the log.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} { return nil }

func (noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}

func (noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}
