package main

import (
	"fmt"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/store"
)

// databases bundles the two BoltDB-backed stores every subcommand opens,
// plus the derived fence and bookkeeping-context stores built on top of
// the KV one.
type databases struct {
	Store    store.Store
	KV       kv.Store
	boltKV   *kv.BoltKV
	Fences   *fence.Store
	Contexts *processing.ContextStore
}

// openDatabases opens the row store and KV store under dataDir, scoped to
// tenant's keyspace.
func openDatabases(dataDir, tenant string) (*databases, error) {
	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}

	k, err := kv.NewBoltKV(dataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	return &databases{
		Store:    st,
		KV:       k,
		boltKV:   k,
		Fences:   fence.New(k, tenant),
		Contexts: processing.NewContextStore(k, tenant),
	}, nil
}

// Close releases both underlying BoltDB files.
func (d *databases) Close() error {
	kvErr := d.boltKV.Close()
	storeErr := d.Store.Close()
	if kvErr != nil {
		return kvErr
	}
	return storeErr
}
