package processing

import (
	"encoding/json"
	"fmt"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/types"
)

// ContextStore persists the two small per-attempt bookkeeping structs
// (DocIndexingContext, DocExtractionContext) in the shared KV substrate,
// the same JSON-over-kv.Store idiom pkg/fence uses for FencePayload.
type ContextStore struct {
	kv     kv.Store
	tenant string
}

// NewContextStore creates a ContextStore scoped to one tenant.
func NewContextStore(store kv.Store, tenant string) *ContextStore {
	return &ContextStore{kv: store, tenant: tenant}
}

func (s *ContextStore) indexingKey(ns fence.Namespace) string {
	return fmt.Sprintf("tenant:%s:doc_indexing_context_%s", s.tenant, ns)
}

func (s *ContextStore) extractionKey(ns fence.Namespace) string {
	return fmt.Sprintf("tenant:%s:doc_extraction_context_%s", s.tenant, ns)
}

// GetIndexingContext reads ns's DocIndexingContext, returning the zero
// value if it has not yet been initialized.
func (s *ContextStore) GetIndexingContext(ns fence.Namespace) (types.DocIndexingContext, error) {
	var ctx types.DocIndexingContext
	data, found, err := s.kv.Get(s.indexingKey(ns))
	if err != nil || !found {
		return ctx, err
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ctx, fmt.Errorf("processing: unmarshal indexing context for %s: %w", ns, err)
	}
	return ctx, nil
}

// PutIndexingContext overwrites ns's DocIndexingContext. Callers must hold
// the attempt's state lock around the read-modify-write sequence.
func (s *ContextStore) PutIndexingContext(ns fence.Namespace, ctx types.DocIndexingContext) error {
	data, err := json.Marshal(&ctx)
	if err != nil {
		return fmt.Errorf("processing: marshal indexing context for %s: %w", ns, err)
	}
	return s.kv.Set(s.indexingKey(ns), data, 0)
}

// GetExtractionContext reads ns's DocExtractionContext, returning a zero
// value (fetch still in progress, batch count unknown) if unset.
func (s *ContextStore) GetExtractionContext(ns fence.Namespace) (types.DocExtractionContext, error) {
	var ctx types.DocExtractionContext
	data, found, err := s.kv.Get(s.extractionKey(ns))
	if err != nil || !found {
		return ctx, err
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ctx, fmt.Errorf("processing: unmarshal extraction context for %s: %w", ns, err)
	}
	return ctx, nil
}

// PutExtractionContext overwrites ns's DocExtractionContext. The fetching
// worker calls this once it knows the final batch count.
func (s *ContextStore) PutExtractionContext(ns fence.Namespace, ctx types.DocExtractionContext) error {
	data, err := json.Marshal(&ctx)
	if err != nil {
		return fmt.Errorf("processing: marshal extraction context for %s: %w", ns, err)
	}
	return s.kv.Set(s.extractionKey(ns), data, 0)
}

// Clear removes both contexts for ns, called once an attempt finalizes.
func (s *ContextStore) Clear(ns fence.Namespace) error {
	if err := s.kv.Delete(s.indexingKey(ns)); err != nil {
		return err
	}
	return s.kv.Delete(s.extractionKey(ns))
}
