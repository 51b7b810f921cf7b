package fence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/types"
)

// Namespace identifies a fence: the "<cc_pair>/<search_settings>" pair
// the fence namespace.
type Namespace struct {
	CCPairID         int64
	SearchSettingsID int64
}

func (n Namespace) String() string {
	return fmt.Sprintf("%d/%d", n.CCPairID, n.SearchSettingsID)
}

// ParseNamespace parses the "<cc>/<ss>" form back into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Namespace{}, fmt.Errorf("fence: malformed namespace %q", s)
	}
	cc, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Namespace{}, fmt.Errorf("fence: malformed cc_pair in namespace %q: %w", s, err)
	}
	ss, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Namespace{}, fmt.Errorf("fence: malformed search_settings in namespace %q: %w", s, err)
	}
	return Namespace{CCPairID: cc, SearchSettingsID: ss}, nil
}

const activeFencesSet = "active_fences"

// Store is the fence-protocol façade over a tenant-scoped pkg/kv.Store.
type Store struct {
	kv     kv.Store
	tenant string
}

// New creates a fence Store scoped to one tenant.
func New(store kv.Store, tenant string) *Store {
	return &Store{kv: store, tenant: tenant}
}

func (s *Store) prefix(ns Namespace) string {
	return fmt.Sprintf("tenant:%s:connectorindexing_fence_%s", s.tenant, ns)
}

func (s *Store) fenceKey(ns Namespace) string            { return s.prefix(ns) }
func (s *Store) watchdogKey(ns Namespace) string         { return s.prefix(ns) + "_watchdog_active" }
func (s *Store) generatorActiveKey(ns Namespace) string  { return s.prefix(ns) + "_generator_active" }
func (s *Store) connectorActiveKey(ns Namespace) string  { return s.prefix(ns) + "_connector_active" }
func (s *Store) progressKey(ns Namespace) string         { return s.prefix(ns) + "_progress" }
func (s *Store) completionKey(ns Namespace) string       { return s.prefix(ns) + "_completion" }
func (s *Store) terminateKey(ns Namespace, taskID string) string {
	return s.prefix(ns) + "_terminate_" + taskID
}

func (s *Store) activeFencesSetName() string {
	return "tenant:" + s.tenant + ":" + activeFencesSet
}

func (s *Store) fencePrefixForScan() string {
	return fmt.Sprintf("tenant:%s:connectorindexing_fence_", s.tenant)
}

// FenceExists reports whether the fence for ns currently exists.
func (s *Store) FenceExists(ns Namespace) (bool, error) {
	_, found, err := s.kv.Get(s.fenceKey(ns))
	return found, err
}

// SetFence creates the fence with the given payload and registers it in
// the active-fences membership set. Fence creation is a controller-owned
// step under the beat lock; callers must check FenceExists first and
// skip kickoff if a fence is already present.
func (s *Store) SetFence(ns Namespace, payload types.FencePayload, ttl time.Duration) error {
	data, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("fence: marshal payload: %w", err)
	}
	if err := s.kv.Set(s.fenceKey(ns), data, ttl); err != nil {
		return fmt.Errorf("fence: set %s: %w", ns, err)
	}
	return s.kv.SAdd(s.activeFencesSetName(), ns.String())
}

// GetPayload reads the fence payload. found is false if the fence does not
// exist (or has expired).
func (s *Store) GetPayload(ns Namespace) (payload types.FencePayload, found bool, err error) {
	data, found, err := s.kv.Get(s.fenceKey(ns))
	if err != nil || !found {
		return types.FencePayload{}, found, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return types.FencePayload{}, false, fmt.Errorf("fence: unmarshal payload for %s: %w", ns, err)
	}
	return payload, true, nil
}

// setPayload overwrites the fence payload in place. It writes with no
// expiry, so any TTL the fence key was created with is dropped and the
// key stays until Reset removes it (liveness is carried by the heartbeat
// keys).
func (s *Store) setPayload(ns Namespace, payload types.FencePayload) error {
	data, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("fence: marshal payload: %w", err)
	}
	return s.kv.Set(s.fenceKey(ns), data, 0)
}

// SetCeleryTaskID writes the enqueued fetch task's ID into the fence
// payload, the last step of creating an attempt.
func (s *Store) SetCeleryTaskID(ns Namespace, taskID string) error {
	payload, found, err := s.GetPayload(ns)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fence: set celery task id: fence %s does not exist", ns)
	}
	payload.CeleryTaskID = taskID
	return s.setPayload(ns, payload)
}

// SetStarted writes the Started timestamp into the fence payload, the
// watchdog's signal that it has passed the
// generator-lock critical section and begun the fetch.
func (s *Store) SetStarted(ns Namespace, when time.Time) error {
	payload, found, err := s.GetPayload(ns)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("fence: set started: fence %s does not exist", ns)
	}
	payload.Started = &when
	return s.setPayload(ns, payload)
}

// SetWatchdogActive renews the watchdog's own liveness heartbeat.
func (s *Store) SetWatchdogActive(ns Namespace, ttl time.Duration) error {
	return s.kv.Set(s.watchdogKey(ns), []byte("1"), ttl)
}

// WatchdogActiveTTL returns the remaining TTL of the watchdog heartbeat;
// negative if absent.
func (s *Store) WatchdogActiveTTL(ns Namespace) (time.Duration, error) {
	return s.kv.TTL(s.watchdogKey(ns))
}

// SetGeneratorActive renews the fetching process's own liveness heartbeat
// ("generator_active", referred to as the fence's active_ttl()).
func (s *Store) SetGeneratorActive(ns Namespace, ttl time.Duration) error {
	return s.kv.Set(s.generatorActiveKey(ns), []byte("1"), ttl)
}

// ActiveTTL returns the remaining TTL of the generator_active heartbeat,
// active_ttl(): negative if absent.
func (s *Store) ActiveTTL(ns Namespace) (time.Duration, error) {
	return s.kv.TTL(s.generatorActiveKey(ns))
}

// SetConnectorActive renews the heartbeat the fetch loop renews on every
// produced document/batch.
func (s *Store) SetConnectorActive(ns Namespace, ttl time.Duration) error {
	return s.kv.Set(s.connectorActiveKey(ns), []byte("1"), ttl)
}

// ConnectorActiveTTL returns the remaining TTL of the connector_active
// heartbeat; negative if absent.
func (s *Store) ConnectorActiveTTL(ns Namespace) (time.Duration, error) {
	return s.kv.TTL(s.connectorActiveKey(ns))
}

// IncrementProgress atomically increments the fence's progress counter by
// delta and returns the new total.
func (s *Store) IncrementProgress(ns Namespace, delta int64) (int64, error) {
	return s.kv.Incr(s.progressKey(ns), delta, 0)
}

// GetProgress returns the current progress counter value (0 if never set).
func (s *Store) GetProgress(ns Namespace) (int64, error) {
	data, found, err := s.kv.Get(s.progressKey(ns))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("fence: progress value corrupt for %s: %w", ns, err)
	}
	return v, nil
}

// SetCompletion writes the completion marker if and only if it has not
// already been written — single-assignment only. It reports
// whether this call was the one that set it.
func (s *Store) SetCompletion(ns Namespace, code int) (bool, error) {
	data, err := json.Marshal(code)
	if err != nil {
		return false, err
	}
	written, err := s.kv.SetNX(s.completionKey(ns), data, 0)
	if err != nil {
		return false, fmt.Errorf("fence: set completion %s: %w", ns, err)
	}
	return written, nil
}

// GetCompletion reads the completion marker. found is false if unset.
func (s *Store) GetCompletion(ns Namespace) (code int, found bool, err error) {
	data, found, err := s.kv.Get(s.completionKey(ns))
	if err != nil || !found {
		return 0, found, err
	}
	if err := json.Unmarshal(data, &code); err != nil {
		return 0, false, fmt.Errorf("fence: completion value corrupt for %s: %w", ns, err)
	}
	return code, true, nil
}

// SetTerminate toggles the external termination signal for taskID.
func (s *Store) SetTerminate(ns Namespace, taskID string) error {
	return s.kv.Set(s.terminateKey(ns, taskID), []byte("1"), 0)
}

// Terminating reports whether a termination signal has been set for taskID.
func (s *Store) Terminating(ns Namespace, taskID string) (bool, error) {
	_, found, err := s.kv.Get(s.terminateKey(ns, taskID))
	return found, err
}

// Reset removes the fence's payload, heartbeat, progress and completion
// keys and deregisters ns from the active-fences set. Each key is deleted
// in its own write, not in one transaction, so an error part-way leaves
// the remaining keys in place; terminate keys are not removed. Safe to
// call on an already-reset or never-created fence.
func (s *Store) Reset(ns Namespace) error {
	keys := []string{
		s.fenceKey(ns),
		s.watchdogKey(ns),
		s.generatorActiveKey(ns),
		s.connectorActiveKey(ns),
		s.progressKey(ns),
		s.completionKey(ns),
	}
	for _, k := range keys {
		if err := s.kv.Delete(k); err != nil {
			return fmt.Errorf("fence: reset %s: delete %s: %w", ns, k, err)
		}
	}
	return s.kv.SRem(s.activeFencesSetName(), ns.String())
}

// Deregister removes ns from the active-fences set without touching its
// other keys, used by the controller's finalize phase when the fence key
// itself has already disappeared.
func (s *Store) Deregister(ns Namespace) error {
	return s.kv.SRem(s.activeFencesSetName(), ns.String())
}

// ScanActiveFences returns every namespace registered in the ACTIVE_FENCES
// membership set.
func (s *Store) ScanActiveFences() ([]Namespace, error) {
	members, err := s.kv.SMembers(s.activeFencesSetName())
	if err != nil {
		return nil, err
	}
	namespaces := make([]Namespace, 0, len(members))
	for _, m := range members {
		ns, err := ParseNamespace(m)
		if err != nil {
			continue
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, nil
}

// ReconcileActiveFences scans all KV keys for the fence key prefix and
// inserts any missing entries into the ACTIVE_FENCES set. It is the
// migration compensator: a prefix scan fallback
// for fences the membership set lost track of.
func (s *Store) ReconcileActiveFences() (int, error) {
	keys, err := s.kv.Keys(s.fencePrefixForScan())
	if err != nil {
		return 0, err
	}

	fencePrefix := s.fencePrefixForScan()
	added := 0
	for _, k := range keys {
		rest := strings.TrimPrefix(k, fencePrefix)
		// Skip sibling keys (heartbeats, progress, completion, terminate);
		// only bare "<cc>/<ss>" keys are fence payloads.
		if strings.ContainsAny(rest, "_") {
			continue
		}
		if _, err := ParseNamespace(rest); err != nil {
			continue
		}
		if err := s.kv.SAdd(s.activeFencesSetName(), rest); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
