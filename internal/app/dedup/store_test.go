package dedup

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/openctemio/vulncatalog/pkg/domain/scansession"
	"github.com/openctemio/vulncatalog/pkg/domain/shared"
	"github.com/openctemio/vulncatalog/pkg/domain/vulnerability"
	"github.com/openctemio/vulncatalog/pkg/fingerprint"
)

var (
	errStoreDown   = errors.New("store unavailable")
	errKeyTooLong  = errors.New("value too long for instance_key")
	instanceKeyMax = fingerprint.Length
)

// memStore is a stateful in-memory implementation of the three repositories
// with unique constraints on fingerprint and instance key, and the same
// instance_key width as the schema. The exported-ish
// fields inject failures.
type memStore struct {
	mu sync.Mutex

	unified   map[string]*vulnerability.UnifiedVulnerability // by fingerprint
	instances map[string]*vulnerability.Instance             // by instance key
	order     []string                                       // instance keys in insert order
	sessions  map[string]*scansession.ScanSession

	lookupErr         error
	failUnifiedBatch  bool
	failInstanceBatch bool
	failTouchBatch    bool
	createErr         map[string]error     // per fingerprint
	raceIDs           map[string]shared.ID // fingerprint inserted by a concurrent batch right before Create
	touchErr          map[string]error     // per fingerprint, individual touch
	instanceErr       map[string]error     // per instance key

	lookupCalls int
}

func newMemStore() *memStore {
	return &memStore{
		unified:     make(map[string]*vulnerability.UnifiedVulnerability),
		instances:   make(map[string]*vulnerability.Instance),
		sessions:    make(map[string]*scansession.ScanSession),
		createErr:   make(map[string]error),
		raceIDs:     make(map[string]shared.ID),
		touchErr:    make(map[string]error),
		instanceErr: make(map[string]error),
	}
}

// =============================================================================
// UnifiedRepository
// =============================================================================

func (s *memStore) GetIDsByFingerprints(_ context.Context, fps []string) (map[string]shared.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	out := make(map[string]shared.ID)
	for _, fp := range fps {
		if v, ok := s.unified[fp]; ok {
			out[fp] = v.ID
		}
	}
	return out, nil
}

func (s *memStore) CreateBatch(_ context.Context, vulns []*vulnerability.UnifiedVulnerability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnifiedBatch {
		return errStoreDown
	}
	for _, v := range vulns {
		if _, ok := s.unified[v.Fingerprint]; ok {
			return vulnerability.UnifiedAlreadyExistsError(v.Fingerprint)
		}
		if _, ok := s.raceIDs[v.Fingerprint]; ok {
			return vulnerability.UnifiedAlreadyExistsError(v.Fingerprint)
		}
		if _, ok := s.createErr[v.Fingerprint]; ok {
			return errStoreDown
		}
	}
	for _, v := range vulns {
		cp := *v
		s.unified[v.Fingerprint] = &cp
	}
	return nil
}

func (s *memStore) Create(_ context.Context, v *vulnerability.UnifiedVulnerability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.createErr[v.Fingerprint]; ok {
		return err
	}
	if id, ok := s.raceIDs[v.Fingerprint]; ok {
		delete(s.raceIDs, v.Fingerprint)
		winner := *v
		winner.ID = id
		s.unified[v.Fingerprint] = &winner
	}
	if _, ok := s.unified[v.Fingerprint]; ok {
		return vulnerability.UnifiedAlreadyExistsError(v.Fingerprint)
	}
	cp := *v
	s.unified[v.Fingerprint] = &cp
	return nil
}

func (s *memStore) TouchByFingerprints(_ context.Context, fps []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(fps) > 1 && s.failTouchBatch {
		return 0, errStoreDown
	}
	var n int64
	for _, fp := range fps {
		if err, ok := s.touchErr[fp]; ok {
			return 0, err
		}
		if v, ok := s.unified[fp]; ok {
			v.Touch(at)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ReopenByFingerprints(_ context.Context, fps []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, fp := range fps {
		if v, ok := s.unified[fp]; ok && v.Reopen(at) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkFixed(_ context.Context, ids []shared.ID, at time.Time) ([]shared.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []shared.ID
	for _, id := range ids {
		for _, v := range s.unified {
			if v.ID == id && v.MarkFixed(at) {
				changed = append(changed, id)
			}
		}
	}
	return changed, nil
}

func (s *memStore) GetByID(_ context.Context, id shared.ID) (*vulnerability.UnifiedVulnerability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.unified {
		if v.ID == id {
			cp := *v
			return &cp, nil
		}
	}
	return nil, vulnerability.UnifiedNotFoundError(id)
}

func (s *memStore) byFingerprint(fp string) *vulnerability.UnifiedVulnerability {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.unified[fp]; ok {
		cp := *v
		return &cp
	}
	return nil
}

func (s *memStore) unifiedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unified)
}

func (s *memStore) instanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// =============================================================================
// InstanceRepository
// =============================================================================

// instanceRepo adapts memStore to InstanceRepository; both interfaces declare
// CreateBatch and Create.
type instanceRepo struct{ *memStore }

func (r instanceRepo) CreateBatch(_ context.Context, insts []*vulnerability.Instance) error {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInstanceBatch {
		return errStoreDown
	}
	for _, inst := range insts {
		if len(inst.InstanceKey) > instanceKeyMax {
			return errKeyTooLong
		}
		if _, ok := s.instances[inst.InstanceKey]; ok {
			return vulnerability.InstanceAlreadyExistsError(inst.InstanceKey)
		}
		if _, ok := s.instanceErr[inst.InstanceKey]; ok {
			return errStoreDown
		}
	}
	for _, inst := range insts {
		cp := *inst
		s.instances[inst.InstanceKey] = &cp
		s.order = append(s.order, inst.InstanceKey)
	}
	return nil
}

func (r instanceRepo) Create(_ context.Context, inst *vulnerability.Instance) error {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.instanceErr[inst.InstanceKey]; ok {
		return err
	}
	if len(inst.InstanceKey) > instanceKeyMax {
		return errKeyTooLong
	}
	if _, ok := s.instances[inst.InstanceKey]; ok {
		return vulnerability.InstanceAlreadyExistsError(inst.InstanceKey)
	}
	cp := *inst
	s.instances[inst.InstanceKey] = &cp
	s.order = append(s.order, inst.InstanceKey)
	return nil
}

func (r instanceRepo) ListUnifiedIDsByScan(_ context.Context, scanID string) ([]shared.ID, error) {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []shared.ID
	for _, key := range s.order {
		inst := s.instances[key]
		if inst.ScanID == scanID && !slices.Contains(ids, inst.UnifiedVulnerabilityID) {
			ids = append(ids, inst.UnifiedVulnerabilityID)
		}
	}
	return ids, nil
}

func (r instanceRepo) CountByScan(_ context.Context, scanID string) (int64, error) {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inst := range s.instances {
		if inst.ScanID == scanID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// scansession.Repository
// =============================================================================

type sessionRepo struct{ *memStore }

func (r sessionRepo) GetByID(_ context.Context, id string) (*scansession.ScanSession, error) {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, scansession.NotFoundError(id)
	}
	cp := *sess
	return &cp, nil
}

func (r sessionRepo) FindLatestCompletedBefore(_ context.Context, repositoryID string, before time.Time, excludeID string) (*scansession.ScanSession, error) {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *scansession.ScanSession
	for _, sess := range s.sessions {
		if sess.RepositoryID != repositoryID || sess.ID == excludeID || !sess.IsCompleted() {
			continue
		}
		if !sess.CreatedAt.Before(before) {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = sess
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r sessionRepo) ListLatestCompleted(_ context.Context, since time.Time) ([]*scansession.ScanSession, error) {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]*scansession.ScanSession)
	for _, sess := range s.sessions {
		if !sess.IsCompleted() || sess.CompletedAt == nil || sess.CompletedAt.Before(since) {
			continue
		}
		if cur, ok := latest[sess.RepositoryID]; !ok || sess.CreatedAt.After(cur.CreatedAt) {
			latest[sess.RepositoryID] = sess
		}
	}
	out := make([]*scansession.ScanSession, 0, len(latest))
	for _, sess := range latest {
		cp := *sess
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *scansession.ScanSession) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (r sessionRepo) Upsert(_ context.Context, sess *scansession.ScanSession) error {
	s := r.memStore
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}
