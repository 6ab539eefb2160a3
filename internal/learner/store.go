// internal/learner/store.go
package learner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instruction caps. Oldest entries are evicted first.
const (
	maxGeneralRules = 20
	maxPerSiteRules = 12
	maxSites        = 30
)

// persistedStore is the on-disk JSON shape. SiteOrder preserves insertion
// order across restarts so eviction stays oldest-first.
type persistedStore struct {
	Version   int64               `json:"version"`
	General   []string            `json:"general"`
	Sites     map[string][]string `json:"sites"`
	SiteOrder []string            `json:"site_order"`
}

// Store is the versioned instruction store. Every mutation increments the
// version; readers snapshot the set together with the version they saw.
// Merge is additive and commutative over rule sets, so concurrent learner
// completions interleave safely.
type Store struct {
	logger *zap.Logger
	path   string

	mu        sync.Mutex
	version   int64
	general   []string
	sites     map[string][]string
	siteOrder []string
}

// NewStore builds a store persisting to path. An empty path keeps the
// store in memory only. "~" is expanded to the user home directory.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand store path: %w", err)
		}
		path = expanded
	}
	return &Store{
		logger: logger.Named("instruction_store"),
		path:   path,
		sites:  make(map[string][]string),
	}, nil
}

// Load reads the persisted instruction set. A missing file is a clean
// empty store, not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read instruction store: %w", err)
	}

	var p persistedStore
	if err := json.Unmarshal(data, &p); err != nil {
		// A corrupt store must never block runs; start over.
		s.logger.Warn("Instruction store is corrupt, starting empty", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = p.Version
	s.general = p.General
	s.sites = p.Sites
	if s.sites == nil {
		s.sites = make(map[string][]string)
	}
	s.siteOrder = p.SiteOrder
	for site := range s.sites {
		if !contains(s.siteOrder, site) {
			s.siteOrder = append(s.siteOrder, site)
		}
	}

	s.logger.Info("Loaded instruction store",
		zap.Int64("version", s.version),
		zap.Int("general", len(s.general)),
		zap.Int("sites", len(s.sites)))
	return nil
}

// Snapshot returns a deep copy of the current set and the version it
// corresponds to.
func (s *Store) Snapshot() (schemas.InstructionSet, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := schemas.InstructionSet{
		General: append([]string(nil), s.general...),
		PerSite: make(map[string][]string, len(s.sites)),
	}
	for site, rules := range s.sites {
		set.PerSite[site] = append([]string(nil), rules...)
	}
	return set, s.version
}

// Version returns the current store version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Merge folds a learned delta into the store. Rules already present
// (compared case- and whitespace-insensitively) are refreshed in place with
// the newer phrasing; new rules append. Caps are enforced oldest-first
// after the merge. Returns the new version.
func (s *Store) Merge(delta schemas.InstructionSet) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	if merged, did := mergeRules(s.general, delta.General, maxGeneralRules); did {
		s.general = merged
		changed = true
	}

	for site, rules := range delta.PerSite {
		site = strings.ToLower(strings.TrimSpace(site))
		if site == "" || len(rules) == 0 {
			continue
		}
		if _, known := s.sites[site]; !known {
			s.siteOrder = append(s.siteOrder, site)
		}
		if merged, did := mergeRules(s.sites[site], rules, maxPerSiteRules); did {
			s.sites[site] = merged
			changed = true
		}
	}

	// Evict whole sites beyond the cap, oldest first.
	for len(s.siteOrder) > maxSites {
		evicted := s.siteOrder[0]
		s.siteOrder = s.siteOrder[1:]
		delete(s.sites, evicted)
		changed = true
		s.logger.Debug("Evicted oldest site from instruction store", zap.String("site", evicted))
	}

	if !changed {
		return s.version
	}
	s.version++

	if err := s.save(); err != nil {
		s.logger.Warn("Failed to persist instruction store", zap.Error(err))
	}
	return s.version
}

// save writes the store atomically. Caller holds s.mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	p := persistedStore{
		Version:   s.version,
		General:   s.general,
		Sites:     s.sites,
		SiteOrder: s.siteOrder,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal instruction store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write instruction store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// mergeRules folds incoming rules into existing ones, deduplicating on the
// normalized form. A duplicate refreshes the stored phrasing in place.
// Overflow evicts from the front.
func mergeRules(existing, incoming []string, limit int) ([]string, bool) {
	if len(incoming) == 0 {
		return existing, false
	}

	index := make(map[string]int, len(existing))
	out := append([]string(nil), existing...)
	for i, rule := range out {
		index[normalizeRule(rule)] = i
	}

	changed := false
	for _, rule := range incoming {
		trimmed := strings.TrimSpace(rule)
		if trimmed == "" {
			continue
		}
		key := normalizeRule(trimmed)
		if i, dup := index[key]; dup {
			if out[i] != trimmed {
				out[i] = trimmed
				changed = true
			}
			continue
		}
		index[key] = len(out)
		out = append(out, trimmed)
		changed = true
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, changed
}

// normalizeRule is the dedupe key: lowercase with collapsed whitespace.
func normalizeRule(rule string) string {
	return strings.Join(strings.Fields(strings.ToLower(rule)), " ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
