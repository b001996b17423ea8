package resolve

import (
	"strings"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/model"
)

// minFuzzyKeyLen guards very short keys from fuzzy matching; "hp" and "ho"
// are 0.5 similar but unrelated.
const minFuzzyKeyLen = 3

// Resolution is the outcome of resolving one extracted name.
type Resolution struct {
	Entity     *model.Entity
	Created    bool
	Confidence float64
}

// Resolver maintains the entity pool for one analysis run. Names resolve
// against entities created earlier in the run, so callers must feed mentions
// in a stable order. Not safe for concurrent use.
type Resolver struct {
	floor float64
	merge float64

	entities []*model.Entity
	keys     map[string]*model.Entity   // normalized key → entity (exact match)
	keysOf   map[*model.Entity][]string // entity → its normalized keys
}

// NewResolver creates an empty resolver with the given thresholds.
func NewResolver(cfg config.ResolveConfig) *Resolver {
	return &Resolver{
		floor:  cfg.SimilarityFloor,
		merge:  cfg.MergeThreshold,
		keys:   make(map[string]*model.Entity),
		keysOf: make(map[*model.Entity][]string),
	}
}

// Resolve binds a canonical name to an existing entity or creates a new one.
//
// Exact normalized-key match binds with confidence 1.0. Otherwise the best
// fuzzy similarity across the pool's keys decides: at or above the floor the
// name binds with the similarity as confidence, and at or above the merge
// threshold the incoming aliases also fold into the matched entity. Below
// the floor a new entity is created with confidence 1.0.
func (r *Resolver) Resolve(canonicalName string, entityType model.EntityType, aliases []string) Resolution {
	key := Normalize(canonicalName)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(canonicalName))
	}

	if e, ok := r.keys[key]; ok {
		r.mergeAliases(e, canonicalName, aliases)
		return Resolution{Entity: e, Confidence: 1.0}
	}

	if best, sim := r.bestMatch(key); best != nil && sim >= r.floor {
		if sim >= r.merge {
			r.mergeAliases(best, canonicalName, aliases)
		}
		zap.L().Debug("fuzzy entity match",
			zap.String("name", canonicalName),
			zap.String("entity", best.CanonicalName),
			zap.Float64("similarity", sim),
		)
		return Resolution{Entity: best, Confidence: sim}
	}

	e := &model.Entity{
		ID:            uuid.NewString(),
		CanonicalName: strings.TrimSpace(canonicalName),
		EntityType:    entityType,
		Aliases:       dedupe(aliases, canonicalName),
	}
	r.entities = append(r.entities, e)
	r.addKey(e, key)
	for _, a := range e.Aliases {
		if k := Normalize(a); k != "" {
			r.addKey(e, k)
		}
	}
	return Resolution{Entity: e, Created: true, Confidence: 1.0}
}

// Entities returns the pool in creation order.
func (r *Resolver) Entities() []*model.Entity {
	return r.entities
}

// Lookup finds the entity already bound to a name's normalized key, without
// fuzzy matching and without mutating the pool.
func (r *Resolver) Lookup(name string) (*model.Entity, bool) {
	key := Normalize(name)
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(name))
	}
	e, ok := r.keys[key]
	return e, ok
}

// bestMatch scans the pool for the key with the highest similarity. Ties go
// to the earliest-created entity. Keys below the minimum length never match.
func (r *Resolver) bestMatch(key string) (*model.Entity, float64) {
	if len(key) < minFuzzyKeyLen {
		return nil, 0
	}

	var best *model.Entity
	var bestSim float64
	for _, e := range r.entities {
		for _, k := range r.keysOf[e] {
			if len(k) < minFuzzyKeyLen {
				continue
			}
			sim := levenshtein.Similarity(key, k, nil)
			if sim > bestSim {
				bestSim = sim
				best = e
			}
		}
	}
	return best, bestSim
}

// mergeAliases folds a name and its aliases into an existing entity.
func (r *Resolver) mergeAliases(e *model.Entity, name string, aliases []string) {
	for _, candidate := range append([]string{name}, aliases...) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || equalsAny(candidate, e.CanonicalName, e.Aliases) {
			continue
		}
		e.Aliases = append(e.Aliases, candidate)
		if k := Normalize(candidate); k != "" {
			r.addKey(e, k)
		}
	}
}

func (r *Resolver) addKey(e *model.Entity, key string) {
	if _, ok := r.keys[key]; !ok {
		r.keys[key] = e
	}
	for _, existing := range r.keysOf[e] {
		if existing == key {
			return
		}
	}
	r.keysOf[e] = append(r.keysOf[e], key)
}

// ComposeConfidence multiplies the LLM extraction confidence with the
// resolution confidence, clamped to [0,1].
func ComposeConfidence(llm, resolution float64) float64 {
	c := llm * resolution
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func dedupe(aliases []string, canonical string) []string {
	var out []string
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		if a == "" || equalsAny(a, canonical, out) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func equalsAny(s, canonical string, rest []string) bool {
	if strings.EqualFold(s, canonical) {
		return true
	}
	for _, r := range rest {
		if strings.EqualFold(s, r) {
			return true
		}
	}
	return false
}
