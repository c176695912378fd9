package taxonomy

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/yumyai/edna/pkg/model"
)

// ReferenceEntry is one labelled reference sequence.
type ReferenceEntry struct {
	ID       string         `json:"id"`
	Sequence string         `json:"sequence"`
	Taxonomy model.Taxonomy `json:"taxonomy,omitempty"`
}

// Category groups reference entries under a taxonomy template. The template
// is never empty; it is what a match reports when the entry has no taxonomy
// of its own.
type Category struct {
	Name     string           `json:"name"`
	Template model.Taxonomy   `json:"taxonomy"`
	Entries  []ReferenceEntry `json:"sequences"`
}

// ReferenceDB holds categories in insertion order. Writes are serialized;
// lookups may run concurrently with each other.
type ReferenceDB struct {
	mu         sync.RWMutex
	categories map[string]*Category
	order      []string
}

func NewReferenceDB() *ReferenceDB {
	return &ReferenceDB{categories: make(map[string]*Category)}
}

// DefaultReferenceDB is the starting database: three marine categories with
// templates and no sequences yet.
func DefaultReferenceDB() *ReferenceDB {
	db := NewReferenceDB()
	db.ensureCategory("marine_fish", model.Taxonomy{
		"kingdom": "Animalia",
		"phylum":  "Chordata",
		"class":   "Actinopterygii",
		"order":   "Various",
		"family":  "Various",
		"genus":   "Various",
		"species": "Various",
	})
	db.ensureCategory("marine_invertebrates", model.Taxonomy{
		"kingdom": "Animalia",
		"phylum":  "Various",
		"class":   "Various",
		"order":   "Various",
		"family":  "Various",
		"genus":   "Various",
		"species": "Various",
	})
	db.ensureCategory("marine_plants", model.Taxonomy{
		"kingdom": "Plantae",
		"phylum":  "Various",
		"class":   "Various",
		"order":   "Various",
		"family":  "Various",
		"genus":   "Various",
		"species": "Various",
	})
	return db
}

// ensureCategory must be called with mu held (or before the db is shared).
func (db *ReferenceDB) ensureCategory(name string, template model.Taxonomy) *Category {
	if c, ok := db.categories[name]; ok {
		return c
	}
	if len(template) == 0 {
		template = model.UnknownTaxonomy()
	}
	c := &Category{Name: name, Template: template.Clone()}
	db.categories[name] = c
	db.order = append(db.order, name)
	return c
}

// Add appends an entry, creating the category with taxonomy as its template
// when it does not exist. An empty id becomes seq_<n>, n being the category's
// size before the add. Returns the id used.
func (db *ReferenceDB) Add(category, id, sequence string, taxonomy model.Taxonomy) string {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := db.ensureCategory(category, taxonomy)
	if id == "" {
		id = fmt.Sprintf("seq_%d", len(c.Entries))
	}
	c.Entries = append(c.Entries, ReferenceEntry{ID: id, Sequence: sequence, Taxonomy: taxonomy.Clone()})
	return id
}

type match struct {
	entry    ReferenceEntry
	category string
	template model.Taxonomy
	score    float64
}

// bestMatch scans every entry in category order and keeps the first one whose
// score is strictly above both the running best and the threshold.
func (db *ReferenceDB) bestMatch(query string, score Scorer, threshold float64) (match, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var best match
	found := false
	for _, name := range db.order {
		c := db.categories[name]
		for _, e := range c.Entries {
			s := score(query, e.Sequence)
			if s > best.score && s > threshold {
				best = match{entry: e, category: name, template: c.Template, score: s}
				found = true
			}
		}
	}
	return best, found
}

func (db *ReferenceDB) CategoryNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]string(nil), db.order...)
}

// Size is the total number of reference entries.
func (db *ReferenceDB) Size() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for _, c := range db.categories {
		n += len(c.Entries)
	}
	return n
}

const snapshotVersion = 1

type snapshot struct {
	Version    int        `json:"version"`
	Categories []Category `json:"categories"`
}

// MarshalJSON writes a versioned, ordered snapshot of the whole database.
func (db *ReferenceDB) MarshalJSON() ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	snap := snapshot{Version: snapshotVersion, Categories: make([]Category, 0, len(db.order))}
	for _, name := range db.order {
		c := db.categories[name]
		snap.Categories = append(snap.Categories, Category{
			Name:     c.Name,
			Template: c.Template,
			Entries:  append([]ReferenceEntry{}, c.Entries...),
		})
	}
	return json.Marshal(snap)
}

// legacyCategory is the older unversioned layout: a JSON object keyed by category name.
type legacyCategory struct {
	Sequences []ReferenceEntry `json:"sequences"`
	Taxonomy  model.Taxonomy   `json:"taxonomy"`
}

// ParseReferenceDB reads a snapshot written by MarshalJSON, or the legacy
// name-keyed layout (categories then come back sorted by name).
func ParseReferenceDB(data []byte) (*ReferenceDB, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse reference db: %w", err)
	}

	db := NewReferenceDB()
	switch head.Version {
	case snapshotVersion:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse reference db: %w", err)
		}
		for _, c := range snap.Categories {
			cat := db.ensureCategory(c.Name, c.Template)
			cat.Entries = append(cat.Entries, c.Entries...)
		}
	case 0:
		var legacy map[string]legacyCategory
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse legacy reference db: %w", err)
		}
		names := make([]string, 0, len(legacy))
		for name := range legacy {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cat := db.ensureCategory(name, legacy[name].Taxonomy)
			cat.Entries = append(cat.Entries, legacy[name].Sequences...)
		}
	default:
		return nil, fmt.Errorf("reference db snapshot version %d not supported", head.Version)
	}
	return db, nil
}
