package intelligence

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/storage"
)

// EntityStore resolves entity names and finds memories linked to them.
type EntityStore interface {
	FindEntities(ctx context.Context, userID string, names []string) ([]*storage.Entity, error)
	MemoriesForEntities(ctx context.Context, userID string, entityIDs []string, limit int) ([]*storage.Memory, error)
}

// EntityMatch is the set of query entities a memory is compared against.
type EntityMatch struct {
	// Names are the entity names mentioned by the query.
	Names []string

	// idsByName maps a lowercased name to the stored entity ids it resolved to.
	idsByName map[string][]string
}

// NewEntityMatch builds a match from query names and the entities they
// resolved to. Entities may be nil when resolution failed.
func NewEntityMatch(names []string, entities []*storage.Entity) EntityMatch {
	m := EntityMatch{idsByName: make(map[string][]string)}
	seen := make(map[string]struct{})
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		m.Names = append(m.Names, strings.TrimSpace(n))
	}
	for _, e := range entities {
		key := strings.ToLower(e.Name)
		m.idsByName[key] = append(m.idsByName[key], e.ID)
	}
	return m
}

// IDs returns every resolved entity id.
func (m EntityMatch) IDs() []string {
	var ids []string
	for _, n := range m.Names {
		ids = append(ids, m.idsByName[strings.ToLower(n)]...)
	}
	return distinct(ids)
}

// EntitySearchResult is the outcome of the entity branch.
type EntitySearchResult struct {
	Match    EntityMatch
	Memories []*storage.Memory
}

// EntityBooster ranks memories by entity links and boosts memories that
// share entities with the query.
//
// The boost is 1 + perEntity*min(k, maxCounted), where k is the number of
// distinct query entities a memory mentions or is linked to. It is never
// below 1 and never decreases as k grows.
type EntityBooster struct {
	store      EntityStore
	perEntity  float64
	maxCounted int
}

// NewEntityBooster creates a booster with a 0.2 step capped at 5 entities.
func NewEntityBooster(store EntityStore) *EntityBooster {
	return &EntityBooster{store: store, perEntity: 0.2, maxCounted: 5}
}

// Search resolves names to entities and returns up to n linked memories,
// most matching links first. A resolution error still returns a usable
// name-only match.
func (b *EntityBooster) Search(ctx context.Context, userID string, names []string, n int) (*EntitySearchResult, error) {
	result := &EntitySearchResult{Match: NewEntityMatch(names, nil)}
	if len(result.Match.Names) == 0 || b.store == nil {
		return result, nil
	}

	entities, err := b.store.FindEntities(ctx, userID, result.Match.Names)
	if err != nil {
		return result, fmt.Errorf("resolve entities: %w", err)
	}
	result.Match = NewEntityMatch(names, entities)

	ids := result.Match.IDs()
	if len(ids) == 0 {
		return result, nil
	}
	memories, err := b.store.MemoriesForEntities(ctx, userID, ids, n)
	if err != nil {
		return result, fmt.Errorf("entity memories: %w", err)
	}
	result.Memories = memories
	return result, nil
}

// Overlap counts the distinct query entities a record is linked to or
// mentions in its content.
func (b *EntityBooster) Overlap(rec memory.Record, match EntityMatch) int {
	if len(match.Names) == 0 {
		return 0
	}
	linked := make(map[string]struct{}, len(rec.EntityIDs))
	for _, id := range rec.EntityIDs {
		linked[id] = struct{}{}
	}
	content := strings.ToLower(rec.Content)

	k := 0
	for _, name := range match.Names {
		key := strings.ToLower(name)
		hit := mentions(content, key)
		if !hit {
			for _, id := range match.idsByName[key] {
				if _, ok := linked[id]; ok {
					hit = true
					break
				}
			}
		}
		if hit {
			k++
		}
	}
	return k
}

// Boost returns the entity boost factor for a record.
func (b *EntityBooster) Boost(rec memory.Record, match EntityMatch) float64 {
	k := b.Overlap(rec, match)
	if k > b.maxCounted {
		k = b.maxCounted
	}
	return memory.DefaultEntityBoost + b.perEntity*float64(k)
}

// mentions reports whether name occurs in content on word boundaries.
func mentions(content, name string) bool {
	if name == "" {
		return false
	}
	for start := 0; start < len(content); {
		i := strings.Index(content[start:], name)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(name)
		if boundaryBefore(content, i) && boundaryAfter(content, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
