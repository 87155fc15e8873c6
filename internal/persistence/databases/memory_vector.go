package databases

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// memoryVector is an in-process VectorStore double used by tests and by the
// deterministic seed fixtures; it implements the same filter/scroll/retrieve
// semantics as the Qdrant adapter without a network dependency.
type memoryVector struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dimension int
	metric    string
	points    map[string]Point
	order     []string // insertion order, for stable scroll/stats
}

func NewMemoryVector() VectorStore {
	return &memoryVector{collections: make(map[string]*memCollection)}
}

func (m *memoryVector) coll(name string) *memCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{points: make(map[string]Point)}
		m.collections[name] = c
	}
	return c
}

func (m *memoryVector) EnsureCollection(_ context.Context, name string, dimension int, metric string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		c.dimension = dimension
		c.metric = metric
		return nil
	}
	m.collections[name] = &memCollection{dimension: dimension, metric: metric, points: make(map[string]Point)}
	return nil
}

func (m *memoryVector) EnsurePayloadIndexes(_ context.Context, _ string, _ PayloadIndexes) error {
	return nil // no indexes needed for a linear in-memory scan
}

func (m *memoryVector) Upsert(_ context.Context, name string, points []Point) error {
	c := m.coll(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		cp := Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: copyAnyMap(p.Payload)}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = cp
	}
	return nil
}

func (m *memoryVector) DeleteByFilter(_ context.Context, name string, filter Filter) error {
	c := m.coll(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := c.order[:0]
	for _, id := range c.order {
		p := c.points[id]
		if matchesFilter(p.Payload, filter) {
			delete(c.points, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return nil
}

func (m *memoryVector) Search(_ context.Context, name string, vector []float32, filter Filter, limit int) ([]SearchHit, error) {
	c := m.coll(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	qnorm := norm(vector)
	hits := make([]SearchHit, 0, len(c.points))
	for _, p := range c.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		hits = append(hits, SearchHit{ID: p.ID, Score: cosine(vector, p.Vector, qnorm), Payload: copyAnyMap(p.Payload)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *memoryVector) Retrieve(_ context.Context, name string, ids []string) ([]Point, error) {
	c := m.coll(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			out = append(out, Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: copyAnyMap(p.Payload)})
		}
	}
	return out, nil
}

func (m *memoryVector) Scroll(_ context.Context, name string, filter Filter, limit int) ([]map[string]any, error) {
	c := m.coll(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		payload := copyAnyMap(p.Payload)
		payload["id"] = p.ID
		out = append(out, payload)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryVector) Stats(_ context.Context, name string) (StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return StoreStats{}, fmt.Errorf("memory vector: collection %q not found", name)
	}
	n := uint64(len(c.points))
	return StoreStats{PointsCount: n, VectorsCount: n, SegmentsCount: 1}, nil
}

func (m *memoryVector) Close() error { return nil }

func matchesFilter(payload map[string]any, f Filter) bool {
	for _, cond := range f.Must {
		val, ok := payload[cond.Key]
		if !ok {
			return false
		}
		if cond.Range != nil {
			n, ok := toFloat(val)
			if !ok {
				return false
			}
			if cond.Range.Gte != nil && n < *cond.Range.Gte {
				return false
			}
			if cond.Range.Lte != nil && n > *cond.Range.Lte {
				return false
			}
			continue
		}
		if !strings.EqualFold(fmtAny(val), fmtAny(cond.Match)) {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// fmtAny renders a filter value for equality comparison, so a payload's
// int64(5) matches a filter's int(5) without a type-specific branch.
func fmtAny(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		if f, ok := toFloat(x); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return ""
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
