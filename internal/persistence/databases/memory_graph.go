package databases

import (
	"context"
	"sort"
	"sync"
)

type edgeKey struct{ src, rel string }

type memoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[edgeKey]map[string]map[string]any // key:(src,rel) -> dst -> props
}

func NewMemoryGraph() GraphDB {
	return &memoryGraph{
		nodes: make(map[string]Node),
		edges: make(map[edgeKey]map[string]map[string]any),
	}
}

func (m *memoryGraph) UpsertNode(_ context.Context, id string, labels []string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.nodes[id] = Node{ID: id, Labels: append([]string{}, labels...), Props: cp}
	return nil
}

func (m *memoryGraph) UpsertEdge(_ context.Context, srcID, rel, dstID string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{src: srcID, rel: rel}
	m.ensureEdgeKey(key)
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.edges[key][dstID] = cp
	return nil
}

func (m *memoryGraph) Neighbors(_ context.Context, id string, rel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := edgeKey{src: id, rel: rel}
	var out []string
	if dsts, ok := m.edges[key]; ok {
		for dst := range dsts {
			out = append(out, dst)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryGraph) GetNode(_ context.Context, id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

func (m *memoryGraph) ensureEdgeKey(k edgeKey) {
	if _, ok := m.edges[k]; !ok {
		m.edges[k] = make(map[string]map[string]any)
	}
}

func (m *memoryGraph) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	return nil
}

func (m *memoryGraph) DeleteEdge(_ context.Context, srcID, rel, dstID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{src: srcID, rel: rel}
	if dsts, ok := m.edges[key]; ok {
		delete(dsts, dstID)
	}
	return nil
}

func (m *memoryGraph) EdgesInvolving(_ context.Context, id string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for key, dsts := range m.edges {
		for dst, props := range dsts {
			if key.src == id || dst == id {
				out = append(out, Edge{Src: key.src, Rel: key.rel, Dst: dst, Props: props})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Src != out[j].Src {
			return out[i].Src < out[j].Src
		}
		if out[i].Rel != out[j].Rel {
			return out[i].Rel < out[j].Rel
		}
		return out[i].Dst < out[j].Dst
	})
	return out, nil
}

func (m *memoryGraph) ListNodesByLabel(_ context.Context, label string) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Node
	for _, n := range m.nodes {
		for _, l := range n.Labels {
			if l == label {
				out = append(out, n)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
