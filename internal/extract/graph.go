package extract

import (
	"sort"
	"strings"
)

// Graph is the normalized entity cache embedded in a page: a flat map of
// entity keys to objects that point at each other through {"__ref": key}.
type Graph map[string]any

// rootPaths lists where the graph may live inside the page payload, in the
// order they are tried.
var rootPaths = [][]string{
	{"props", "pageProps", "apolloState"},
	{"props", "apolloState"},
	{"apolloState"},
	{"props", "pageProps", "__APOLLO_CACHE__"},
}

// GraphRoot locates the entity graph inside the page payload.
func GraphRoot(payload map[string]any) (Graph, bool) {
	for _, path := range rootPaths {
		var cur any = payload
		found := true
		for _, key := range path {
			obj, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			if cur, ok = obj[key]; !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		if obj, ok := cur.(map[string]any); ok {
			return Graph(obj), true
		}
	}
	return nil, false
}

// Deref resolves a reference object. Anything that is not a reference, and
// references to missing keys, come back unchanged.
func (g Graph) Deref(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	key, ok := obj["__ref"].(string)
	if !ok {
		return v
	}
	if target, ok := g[key]; ok {
		return target
	}
	return v
}

// DerefObject is Deref narrowed to objects; nil when v does not resolve to one.
func (g Graph) DerefObject(v any) map[string]any {
	obj, _ := g.Deref(v).(map[string]any)
	return obj
}

// FindEntity returns the entity tagged with typeName. A root query field
// whose name contains field wins over a scan of the whole graph. Keys are
// visited in sorted order so the choice is stable.
func (g Graph) FindEntity(field, typeName string) map[string]any {
	if root, ok := g["ROOT_QUERY"].(map[string]any); ok {
		for _, key := range sortedKeys(root) {
			if !strings.Contains(key, field) {
				continue
			}
			if obj := g.DerefObject(root[key]); obj != nil && obj["__typename"] == typeName {
				return obj
			}
		}
	}
	for _, key := range sortedKeys(g) {
		if obj, ok := g[key].(map[string]any); ok && obj["__typename"] == typeName {
			return obj
		}
	}
	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
