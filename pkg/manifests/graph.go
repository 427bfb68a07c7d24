package manifests

import (
	"fmt"
	"sort"
	"strings"
)

// Order returns the manifests sorted so that every manifest comes after the
// manifests it depends on. Manifests without an ordering constraint between
// them are sorted by name.
func Order(list []*Manifest) ([]*Manifest, error) {
	byName := make(map[string]*Manifest, len(list))
	for _, m := range list {
		if _, exists := byName[m.Name]; exists {
			return nil, &DependencyError{Manifest: m.Name, Message: "duplicate manifest name"}
		}
		byName[m.Name] = m
	}

	// dependents maps a manifest to the manifests depending on it.
	dependents := make(map[string][]string, len(list))
	inDegree := make(map[string]int, len(list))
	for _, m := range list {
		inDegree[m.Name] += 0
		for _, dep := range m.Depends {
			if _, ok := byName[dep]; !ok {
				return nil, &DependencyError{Manifest: m.Name, Message: fmt.Sprintf("depends on unknown manifest %q", dep)}
			}
			dependents[dep] = append(dependents[dep], m.Name)
			inDegree[m.Name]++
		}
	}

	if cycle := findCycle(list, byName); len(cycle) > 0 {
		return nil, &DependencyError{Message: fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> "))}
	}

	// Kahn's algorithm, always taking the smallest ready name.
	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	ordered := make([]*Manifest, 0, len(list))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(list) {
		return nil, &DependencyError{Message: "failed to order all manifests"}
	}

	return ordered, nil
}

// findCycle returns the first dependency cycle found, as a path that starts
// and ends with the same manifest.
func findCycle(list []*Manifest, byName map[string]*Manifest) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(name string, path []string) []string
	visit = func(name string, path []string) []string {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		deps := append([]string(nil), byName[name].Depends...)
		sort.Strings(deps)
		for _, dep := range deps {
			if onStack[dep] {
				for i, n := range path {
					if n == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep, path); cycle != nil {
					return cycle
				}
			}
		}

		onStack[name] = false
		return nil
	}

	names := make([]string, 0, len(list))
	for _, m := range list {
		names = append(names, m.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !visited[name] {
			if cycle := visit(name, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Select returns the named manifests and everything they transitively depend
// on. An empty selection returns all manifests.
func Select(list []*Manifest, names []string) ([]*Manifest, error) {
	if len(names) == 0 {
		return list, nil
	}

	byName := make(map[string]*Manifest, len(list))
	for _, m := range list {
		byName[m.Name] = m
	}

	selected := make(map[string]bool)
	var include func(name, from string) error
	include = func(name, from string) error {
		if selected[name] {
			return nil
		}
		m, ok := byName[name]
		if !ok {
			if from == "" {
				return &DependencyError{Message: fmt.Sprintf("unknown manifest %q", name)}
			}
			return &DependencyError{Manifest: from, Message: fmt.Sprintf("depends on unknown manifest %q", name)}
		}
		selected[name] = true
		for _, dep := range m.Depends {
			if err := include(dep, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range names {
		if err := include(name, ""); err != nil {
			return nil, err
		}
	}

	out := make([]*Manifest, 0, len(selected))
	for _, m := range list {
		if selected[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}
