package hooks

import (
	"fmt"
	"strings"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/toposort"
)

// Graph node name builders. Hook nodes and stage nodes share one
// namespace, so each gets a distinct prefix.
func hookNode(name string) string {
	return "hook:" + name
}

func stageNode(when When, stage Stage) string {
	return fmt.Sprintf("stage:%s:%s", when, stage)
}

// hasPath reports whether "to" is reachable from "from".
func hasPath(graph *toposort.Graph, from, to string) bool {
	if from == to {
		return true
	}

	seen := map[string]struct{}{from: {}}
	frontier := []string{from}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, child := range graph.Children(current) {
			if child == to {
				return true
			}

			if _, visited := seen[child]; visited {
				continue
			}

			seen[child] = struct{}{}
			frontier = append(frontier, child)
		}
	}

	return false
}

// Resolve orders hooks by their declared dependencies. Hook names and
// phase-qualified stage tags form a DAG: `after` adds an edge dep -> hook,
// `before` adds hook -> dep. An All dependency orders the hook against
// every other hook in its phase that is not already ordered relative to it
// by an explicit dependency. Ties resolve stably by registration order;
// unresolvable declarations yield *toposort.CycleError.
func Resolve(hooks []*Hook) ([]*Hook, error) {
	for _, hook := range hooks {
		err := hook.Validate()
		if err != nil {
			return nil, err
		}
	}

	graph := toposort.NewGraph()

	// Stage chains first: their IDs precede every hook node, so
	// insertion-order tie-breaking among hooks degrades to registration
	// order.
	for _, when := range []When{Pre, Post} {
		var previous string

		for _, stage := range stageOrder(when) {
			node := stageNode(when, stage)
			graph.AddNode(node)

			if previous != "" {
				graph.AddEdge(previous, node)
			}

			previous = node
		}
	}

	byName := make(map[string]*Hook, len(hooks))

	// Hook nodes in registration order, then explicit name/stage edges.
	for _, hook := range hooks {
		byName[hook.Name] = hook
		graph.AddNode(hookNode(hook.Name))
	}

	for _, hook := range hooks {
		node := hookNode(hook.Name)

		for _, dep := range hook.After {
			switch dep.kind {
			case depName:
				graph.AddEdge(hookNode(dep.name), node)
			case depStage:
				graph.AddEdge(stageNode(hook.When, dep.stage), node)
			case depAll:
			}
		}

		for _, dep := range hook.Before {
			switch dep.kind {
			case depName:
				graph.AddEdge(node, hookNode(dep.name))
			case depStage:
				graph.AddEdge(node, stageNode(hook.When, dep.stage))
			case depAll:
			}
		}
	}

	// All edges last: they order the hook against every phase peer not
	// already connected to it, so explicit dependencies win.
	for _, hook := range hooks {
		node := hookNode(hook.Name)

		for _, dep := range hook.Before {
			if dep.kind != depAll {
				continue
			}

			for _, peer := range hooks {
				if peer == hook || peer.When != hook.When {
					continue
				}

				peerNode := hookNode(peer.Name)
				if !hasPath(graph, peerNode, node) {
					graph.AddEdge(node, peerNode)
				}
			}
		}

		for _, dep := range hook.After {
			if dep.kind != depAll {
				continue
			}

			for _, peer := range hooks {
				if peer == hook || peer.When != hook.When {
					continue
				}

				peerNode := hookNode(peer.Name)
				if !hasPath(graph, node, peerNode) {
					graph.AddEdge(peerNode, node)
				}
			}
		}
	}

	order, err := graph.Sort()
	if err != nil {
		return nil, err
	}

	resolved := make([]*Hook, 0, len(hooks))

	for _, node := range order {
		name, isHook := strings.CutPrefix(node, "hook:")
		if !isHook {
			continue
		}

		if hook, exists := byName[name]; exists {
			resolved = append(resolved, hook)
		}
	}

	return resolved, nil
}

// Filter returns the hooks matching a phase and granularity, preserving
// resolved order.
func Filter(hooks []*Hook, when When, per Per) []*Hook {
	filtered := make([]*Hook, 0, len(hooks))

	for _, hook := range hooks {
		if hook.When == when && hook.Per == per {
			filtered = append(filtered, hook)
		}
	}

	return filtered
}

// Exceptions returns the exception hooks in resolved order.
func Exceptions(hooks []*Hook) []*Hook {
	filtered := make([]*Hook, 0)

	for _, hook := range hooks {
		if hook.When == Exception {
			filtered = append(filtered, hook)
		}
	}

	return filtered
}
