// Package scheduler orders service startup by declared dependencies.
package scheduler

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/benchmark/service"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

// Plan is a validated dependency graph. Services in a wave depend only on services in earlier waves.
type Plan struct {
	specs map[string]*service.Spec
	waves [][]string
}

// NewPlan validates the dependency graph formed by specs. Duplicate names or aliases, references to
// undeclared services and dependency cycles are returned as *harnesserrors.ErrConfiguration.
func NewPlan(specs []*service.Spec) (*Plan, error) {
	byName := make(map[string]*service.Spec, len(specs))
	aliases := make(map[string]string, len(specs))
	for _, spec := range specs {
		if _, ok := byName[spec.Name()]; ok {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{
				Name:    "services[].name",
				Value:   spec.Name(),
				Message: "service names must be unique",
			})
		}
		if other, ok := aliases[spec.Alias()]; ok {
			return nil, errors.WithStack(&harnesserrors.ErrConfiguration{
				Name:    "services[" + spec.Name() + "].alias",
				Value:   spec.Alias(),
				Message: "alias already used by service " + other,
			})
		}
		byName[spec.Name()] = spec
		aliases[spec.Alias()] = spec.Name()
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn() {
			if _, ok := byName[dep]; !ok {
				return nil, errors.WithStack(&harnesserrors.ErrConfiguration{
					Name:    "services[" + spec.Name() + "].dependsOn",
					Value:   dep,
					Message: "no service with this name is declared",
				})
			}
		}
	}

	waves, remaining := computeWaves(byName)
	if len(remaining) > 0 {
		cycle := findCycle(byName, remaining)
		return nil, errors.WithStack(&harnesserrors.ErrConfiguration{
			Name:    "services[" + cycle[0] + "].dependsOn",
			Value:   strings.Join(cycle, " -> "),
			Message: "dependency cycle",
		})
	}
	return &Plan{specs: byName, waves: waves}, nil
}

// computeWaves layers the graph; names left over are on or behind a cycle.
func computeWaves(specs map[string]*service.Spec) ([][]string, []string) {
	pending := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for name, spec := range specs {
		pending[name] = len(spec.DependsOn())
		for _, dep := range spec.DependsOn() {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var waves [][]string
	var current []string
	for name, n := range pending {
		if n == 0 {
			current = append(current, name)
		}
	}
	placed := 0
	for len(current) > 0 {
		slices.Sort(current)
		waves = append(waves, current)
		placed += len(current)
		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				pending[dependent]--
				if pending[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	var remaining []string
	if placed < len(specs) {
		for name, n := range pending {
			if n > 0 {
				remaining = append(remaining, name)
			}
		}
		slices.Sort(remaining)
	}
	return waves, remaining
}

// findCycle returns one dependency cycle among candidates, starting and ending with the same name.
func findCycle(specs map[string]*service.Spec, candidates []string) []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inProgress
		stack = append(stack, name)
		for _, dep := range specs[name].DependsOn() {
			switch state[dep] {
			case inProgress:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}
	for _, name := range candidates {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return candidates
}

// Waves returns service names grouped by start wave, sorted within each wave.
func (p *Plan) Waves() [][]string {
	out := make([][]string, len(p.waves))
	for i, w := range p.waves {
		out[i] = slices.Clone(w)
	}
	return out
}

// Order flattens the waves into one valid start order.
func (p *Plan) Order() []string {
	var out []string
	for _, w := range p.waves {
		out = append(out, w...)
	}
	return out
}

func (p *Plan) Spec(name string) *service.Spec {
	return p.specs[name]
}

func (p *Plan) Len() int {
	return len(p.specs)
}
