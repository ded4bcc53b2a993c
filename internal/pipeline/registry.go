package pipeline

import (
	"sort"

	"github.com/rotisserie/eris"
)

// Registry maps stage names to their implementations, kept in index order.
type Registry struct {
	stages map[string]Stage
	order  []Stage
}

// NewRegistry creates a registry populated with all eight stages.
func NewRegistry() *Registry {
	r := &Registry{stages: make(map[string]Stage)}

	r.Register(inventoryStage{})
	r.Register(dedupRawStage{})
	r.Register(blocksStage{})
	r.Register(conceptsStage{})
	r.Register(atomsStage{})
	r.Register(qaUnitsStage{})
	r.Register(evalStage{})
	r.Register(reportStage{})

	return r
}

// Register adds a stage, replacing any stage with the same name.
func (r *Registry) Register(s Stage) {
	if _, ok := r.stages[s.Name()]; ok {
		for i, o := range r.order {
			if o.Name() == s.Name() {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.stages[s.Name()] = s
	r.order = append(r.order, s)
	sort.SliceStable(r.order, func(i, j int) bool { return r.order[i].Index() < r.order[j].Index() })
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown stage %q", name)
	}
	return s, nil
}

// Select returns the stages whose index lies in [from, to], in index order.
func (r *Registry) Select(from, to int) []Stage {
	var out []Stage
	for _, s := range r.order {
		if s.Index() >= from && s.Index() <= to {
			out = append(out, s)
		}
	}
	return out
}

// All returns every stage in index order.
func (r *Registry) All() []Stage {
	return append([]Stage(nil), r.order...)
}
