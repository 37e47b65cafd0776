package providers

import "healbot/internal/models"

// Role of a candidate within one ensemble call.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Candidate is one (provider, model) pair the ensemble may call. Priority
// is the candidate's rank for tie-breaking, 0 highest.
type Candidate struct {
	Provider string
	Model    string
	Role     string
	Priority int
}

// widthFor: ensemble width per bug type. LINTING never reaches a model
// when a tool exists, so its width is zero.
var widthFor = map[models.BugType]int{
	models.BugLogic:       3,
	models.BugTypeError:   2,
	models.BugSyntax:      2,
	models.BugImport:      1,
	models.BugIndentation: 1,
	models.BugLinting:     0,
}

// capabilityPlan: the preferred capability per slot, in order.
var capabilityPlan = map[models.BugType][]Capability{
	models.BugLogic:       {CapReasoning, CapReasoning, CapReasoning},
	models.BugTypeError:   {CapReasoning, CapReasoning},
	models.BugSyntax:      {CapReasoning, CapFast},
	models.BugImport:      {CapFast},
	models.BugIndentation: {CapFast},
	models.BugLinting:     {},
}

// SelectForBug yields the ordered (provider, model) candidates for a bug
// type. Each slot prefers an unused provider carrying the slot's
// capability tag; when none remains, any unused provider fills in. Width
// shrinks to the number of configured providers, minimum one.
func (r *Registry) SelectForBug(bug models.BugType) []Candidate {
	plan := capabilityPlan[bug]
	width := widthFor[bug]
	if width == 0 || len(plan) == 0 {
		return nil
	}
	if width > len(r.specs) {
		width = len(r.specs)
	}

	used := make(map[string]bool, width)
	var out []Candidate
	for slot := 0; slot < width; slot++ {
		want := plan[slot]
		spec, ok := r.pick(want, used)
		if !ok {
			spec, ok = r.pickAny(used)
		}
		if !ok {
			break
		}
		used[spec.Name] = true
		role := RoleSecondary
		if slot == 0 {
			role = RolePrimary
		}
		out = append(out, Candidate{
			Provider: spec.Name,
			Model:    modelForCapability(spec, want),
			Role:     role,
			Priority: slot,
		})
	}
	return out
}

func (r *Registry) pick(want Capability, used map[string]bool) (Spec, bool) {
	for _, s := range r.specs {
		if used[s.Name] {
			continue
		}
		if s.Capability == want {
			return s, true
		}
	}
	return Spec{}, false
}

func (r *Registry) pickAny(used map[string]bool) (Spec, bool) {
	for _, s := range r.specs {
		if !used[s.Name] {
			return s, true
		}
	}
	return Spec{}, false
}

func modelForCapability(spec Spec, want Capability) string {
	if want == CapReasoning && spec.ReasoningModel != "" {
		return spec.ReasoningModel
	}
	if spec.FastModel != "" {
		return spec.FastModel
	}
	return spec.ReasoningModel
}
