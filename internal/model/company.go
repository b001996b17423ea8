package model

// Company is the resolved identity of the analysis target. It is created once
// per job during company resolution and never mutated afterwards.
type Company struct {
	Domain        string   `json:"domain"`
	CanonicalName string   `json:"canonical_name"`
	Aliases       []string `json:"aliases"`
}

// AnalysisContext pins the target set for a completed analysis: the resolved
// company, its aliases, and the declared competitors. Analytics reads are
// scoped to this context.
type AnalysisContext struct {
	CompanyName    string   `json:"company_name"`
	CompanyAliases []string `json:"company_aliases"`
	Competitors    []string `json:"competitors"`
}
