// Package ontology is the static catalog of relationship labels used on
// associations. The catalog is data, not code: every label carries its
// category, symmetry, transitivity, and inverse, and services consult it to
// validate and classify edges.
package ontology

import "sort"

// Category groups relationship labels by the kind of structure they express.
type Category string

const (
	CategoryHierarchical Category = "hierarchical"
	CategoryCausal       Category = "causal"
	CategoryTemporal     Category = "temporal"
	CategorySimilarity   Category = "similarity"
	CategoryLearning     Category = "learning"
	CategoryRefinement   Category = "refinement"
	CategoryReference    Category = "reference"
	CategorySolution     Category = "solution"
	CategoryContext      Category = "context"
	CategoryWorkflow     Category = "workflow"
	CategoryQuality      Category = "quality"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryHierarchical, CategoryCausal, CategoryTemporal, CategorySimilarity,
	CategoryLearning, CategoryRefinement, CategoryReference, CategorySolution,
	CategoryContext, CategoryWorkflow, CategoryQuality,
}

// DefaultRelationship is the fallback label when classification is
// unavailable or fails.
const DefaultRelationship = "related_to"

// RelationshipInfo describes one catalog entry.
type RelationshipInfo struct {
	Description string
	Category    Category
	Symmetric   bool
	Transitive  bool
	Inverse     string // empty when none
}

// relationships is the full catalog.
var relationships = map[string]RelationshipInfo{
	// Hierarchical
	"part_of":     {Description: "source is a component of target", Category: CategoryHierarchical, Transitive: true, Inverse: "contains"},
	"contains":    {Description: "source has target as a component", Category: CategoryHierarchical, Transitive: true, Inverse: "part_of"},
	"parent_of":   {Description: "source is the parent of target", Category: CategoryHierarchical, Transitive: true, Inverse: "child_of"},
	"child_of":    {Description: "source is a child of target", Category: CategoryHierarchical, Transitive: true, Inverse: "parent_of"},
	"instance_of": {Description: "source is a concrete instance of target", Category: CategoryHierarchical, Inverse: "type_of"},
	"type_of":     {Description: "source is the type of target", Category: CategoryHierarchical, Inverse: "instance_of"},
	"composed_of": {Description: "source is assembled from target", Category: CategoryHierarchical},

	// Causal
	"causes":      {Description: "source brings about target", Category: CategoryCausal, Inverse: "caused_by"},
	"caused_by":   {Description: "source was brought about by target", Category: CategoryCausal, Inverse: "causes"},
	"enables":     {Description: "source makes target possible", Category: CategoryCausal},
	"prevents":    {Description: "source stops target from happening", Category: CategoryCausal},
	"triggers":    {Description: "source initiates target", Category: CategoryCausal},
	"depends_on":  {Description: "source requires target", Category: CategoryCausal, Transitive: true, Inverse: "required_by"},
	"required_by": {Description: "source is required by target", Category: CategoryCausal, Inverse: "depends_on"},

	// Temporal
	"precedes":        {Description: "source happened before target", Category: CategoryTemporal, Transitive: true, Inverse: "follows"},
	"follows":         {Description: "source happened after target", Category: CategoryTemporal, Transitive: true, Inverse: "precedes"},
	"concurrent_with": {Description: "source and target happened together", Category: CategoryTemporal, Symmetric: true},
	"supersedes":      {Description: "source replaces target", Category: CategoryTemporal, Inverse: "superseded_by"},
	"superseded_by":   {Description: "source was replaced by target", Category: CategoryTemporal, Inverse: "supersedes"},

	// Similarity
	"similar_to":   {Description: "source resembles target", Category: CategorySimilarity, Symmetric: true},
	"related_to":   {Description: "source and target are loosely related", Category: CategorySimilarity, Symmetric: true},
	"same_as":      {Description: "source and target describe the same thing", Category: CategorySimilarity, Symmetric: true, Transitive: true},
	"analogous_to": {Description: "source parallels target in structure", Category: CategorySimilarity, Symmetric: true},
	"opposite_of":  {Description: "source is the inverse notion of target", Category: CategorySimilarity, Symmetric: true},

	// Learning
	"learned_from":      {Description: "source knowledge came from target", Category: CategoryLearning, Inverse: "teaches"},
	"teaches":           {Description: "source conveys the lesson in target", Category: CategoryLearning, Inverse: "learned_from"},
	"example_of":        {Description: "source concretely illustrates target", Category: CategoryLearning},
	"counterexample_of": {Description: "source disproves the generality of target", Category: CategoryLearning},
	"explains":          {Description: "source accounts for target", Category: CategoryLearning},
	"clarifies":         {Description: "source removes ambiguity from target", Category: CategoryLearning},

	// Refinement
	"refines":     {Description: "source is a sharper version of target", Category: CategoryRefinement, Inverse: "refined_by"},
	"refined_by":  {Description: "source was sharpened by target", Category: CategoryRefinement, Inverse: "refines"},
	"builds_on":   {Description: "source extends the ideas in target", Category: CategoryRefinement, Transitive: true},
	"extends":     {Description: "source adds capability to target", Category: CategoryRefinement},
	"specializes": {Description: "source narrows target to a case", Category: CategoryRefinement, Inverse: "generalizes"},
	"generalizes": {Description: "source broadens target", Category: CategoryRefinement, Inverse: "specializes"},

	// Reference
	"references":    {Description: "source points at target", Category: CategoryReference, Inverse: "referenced_by"},
	"referenced_by": {Description: "source is pointed at by target", Category: CategoryReference, Inverse: "references"},
	"derived_from":  {Description: "source was produced from target", Category: CategoryReference, Inverse: "source_of"},
	"source_of":     {Description: "source is the origin of target", Category: CategoryReference, Inverse: "derived_from"},
	"cites":         {Description: "source quotes target as evidence", Category: CategoryReference},

	// Solution
	"solves":         {Description: "source resolves the problem in target", Category: CategorySolution, Inverse: "solved_by"},
	"solved_by":      {Description: "source's problem is resolved by target", Category: CategorySolution, Inverse: "solves"},
	"addresses":      {Description: "source partially handles target", Category: CategorySolution},
	"workaround_for": {Description: "source sidesteps the problem in target", Category: CategorySolution},
	"alternative_to": {Description: "source is another option beside target", Category: CategorySolution, Symmetric: true},
	"mitigates":      {Description: "source reduces the impact of target", Category: CategorySolution},

	// Context
	"occurred_in": {Description: "source took place within target", Category: CategoryContext},
	"applies_to":  {Description: "source is applicable in target", Category: CategoryContext},
	"relevant_to": {Description: "source matters for target", Category: CategoryContext},
	"scoped_to":   {Description: "source is limited to target", Category: CategoryContext},
	"observed_in": {Description: "source was seen within target", Category: CategoryContext},

	// Workflow
	"blocks":        {Description: "source prevents progress on target", Category: CategoryWorkflow, Inverse: "blocked_by"},
	"blocked_by":    {Description: "source cannot progress until target", Category: CategoryWorkflow, Inverse: "blocks"},
	"next_step":     {Description: "source is followed by target in a flow", Category: CategoryWorkflow, Inverse: "previous_step"},
	"previous_step": {Description: "source comes before target in a flow", Category: CategoryWorkflow, Inverse: "next_step"},
	"delegated_to":  {Description: "source's work was handed to target", Category: CategoryWorkflow},
	"assigned_to":   {Description: "source is owned by target", Category: CategoryWorkflow},

	// Quality
	"improves":    {Description: "source raises the quality of target", Category: CategoryQuality},
	"degrades":    {Description: "source lowers the quality of target", Category: CategoryQuality},
	"validates":   {Description: "source confirms target is correct", Category: CategoryQuality, Inverse: "invalidates"},
	"invalidates": {Description: "source shows target is incorrect", Category: CategoryQuality, Inverse: "validates"},
	"confirms":    {Description: "source supports target with evidence", Category: CategoryQuality},
	"contradicts": {Description: "source conflicts with target", Category: CategoryQuality, Symmetric: true},
	"questions":   {Description: "source casts doubt on target", Category: CategoryQuality},
}

// Validate reports whether label is a known catalog entry.
func Validate(label string) bool {
	_, ok := relationships[label]
	return ok
}

// Info returns the catalog entry for label.
func Info(label string) (RelationshipInfo, bool) {
	info, ok := relationships[label]
	return info, ok
}

// ByCategory returns the sorted labels in a category.
func ByCategory(cat Category) []string {
	var out []string
	for label, info := range relationships {
		if info.Category == cat {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every label, sorted.
func All() []string {
	out := make([]string, 0, len(relationships))
	for label := range relationships {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Count returns the catalog size.
func Count() int { return len(relationships) }
