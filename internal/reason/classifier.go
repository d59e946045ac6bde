// Package reason classifies free-text cancellation reasons into fixed
// categories. Classification is deliberately keyword-based rather than
// model-based: it must be reproducible for analytics and support triage.
package reason

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/saveflow/internal/model"
)

// rule pairs a category with the keywords that select it. Rules are evaluated
// in order; the first category with any matching keyword wins.
type rule struct {
	category model.ReasonCategory
	keywords []string
}

// rules is the fixed priority order. Keep it stable: reordering changes how
// ambiguous reasons ("too expensive and I don't use it") are bucketed, which
// would break comparability of historical analytics.
var rules = []rule{
	{model.ReasonTooExpensive, []string{"expensive", "cost", "price", "afford", "money", "budget"}},
	{model.ReasonWrongProduct, []string{"wrong", "different", "not what", "expected", "flavor", "taste"}},
	{model.ReasonTooMuch, []string{"too much", "too many", "excess", "stockpile", "piling up"}},
	{model.ReasonShippingIssues, []string{"shipping", "delivery", "late", "never arrived", "damaged"}},
	{model.ReasonNotUsing, []string{"not using", "don't use", "dont use", "unused", "forgot", "anymore"}},
}

var fold = cases.Fold()

// Categorize maps a free-text cancellation reason to a category via
// case-insensitive substring matching. Unmatched or empty text maps to other.
func Categorize(freeText string) model.ReasonCategory {
	text := fold.String(freeText)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return model.ReasonOther
}

// Categories returns the fixed category set in priority order, ending with
// the fallback bucket.
func Categories() []model.ReasonCategory {
	out := make([]model.ReasonCategory, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, model.ReasonOther)
}
