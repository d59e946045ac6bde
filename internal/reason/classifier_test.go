package reason

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/saveflow/internal/model"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.ReasonCategory
	}{
		{"expensive", "It's too expensive for my budget", model.ReasonTooExpensive},
		{"price", "the price went up again", model.ReasonTooExpensive},
		{"wrong product", "this is the wrong flavor", model.ReasonWrongProduct},
		{"not what expected", "not what I expected at all", model.ReasonWrongProduct},
		{"too much", "I have too much product piling up", model.ReasonTooMuch},
		{"shipping", "shipping keeps showing up late", model.ReasonShippingIssues},
		{"damaged", "my last box arrived damaged", model.ReasonShippingIssues},
		{"not using", "I don't use it anymore", model.ReasonNotUsing},
		{"unused", "three unused bags in the pantry", model.ReasonNotUsing},
		{"no match", "xyz", model.ReasonOther},
		{"empty", "", model.ReasonOther},
		{"uppercase", "TOO EXPENSIVE", model.ReasonTooExpensive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.text))
		})
	}
}

// Priority order matters: a reason mentioning both cost and usage buckets as
// too_expensive because that rule is evaluated first.
func TestCategorize_PriorityOrder(t *testing.T) {
	got := Categorize("too expensive and I don't use it anymore")
	assert.Equal(t, model.ReasonTooExpensive, got)
}

func TestCategorize_Deterministic(t *testing.T) {
	text := "delivery was late and the box was damaged"
	first := Categorize(text)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Categorize(text))
	}
}

func TestCategories(t *testing.T) {
	cats := Categories()
	assert.Len(t, cats, 6)
	assert.Equal(t, model.ReasonTooExpensive, cats[0])
	assert.Equal(t, model.ReasonOther, cats[5])
}
