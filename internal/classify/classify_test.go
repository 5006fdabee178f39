package classify_test

import (
	"regexp"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/layered-memory/internal/classify"
	"github.com/rcliao/layered-memory/internal/model"
)

func TestClassify(t *testing.T) {
	c := classify.New()

	tests := []struct {
		content string
		want    model.Category
	}{
		{"User's email is test@example.com", model.CategoryContact},
		{"Call me on +1 (555) 123-4567", model.CategoryContact},
		{"Dentist appointment on Friday at 3pm", model.CategorySchedule},
		{"Quarterly report is due 2026-11-01", model.CategorySchedule},
		{"I prefer dark roast coffee", model.CategoryPreference},
		{"Favorite band is Radiohead", model.CategoryPreference},
		{"My goal is to run a marathon", model.CategoryGoal},
		{"Wants to learn Rust next year", model.CategoryGoal},
		{"Works at Acme on the billing project", model.CategoryWork},
		{"My name is Sam and I live in Lisbon", model.CategoryPersonal},
		{"The sky was grey", model.CategoryGeneral},
		{"", model.CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			gt.Equal(t, c.Classify(tt.content), tt.want)
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	c := classify.New()
	// mentions both a meeting and a boss; schedule is checked before work
	gt.Equal(t, c.Classify("Meeting with my boss tomorrow"), model.CategorySchedule)
	// email address outranks everything
	gt.Equal(t, c.Classify("I love emailing bob@corp.io about the project"), model.CategoryContact)
}

func TestCustomRules(t *testing.T) {
	c := classify.New(classify.Rule{
		Category: model.CategoryWork,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)jira`)},
	})
	gt.Equal(t, c.Classify("JIRA-123 is blocked"), model.CategoryWork)
	gt.Equal(t, c.Classify("my name is Sam"), model.CategoryGeneral)
}

func TestDeterministic(t *testing.T) {
	c := classify.New()
	in := "Remind me about the team offsite"
	first := c.Classify(in)
	for i := 0; i < 10; i++ {
		gt.Equal(t, c.Classify(in), first)
	}
}
