// Package classify assigns a category to memory content with ordered
// keyword and pattern rules. It is pure and safe for concurrent use.
package classify

import (
	"regexp"

	"github.com/rcliao/layered-memory/internal/model"
)

// Rule maps any matching pattern to a category.
type Rule struct {
	Category model.Category
	Patterns []*regexp.Regexp
}

// Matches reports whether any pattern matches content.
func (r Rule) Matches(content string) bool {
	for _, p := range r.Patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// New returns a classifier with the given rules, or the default rules when
// none are supplied.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the category of content, general when nothing matches.
func (c *Classifier) Classify(content string) model.Category {
	for _, r := range c.rules {
		if r.Matches(content) {
			return r.Category
		}
	}
	return model.CategoryGeneral
}

func words(ws ...string) *regexp.Regexp {
	pattern := `(?i)\b(?:`
	for i, w := range ws {
		if i > 0 {
			pattern += "|"
		}
		pattern += w
	}
	return regexp.MustCompile(pattern + `)\b`)
}

// DefaultRules is the built-in rule order. Contact details are the most
// specific signal, so they are checked first; personal facts are the
// broadest and come last.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: model.CategoryContact,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
				regexp.MustCompile(`(?:\+\d{1,3}[\s\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
				words(`e-?mail`, `phone( number)?`, `contact`, `address is`, `reach (?:me|him|her|them) at`, `linkedin`, `twitter handle`),
			},
		},
		{
			Category: model.CategorySchedule,
			Patterns: []*regexp.Regexp{
				words(`monday`, `tuesday`, `wednesday`, `thursday`, `friday`, `saturday`, `sunday`,
					`tomorrow`, `tonight`, `next week`, `appointment`, `meeting`, `deadline`, `schedule[sd]?`, `calendar`, `due`),
				regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s?(?:am|pm)\b`),
				regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			},
		},
		{
			Category: model.CategoryPreference,
			Patterns: []*regexp.Regexp{
				words(`prefers?`, `preference`, `favou?rite`, `likes?`, `loves?`, `enjoys?`, `hates?`, `dislikes?`,
					`can't stand`, `rather`, `allergic`, `vegetarian`, `vegan`),
			},
		},
		{
			Category: model.CategoryGoal,
			Patterns: []*regexp.Regexp{
				words(`goals?`, `wants? to`, `plans? to`, `aims? to`, `hopes? to`, `dreams? of`, `trying to`,
					`aspires?`, `resolution`, `someday`, `objective`),
			},
		},
		{
			Category: model.CategoryWork,
			Patterns: []*regexp.Regexp{
				words(`work(?:s|ing)?`, `job`, `office`, `project`, `colleagues?`, `coworkers?`, `boss`, `manager`,
					`company`, `client`, `team`, `career`, `salary`, `employer`),
			},
		},
		{
			Category: model.CategoryPersonal,
			Patterns: []*regexp.Regexp{
				words(`my name`, `name is`, `i am`, `i'm`, `birthday`, `born`, `family`, `wife`, `husband`, `partner`,
					`son`, `daughter`, `kids?`, `mom`, `dad`, `mother`, `father`, `sister`, `brother`, `pet`, `dog`, `cat`,
					`live[sd]? in`, `hometown`, `age`),
			},
		},
	}
}
