// Package classify decides whether a merged record is a popup listing.
package classify

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Rule names recorded in crawler.Detection.
const (
	RuleCategory        = "category"
	RuleKeywordDuration = "keyword+duration"
	RuleNone            = "none"
)

const dateLayout = "2006-01-02"

// Rules is the configurable rule table.
type Rules struct {
	Categories []string            `mapstructure:"categories"`
	Keywords   map[string][]string `mapstructure:"keywords"`
	MaxDays    int                 `mapstructure:"max_days"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		Categories: []string{"POPUP", "POPUP_STORE", "POPUP_EVENT"},
		Keywords: map[string][]string{
			"ko": {"팝업"},
			"en": {"popup", "pop-up"},
			"ja": {"ポップアップ"},
		},
		MaxDays: 90,
	}
}

// Engine evaluates the three popup signals.
type Engine struct {
	categories map[string]struct{}
	keywords   []string
	maxDays    int
}

// New compiles rules into an Engine. A non-positive MaxDays uses the default.
func New(rules Rules) *Engine {
	e := &Engine{
		categories: make(map[string]struct{}, len(rules.Categories)),
		maxDays:    rules.MaxDays,
	}
	if e.maxDays <= 0 {
		e.maxDays = DefaultRules().MaxDays
	}
	for _, c := range rules.Categories {
		if n := normalizeCategory(c); n != "" {
			e.categories[n] = struct{}{}
		}
	}
	locales := make([]string, 0, len(rules.Keywords))
	for loc := range rules.Keywords {
		locales = append(locales, loc)
	}
	sort.Strings(locales)
	seen := make(map[string]struct{})
	for _, loc := range locales {
		for _, kw := range rules.Keywords[loc] {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			e.keywords = append(e.keywords, kw)
		}
	}
	return e
}

// MatchCategory compares letters-only uppercase forms, so "pop-up store"
// and "POPUP_STORE" are the same category.
func (e *Engine) MatchCategory(category string) bool {
	n := normalizeCategory(category)
	if n == "" {
		return false
	}
	_, ok := e.categories[n]
	return ok
}

// MatchKeywords returns the distinct keywords found in any title.
func (e *Engine) MatchKeywords(titles []string) ([]string, bool) {
	matched := []string{}
	for _, kw := range e.keywords {
		for _, title := range titles {
			if title != "" && strings.Contains(strings.ToLower(title), kw) {
				matched = append(matched, kw)
				break
			}
		}
	}
	return matched, len(matched) > 0
}

// MatchDuration reports whether both dates parse, end is not before start,
// and the span is within the limit. days is set whenever both dates parse.
func (e *Engine) MatchDuration(start, end string) (*int, bool) {
	s, errS := time.Parse(dateLayout, strings.TrimSpace(start))
	en, errE := time.Parse(dateLayout, strings.TrimSpace(end))
	if errS != nil || errE != nil {
		return nil, false
	}
	days := int(en.Sub(s).Hours() / 24)
	return &days, days >= 0 && days <= e.maxDays
}

// Classify combines the signals: category alone suffices, otherwise keyword
// and duration must both fire.
func (e *Engine) Classify(category string, titles []string, start, end string) (bool, crawler.Detection) {
	cat := e.MatchCategory(category)
	keywords, kw := e.MatchKeywords(titles)
	days, dur := e.MatchDuration(start, end)

	det := crawler.Detection{
		Rule:         RuleNone,
		Category:     cat,
		Keyword:      kw,
		Duration:     dur,
		Keywords:     keywords,
		DurationDays: days,
	}
	switch {
	case cat:
		det.Rule = RuleCategory
	case kw && dur:
		det.Rule = RuleKeywordDuration
	}
	return det.Rule != RuleNone, det
}

// Apply classifies rec using titles in locale order and stores the result.
func (e *Engine) Apply(rec *crawler.Record, locales []string) {
	isPopup, det := e.Classify(rec.Category, rec.Titles(locales), rec.Duration.Start, rec.Duration.End)
	rec.IsPopup = isPopup
	rec.Meta.Detection = &det
}

func normalizeCategory(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
