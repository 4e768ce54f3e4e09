package giveaway

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
)

// DefaultResultTemplate is used when the scope has no template configured.
const DefaultResultTemplate = "🎉 {prize} の当選者: {winners}"

const unknownPlaceholder = "{unknown}"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// TemplateVars はテンプレートで参照できる値。キーはこの一覧に限定される
type TemplateVars struct {
	Prize       string
	Winners     []int64
	HostID      int64
	WinnerCount int
	Entrants    int
	Reason      string
	EventID     int64
}

func (v TemplateVars) lookup() map[string]string {
	return map[string]string{
		"prize":        v.Prize,
		"winners":      formatWinners(v.Winners),
		"host":         mention(v.HostID),
		"winner_count": strconv.Itoa(v.WinnerCount),
		"entrants":     strconv.Itoa(v.Entrants),
		"reason":       v.Reason,
		"event_id":     strconv.FormatInt(v.EventID, 10),
	}
}

// RenderTemplate replaces {key} placeholders. Keys outside the whitelist render as {unknown}.
func RenderTemplate(tmpl string, vars TemplateVars) string {
	values := vars.lookup()
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok {
			return v
		}
		return unknownPlaceholder
	})
}

// formatWinners collapses duplicates into "<@id> x2" in first-seen order.
func formatWinners(winners []int64) string {
	if len(winners) == 0 {
		return "なし"
	}
	tally := lottery.CountWinners(winners)
	parts := make([]string, 0, len(tally))
	for _, w := range tally {
		s := mention(w.ID)
		if w.Count > 1 {
			s += " x" + strconv.Itoa(w.Count)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func mention(id int64) string {
	return "<@" + strconv.FormatInt(id, 10) + ">"
}
