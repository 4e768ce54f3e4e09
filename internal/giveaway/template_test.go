package giveaway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	vars := TemplateVars{
		Prize:       "Nitro",
		Winners:     []int64{3, 1, 3},
		HostID:      9,
		WinnerCount: 3,
		Entrants:    12,
		Reason:      ReasonCompleted,
		EventID:     77,
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{name: "default", tmpl: DefaultResultTemplate, want: "🎉 Nitro の当選者: <@3> x2, <@1>"},
		{name: "all keys", tmpl: "{host} {winner_count}/{entrants} #{event_id} {reason}", want: "<@9> 3/12 #77 completed normally"},
		{name: "unknown key", tmpl: "{prize} {secret}", want: "Nitro {unknown}"},
		{name: "wrong case is unknown", tmpl: "{Prize} { prize }", want: "{unknown} { prize }"},
		{name: "digits are unknown", tmpl: "{x1}!", want: "{unknown}!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.tmpl, vars))
		})
	}
}

func TestRenderTemplate_NoWinners(t *testing.T) {
	assert.Equal(t, "Mug: なし", RenderTemplate("{prize}: {winners}", TemplateVars{Prize: "Mug"}))
}
