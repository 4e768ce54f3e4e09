package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesGiveawayMetrics(t *testing.T) {
	EventCreated()
	EventEnded("completed normally")
	Entry(EntryAdded)
	Flush(nil)
	Flush(errors.New("disk full"))
	SetActiveEvents(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"giveaway_events_created_total",
		`giveaway_events_ended_total{reason="completed normally"}`,
		`giveaway_entries_total{result="added"}`,
		`giveaway_flush_total{status="error"}`,
		"giveaway_active_events 3",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
