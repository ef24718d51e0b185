package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/user/newspulse/internal/types"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	got := formatEvent(types.NotifyEvent{
		Kind:    "analysis_failed",
		Subject: "AAPL",
		Message: "unsupported language",
		At:      at,
	})
	for _, want := range []string{"analysis_failed", "[AAPL]", "unsupported language", "2026-03-14 09:30:00 UTC"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted event missing %q:\n%s", want, got)
		}
	}

	// Subject is optional.
	got = formatEvent(types.NotifyEvent{Kind: "sweep_degraded", Message: "broker unreachable", At: at})
	if strings.Contains(got, "[") {
		t.Errorf("subject brackets present without a subject:\n%s", got)
	}
}
