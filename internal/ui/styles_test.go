package ui

import (
	"strings"
	"testing"
)

func TestPlainRendering(t *testing.T) {
	SetColor(false)
	defer SetColor(false)

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass without color = %q, want plain text", got)
	}
	if got := Count(0); got != "0" {
		t.Errorf("Count(0) = %q", got)
	}

	out := Panel("Queue", Field{"Pending", "2"}, Field{"Online", Bool(true, "yes", "no")})
	for _, want := range []string{"Queue", "Pending:", "2", "Online:", "yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("Panel output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("Panel output contains escape codes with color disabled:\n%q", out)
	}
}
