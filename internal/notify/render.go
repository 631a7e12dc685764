package notify

import (
	"fmt"
	"strings"

	"provengine/internal/domain"
)

const (
	progressBarWidth = 10
	maxUnitLines     = 5
)

// Render formats a batch snapshot as a chat progress message. At most
// maxUnitLines in-flight units are listed so the message stays readable
// for large batches.
func Render(snap domain.BatchSnapshot) string {
	var b strings.Builder

	terminalCount := snap.Completed + snap.Failed + snap.Aborted
	fmt.Fprintf(&b, "Batch %s\n", shortID(snap.BatchID))
	fmt.Fprintf(&b, "%s %d%%\n", renderBar(snap.OverallPercent), snap.OverallPercent)
	fmt.Fprintf(&b, "%d/%d finished · ✅ %d · ❌ %d · 🚫 %d\n",
		terminalCount, snap.TargetCount, snap.Completed, snap.Failed, snap.Aborted)

	if snap.Terminal {
		b.WriteString("\nAll units settled.")
		return b.String()
	}

	listed := 0
	inFlight := 0
	for _, u := range snap.Units {
		if u.Stage == domain.StageInit || u.Stage.IsTerminal() {
			continue
		}
		inFlight++
		if listed >= maxUnitLines {
			continue
		}
		fmt.Fprintf(&b, "#%d %s (%d%%)\n", u.Ordinal, u.Step, u.Percent)
		listed++
	}
	if inFlight > listed {
		fmt.Fprintf(&b, "…and %d more in flight\n", inFlight-listed)
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := percent * progressBarWidth / 100
	return strings.Repeat("▰", filled) + strings.Repeat("▱", progressBarWidth-filled)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
