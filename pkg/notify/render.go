package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/doublelife/doublelife-kit/pkg/activity"
)

const (
	startLayout    = "2006-01-02T15:04:05"
	activityLayout = "15:04:05"
	fence          = "```"
)

// FormatDuration renders "12 minutes, 5 seconds".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%d minutes, %d seconds", int(d.Minutes()), int(d.Seconds())%60)
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func displayName(l SessionLog) string {
	if l.Name != "" {
		return l.Name
	}
	return "Unknown"
}

func writeHeader(b *strings.Builder, l SessionLog) {
	b.WriteString("# DOUBLE LIFE SESSION LOG \n" + fence + "\n")
	fmt.Fprintf(b, "Player: %s\n", displayName(l))
	fmt.Fprintf(b, "UUID: %s\n", l.Identity)
	if l.ModeDisplay != "" {
		fmt.Fprintf(b, "Mode: %s\n", l.ModeDisplay)
	}
	fmt.Fprintf(b, "Start Time: %s\n", l.Start.Format(startLayout))
	fmt.Fprintf(b, "End Time: %s\n", l.End.Format(startLayout))
	fmt.Fprintf(b, "Duration: %s\n", FormatDuration(l.Duration()))
	fmt.Fprintf(b, "Total Activities: %d\n", len(l.Activities))
	b.WriteString(fence + "\n")
}

// ActivityLine renders "[HH:MM:SS] Display: details @ location".
func ActivityLine(a activity.Activity) string {
	line := fmt.Sprintf("[%s] %s: %s", a.Timestamp.Format(activityLayout), a.Type.DisplayName(), a.Details)
	if a.Location != "" {
		line += " @ " + a.Location
	}
	return line
}

// Render produces the full text log written to disk and sent to callbacks.
func Render(l SessionLog) string {
	var b strings.Builder
	writeHeader(&b, l)

	b.WriteString("# SAVED STATE \n" + fence + "\n")
	if len(l.SavedState) == 0 {
		b.WriteString("Unavailable\n")
	}
	for _, line := range l.SavedState {
		b.WriteString(line + "\n")
	}
	b.WriteString(fence + "\n")

	b.WriteString("# ACTIVITY LOG \n" + fence + "\n")
	for _, a := range l.Activities {
		b.WriteString(ActivityLine(a) + "\n")
	}
	b.WriteString(fence + "\n=== END OF LOG ===")
	return b.String()
}

// RenderSummary fits the log into limit characters: header, per-type
// counts, then as many of the most recent activities as fit.
func RenderSummary(l SessionLog, limit int) string {
	var b strings.Builder
	writeHeader(&b, l)

	counts := make(map[activity.Type]int)
	var order []activity.Type
	for _, a := range l.Activities {
		if counts[a.Type] == 0 {
			order = append(order, a.Type)
		}
		counts[a.Type]++
	}
	if len(order) > 0 {
		b.WriteString("# SUMMARY \n" + fence + "\n")
		for _, t := range order {
			fmt.Fprintf(&b, "%s: %d\n", t.DisplayName(), counts[t])
		}
		b.WriteString(fence + "\n")
	}

	if b.Len() >= limit {
		return closeFence(truncate(b.String(), limit))
	}

	budget := limit - b.Len() - len("# RECENT \n"+fence+"\n") - len(fence) - len("... 00000 earlier\n")
	var recent []string
	used := 0
	for i := len(l.Activities) - 1; i >= 0; i-- {
		line := ActivityLine(l.Activities[i]) + "\n"
		if used+len(line) > budget {
			break
		}
		recent = append(recent, line)
		used += len(line)
	}
	if len(recent) > 0 {
		b.WriteString("# RECENT \n" + fence + "\n")
		if skipped := len(l.Activities) - len(recent); skipped > 0 {
			fmt.Fprintf(&b, "... %d earlier\n", skipped)
		}
		for i := len(recent) - 1; i >= 0; i-- {
			b.WriteString(recent[i])
		}
		b.WriteString(fence)
	}
	return closeFence(b.String())
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i+1]
	}
	return cut
}

// closeFence appends a closing fence when s ends inside a code block.
func closeFence(s string) string {
	if strings.Count(s, fence)%2 == 1 {
		if !strings.HasSuffix(s, "\n") {
			s += "\n"
		}
		s += fence
	}
	return s
}
