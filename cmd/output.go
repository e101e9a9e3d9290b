package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/NamanBalaji/prepfetch/internal/engine"
	"github.com/NamanBalaji/prepfetch/internal/manifest"
	"github.com/NamanBalaji/prepfetch/internal/progress"
	"github.com/NamanBalaji/prepfetch/internal/status"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func stateStyle(s status.State) lipgloss.Style {
	switch s {
	case status.Published:
		return successStyle
	case status.Failed:
		return errorStyle
	case status.Cancelled:
		return warningStyle
	default:
		return pendingStyle
	}
}

func bytesOf(written, total int64) string {
	if total <= 0 {
		return humanize.IBytes(uint64(max(written, 0)))
	}

	return humanize.IBytes(uint64(max(written, 0))) + " / " + humanize.IBytes(uint64(total))
}

func notes(flags map[string]bool) string {
	var out []string
	for _, name := range []string{"skipped", "resumed", "recovered", "unverified"} {
		if flags[name] {
			out = append(out, name)
		}
	}

	return strings.Join(out, ", ")
}

func renderOutcome(o *engine.Outcome) string {
	t := newTable("Artifact", "State", "Size", "Notes", "Path / Reason")

	for _, r := range o.Results() {
		detail := r.Dest
		if !r.OK() {
			detail = r.Reason
		}

		total := r.Resource.ExpectedSize
		if total == 0 {
			total = r.Artifact.Size
		}

		t.Row(
			r.Artifact.ID(),
			stateStyle(r.State).Render(r.State.String()),
			bytesOf(r.BytesWritten, total),
			notes(map[string]bool{
				"skipped":    r.Skipped,
				"resumed":    r.Resumed,
				"recovered":  r.Recovered,
				"unverified": r.Unverified,
			}),
			detail,
		)
	}

	summary := fmt.Sprintf("%d published, %d failed, %d cancelled", o.Summary.Published, o.Summary.Failed, o.Summary.Cancelled)
	if o.Summary.Unverified > 0 {
		summary += warningStyle.Render(fmt.Sprintf(" (%d unverified)", o.Summary.Unverified))
	}

	return t.String() + "\n" + summary
}

func renderSnapshot(s *progress.Snapshot) string {
	var b strings.Builder

	fmt.Fprintln(&b, headerStyle.Render("Run "+s.RunID))
	fmt.Fprintln(&b, detailStyle.Render(fmt.Sprintf("updated %s (version %d)", s.UpdatedAt.Local().Format(time.DateTime), s.Version)))

	t := newTable("Artifact", "State", "Progress", "Bytes", "Chunks", "Reason")

	for _, e := range s.Entries {
		chunks := ""
		if e.ChunksTotal > 0 {
			chunks = strconv.Itoa(e.ChunksDone) + "/" + strconv.Itoa(e.ChunksTotal)
		}

		t.Row(
			e.ID,
			stateStyle(e.State).Render(e.State.String()),
			fmt.Sprintf("%.1f%%", e.Percentage()),
			bytesOf(e.WrittenBytes, e.TotalBytes),
			chunks,
			e.Reason,
		)
	}

	b.WriteString(t.String())

	sum := s.Summary
	fmt.Fprintf(&b, "\n%d total, %d active, %d published, %d failed, %d cancelled, %s of %s",
		sum.Total, sum.Active, sum.Published, sum.Failed, sum.Cancelled,
		humanize.IBytes(uint64(max(sum.BytesWritten, 0))), humanize.IBytes(uint64(max(sum.BytesTotal, 0))))

	return b.String()
}

func renderManifest(m *manifest.Manifest) string {
	var b strings.Builder

	if m.Version != "" || m.Created != "" {
		fmt.Fprintln(&b, headerStyle.Render(strings.TrimSpace("Manifest "+m.Version+" "+m.Created)))
	}

	def, _ := m.DefaultModuleName()

	t := newTable("Module", "Files", "Size", "Description")

	for _, name := range m.ModuleNames() {
		mod, err := m.Module(name)
		if err != nil {
			continue
		}

		label := name
		if name == def {
			label += " (default)"
		}

		size := "unknown"
		if total := mod.TotalSize(); total > 0 {
			size = humanize.IBytes(uint64(total))
		}

		t.Row(label, strings.Join(mod.FileNames(), ", "), size, mod.Description)
	}

	b.WriteString(t.String())

	return b.String()
}
