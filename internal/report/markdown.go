package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/alvmarrod/hvt-hunter/internal/memory"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

const dateLayout = "2006-01-02 15:04:05 MST"

// WriteMarkdown renders a session as a Markdown report: session summary,
// ranked HVTs, analytics and the most productive referrers
func WriteMarkdown(w io.Writer, state *storage.SessionState) error {
	lineage := memory.NewLineageGraph()
	lineage.Load(state.Lineage)

	md := markdown.NewMarkdown(w)
	md.H1("HVT Hunter Report")
	md.PlainText("")

	writeSession(md, state)
	writeRanking(md, Rank(state.HVTs, lineage))
	if len(state.HVTs) > 0 {
		writeAnalytics(md, Analyze(state.HVTs))
		writeSources(md, state.HVTs, lineage)
	}

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated %s*", time.Now().UTC().Format(dateLayout))
	return md.Build()
}

func writeSession(md *markdown.Markdown, state *storage.SessionState) {
	stats := state.Stats
	successRate := 0.0
	if stats.ProfilesScanned > 0 {
		successRate = float64(stats.ProfilesAccepted) / float64(stats.ProfilesScanned) * 100
	}

	md.H2("Session")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Session", "`" + state.SessionID + "`"},
			{"Status", state.Status},
			{"Checkpoint", "#" + strconv.FormatInt(state.Sequence, 10)},
			{"Started", state.CreatedAt.UTC().Format(dateLayout)},
			{"Last Checkpoint", state.UpdatedAt.UTC().Format(dateLayout)},
			{"Profiles Scanned", strconv.Itoa(stats.ProfilesScanned)},
			{"HVTs Found", strconv.Itoa(len(state.HVTs))},
			{"Rejected", strconv.Itoa(stats.ProfilesRejected)},
			{"Errors", fmt.Sprintf("%d transient, %d permanent", stats.TransientErrors, stats.PermanentErrors)},
			{"Success Rate", fmt.Sprintf("%.2f%%", successRate)},
			{"Still Queued", strconv.Itoa(len(state.Frontier))},
		},
	})
	md.PlainText("")

	switch {
	case state.Status == storage.StatusInterrupted:
		md.Warningf("Session was interrupted with %d profiles still queued. Run it again to resume.", len(state.Frontier))
	case len(state.HVTs) == 0:
		md.Note("No profile has qualified yet.")
	}
	md.PlainText("")
}

func writeRanking(md *markdown.Markdown, ranked []Ranked) {
	md.H2("Ranked HVTs")
	md.PlainText("")
	if len(ranked) == 0 {
		md.PlainText("No HVTs recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(ranked))
	for i, r := range ranked {
		rec := Record(r.HVT)
		source := rec.SourceHVT
		if source == "" {
			source = "seed"
		}
		rows[i] = []string{
			strconv.Itoa(i + 1),
			"@" + rec.Username,
			strconv.Itoa(rec.FollowerCount),
			fmt.Sprintf("%.2f%%", r.Engagement),
			rec.EstimatedGender,
			truncate(rec.Location, 30),
			strconv.Itoa(r.Referrals),
			source,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Rank", "Username", "Followers", "Engagement", "Gender", "Location", "Referrals", "Source"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, r := range ranked {
		md.Details("@"+r.HVT.Ref.Username, r.HVT.Justification)
	}
	md.PlainText("")
}

func writeAnalytics(md *markdown.Markdown, a Analytics) {
	md.H2("Analytics")
	md.PlainText("")

	rows := [][]string{
		{"Average Followers", fmt.Sprintf("%.0f", a.AvgFollowers)},
		{"Median Followers", strconv.Itoa(a.MedianFollowers)},
		{"Avg. Follower/Following Ratio", fmt.Sprintf("%.2f", a.AvgRatio)},
	}
	if len(a.Genders) > 0 {
		rows = append(rows, []string{"Top Gender", fmt.Sprintf("%s (%d)", a.Genders[0].Value, a.Genders[0].N)})
	}
	if len(a.Languages) > 0 {
		rows = append(rows, []string{"Top Language", fmt.Sprintf("%s (%d)", a.Languages[0].Value, a.Languages[0].N)})
	}
	if a.TopLocation.N > 0 {
		rows = append(rows, []string{"Top Location", fmt.Sprintf("%s (%d)", a.TopLocation.Value, a.TopLocation.N)})
	}
	if a.TopSource.N > 0 {
		rows = append(rows, []string{"Most Productive Source", fmt.Sprintf("@%s (%d)", a.TopSource.Value, a.TopSource.N)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Analytic", "Result"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Estimated Gender"),
		piechart.WithShowData(true),
	)
	for _, g := range a.Genders {
		chart.LabelAndIntValue(g.Value, uint64(g.N))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func writeSources(md *markdown.Markdown, hvts []storage.HVTRecord, lineage *memory.LineageGraph) {
	accepted := make(map[string]bool, len(hvts))
	for _, h := range hvts {
		accepted[h.Ref.Username] = true
	}
	top := lineage.TopSources(5, accepted)
	if len(top) == 0 {
		return
	}

	md.H2("Top Referrers")
	md.PlainText("")
	items := make([]string, len(top))
	for i, s := range top {
		items[i] = fmt.Sprintf("@%s surfaced %d HVTs", s.Username, s.Children)
	}
	md.BulletList(items...)
	md.PlainText("")
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "|", "/")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
