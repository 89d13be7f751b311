package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"mysql-replica-backup/internal/backup"
	"mysql-replica-backup/internal/discovery"
	"mysql-replica-backup/internal/dump"
)

const ruleWidth = 60

// Options configures a Reporter
type Options struct {
	Colors  *ColorSystem
	Unicode bool
	// Width is the terminal width used to fit tables; 0 disables fitting
	Width int
}

// Reporter prints run progress. It implements backup.Observer.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	colors *ColorSystem
	icons  Icons
	border BorderStyle
	width  int

	phaseTotal int
	phaseDone  int
}

var _ backup.Observer = (*Reporter)(nil)

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer, opts Options) *Reporter {
	colors := opts.Colors
	if colors == nil {
		colors = NewColorSystem(false)
	}

	border := ASCIIBorderStyle
	if opts.Unicode {
		border = UnicodeBorderStyle
	}

	return &Reporter{
		out:    out,
		colors: colors,
		icons:  IconsFor(opts.Unicode),
		border: border,
		width:  opts.Width,
	}
}

// Header prints the run banner
func (r *Reporter) Header(server string, started time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("%s\n", r.colors.Colorize("MariaDB Backup", ColorBoldCyan))
	r.printf("%s\n", r.colors.Sprintf(ColorDim, "Server: %s  Started: %s", server, started.Format("2006-01-02 15:04:05")))
	r.rule()
}

// Classified prints the classification table
func (r *Reporter) Classified(filter discovery.FilterResult, classification discovery.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("\n%s\n", r.colors.Colorize("Database Classification", ColorBold))
	if filter.FromAllowList {
		r.printf("%s\n", r.colors.Sprintf(ColorDim, "Using allow-list (%d databases)", len(filter.Databases)))
	}
	if len(filter.Excluded) > 0 {
		r.printf("%s\n", r.colors.Sprintf(ColorDim, "Skipped: %s", strings.Join(filter.Excluded, ", ")))
	}

	if classification.Total() == 0 {
		r.printf("%s %s\n", r.colors.Colorize(r.icons.Warning, ColorYellow), "No databases to back up")
		return
	}

	table := NewTable(r.colors, r.border, r.width)
	table.SetHeaders("Database", "Engine", "Strategy")
	for _, db := range filter.Databases {
		engines := strings.Join(classification.Engines[db], ", ")
		if engines == "" {
			engines = "(no tables)"
		}

		if classification.NeedsLock(db) {
			table.AddRow(Cell{Text: db}, Cell{Text: engines, Color: ColorYellow}, Cell{Text: "Pause replication", Color: ColorYellow})
		} else {
			table.AddRow(Cell{Text: db}, Cell{Text: engines, Color: ColorGreen}, Cell{Text: "--single-transaction", Color: ColorGreen})
		}
	}
	table.RenderTo(r.out)

	r.printf("%s\n", r.colors.Sprintf(ColorDim, "%d transactional, %d requiring locks",
		len(classification.TransactionalOnly), len(classification.RequiresLock)))
}

// PhaseStarted prints the phase banner and resets the task counter
func (r *Reporter) PhaseStarted(phase int, strategy dump.Strategy, databases []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.phaseTotal = len(databases)
	r.phaseDone = 0

	r.printf("\n")
	switch strategy {
	case dump.StrategyLocking:
		r.printf("%s\n", r.colors.Sprintf(ColorBoldYellow, "%s PHASE %d: Lock-requiring Databases", r.icons.Phase, phase))
		r.printf("%s\n", r.colors.Colorize("  Strategy: Pause replication SQL thread during backup", ColorDim))
	default:
		r.printf("%s\n", r.colors.Sprintf(ColorBoldGreen, "%s PHASE %d: Transactional Databases", r.icons.Phase, phase))
		r.printf("%s\n", r.colors.Colorize("  Strategy: --single-transaction (no locking, parallel)", ColorDim))
	}
	r.rule()
}

// TaskFinished prints one line per database
func (r *Reporter) TaskFinished(outcome dump.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.phaseDone++
	counter := r.colors.Sprintf(ColorDim, "[%d/%d]", r.phaseDone, r.phaseTotal)

	if outcome.Success {
		r.printf("  %s %s %s - done (%s, %s)\n",
			counter,
			r.colors.Colorize(r.icons.Success, ColorGreen),
			outcome.Database,
			humanize.Bytes(uint64(outcome.SizeBytes)),
			formatElapsed(outcome.Elapsed))
		return
	}

	r.printf("  %s %s %s - %s\n",
		counter,
		r.colors.Colorize(r.icons.Failure, ColorRed),
		outcome.Database,
		r.colors.Sprintf(ColorRed, "failed: %s", outcome.Error))
}

// Stored prints where archives were promoted to
func (r *Reporter) Stored(destination string, count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.printf("\n%s %s\n", r.colors.Colorize(r.icons.Warning, ColorYellow),
			r.colors.Sprintf(ColorYellow, "Stored %d archive(s) to %s with errors: %v", count, destination, err))
		return
	}
	r.printf("\n%s\n", r.colors.Sprintf(ColorDim, "Stored %d archive(s) to %s", count, destination))
}

// Summary prints the final result
func (r *Reporter) Summary(result *backup.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printf("\n")
	r.rule()

	if result.ResumeError != "" {
		r.printf("%s %s\n", r.colors.Colorize(r.icons.Warning, ColorYellow),
			r.colors.Sprintf(ColorYellow, "Replication could not be resumed: %s", result.ResumeError))
	}

	if result.Success {
		r.printf("%s\n", r.colors.Sprintf(ColorBoldGreen, "%s All backups completed successfully!", r.icons.Success))
	} else {
		r.printf("%s\n", r.colors.Sprintf(ColorBoldRed, "%s Backup completed with %d failure(s):", r.icons.Failure, len(result.Failures)))
		for _, f := range result.Failures {
			r.printf("  %s %s: %s\n", r.icons.Bullet, f.Database, r.colors.Colorize(f.Error, ColorRed))
		}
	}

	r.printf("%s\n", r.colors.Sprintf(ColorDim, "%d/%d databases, %s total, %s",
		result.Succeeded(), len(result.Outcomes),
		humanize.Bytes(uint64(result.TotalSize())),
		formatElapsed(result.Duration())))
}

func (r *Reporter) rule() {
	r.printf("%s\n", r.colors.Colorize(strings.Repeat(r.icons.Rule, ruleWidth), ColorDim))
}

func (r *Reporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
