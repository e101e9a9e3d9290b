package engine

import (
	"github.com/NamanBalaji/prepfetch/internal/errors"
	httpDownloader "github.com/NamanBalaji/prepfetch/internal/http"
	"github.com/NamanBalaji/prepfetch/internal/progress"
	"github.com/NamanBalaji/prepfetch/internal/status"
)

// Process exit codes of a run.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitPartial   = 2
	ExitCancelled = 3
)

// ModuleOutcome holds the results of one module in manifest order of its files.
type ModuleOutcome struct {
	Name    string
	Results []httpDownloader.Result
}

// OK reports whether every file of the module was published.
func (m ModuleOutcome) OK() bool {
	for _, r := range m.Results {
		if !r.OK() {
			return false
		}
	}

	return true
}

// Err joins the errors of the module's results.
func (m ModuleOutcome) Err() error {
	var errs []error
	for _, r := range m.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}

	return errors.Join(errs...)
}

// Outcome aggregates a run.
type Outcome struct {
	RunID       string
	Modules     []ModuleOutcome
	Interrupted bool // The caller's context was cancelled
	Summary     progress.Summary
}

// Results returns every result of the run.
func (o *Outcome) Results() []httpDownloader.Result {
	var results []httpDownloader.Result
	for _, m := range o.Modules {
		results = append(results, m.Results...)
	}

	return results
}

// OK reports whether every selected artifact was published.
func (o *Outcome) OK() bool {
	for _, m := range o.Modules {
		if !m.OK() {
			return false
		}
	}

	return true
}

// Err joins the errors of every failed or cancelled artifact.
func (o *Outcome) Err() error {
	var errs []error
	for _, m := range o.Modules {
		if err := m.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ExitCode maps the outcome to the process exit code.
func (o *Outcome) ExitCode() int {
	tallies := make([]moduleTally, 0, len(o.Modules))
	for _, m := range o.Modules {
		t := moduleTally{ok: m.OK()}
		for _, r := range m.Results {
			t.failed = t.failed || r.State == status.Failed
		}

		tallies = append(tallies, t)
	}

	return exitCode(o.Interrupted, tallies)
}

// SnapshotExitCode maps a published status snapshot to the exit code of the run
// it describes. Entries that have not finished count as cancelled.
func SnapshotExitCode(s *progress.Snapshot) int {
	byModule := make(map[string]*moduleTally)
	order := make([]string, 0)

	for _, e := range s.Entries {
		t, ok := byModule[e.Module]
		if !ok {
			t = &moduleTally{ok: true}
			byModule[e.Module] = t
			order = append(order, e.Module)
		}

		t.ok = t.ok && e.State == status.Published
		t.failed = t.failed || e.State == status.Failed
	}

	tallies := make([]moduleTally, 0, len(order))
	for _, name := range order {
		tallies = append(tallies, *byModule[name])
	}

	return exitCode(false, tallies)
}

type moduleTally struct {
	ok     bool
	failed bool
}

func exitCode(interrupted bool, modules []moduleTally) int {
	okModules, failed := 0, false
	for _, m := range modules {
		if m.ok {
			okModules++
		}

		failed = failed || m.failed
	}

	switch {
	case okModules == len(modules):
		return ExitOK
	case interrupted:
		return ExitCancelled
	case okModules > 0:
		return ExitPartial
	case failed:
		return ExitFailure
	default:
		return ExitCancelled
	}
}
