// Package files scans local directories for deadline signals and proposes
// review tasks for them.
package files

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/tasks"
	"github.com/PipeOpsHQ/opsbrain/urgency"
	"github.com/rs/zerolog/log"
)

var (
	textExts = map[string]bool{
		"md": true, "txt": true, "py": true, "js": true, "ts": true, "tsx": true,
		"json": true, "yaml": true, "yml": true, "csv": true, "html": true,
		"css": true, "log": true,
	}
	dueKeywords = []string{"due", "deadline", "submit", "assignment", "discussion", "quiz", "module", "week"}
	junkMarkers = []string{"~", "backup", "old", "copy", "final_final", ".tmp", ".bak"}
)

const (
	hotWindow   = 7 * 24 * time.Hour
	staleWindow = 90 * 24 * time.Hour
)

type Options struct {
	IncludeExts []string `json:"include_exts,omitempty"`
	ExcludeDirs []string `json:"exclude_dirs,omitempty"`
	MaxFileMB   float64  `json:"max_file_mb"`
	ReadText    bool     `json:"read_text"`
	MaxChars    int      `json:"max_chars"`
}

func DefaultOptions() Options {
	return Options{
		ExcludeDirs: []string{"node_modules", ".git", ".venv", "dist", "build", "__pycache__"},
		MaxFileMB:   2.0,
		ReadText:    true,
		MaxChars:    12000,
	}
}

type FileRef struct {
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

type Signal struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	DueDate string `json:"due_date,omitempty"`
}

type ProposedTask struct {
	Title    string         `json:"title"`
	Notes    string         `json:"notes"`
	DueDate  *time.Time     `json:"due_date,omitempty"`
	Urgency  urgency.Bucket `json:"urgency"`
	Priority string         `json:"priority"`
}

type Report struct {
	Scanned         int            `json:"scanned"`
	HotFiles        []FileRef      `json:"hot_files"`
	DueSignals      []Signal       `json:"due_signals"`
	StaleCandidates []FileRef      `json:"stale_candidates"`
	JunkCandidates  []FileRef      `json:"junk_candidates"`
	ProposedTasks   []ProposedTask `json:"proposed_tasks"`
}

// Candidates converts proposed tasks for the task upserter.
func (r Report) Candidates() []tasks.Candidate {
	out := make([]tasks.Candidate, 0, len(r.ProposedTasks))
	for _, p := range r.ProposedTasks {
		out = append(out, tasks.Candidate{Title: p.Title, DueDate: p.DueDate})
	}
	return out
}

// Scanner walks the given paths. It never follows excluded directories and
// skips files over the size limit.
type Scanner struct {
	opts Options
	now  func() time.Time
}

type Option func(*Scanner)

func WithOptions(o Options) Option {
	return func(s *Scanner) { s.opts = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		opts: DefaultOptions(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan inspects every file under paths. Missing paths are skipped.
func (s *Scanner) Scan(ctx context.Context, paths []string) (Report, error) {
	now := s.now()
	hotCutoff := now.Add(-hotWindow)
	staleCutoff := now.Add(-staleWindow)

	include := map[string]bool{}
	for _, ext := range s.opts.IncludeExts {
		include[strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}
	exclude := map[string]bool{}
	for _, d := range s.opts.ExcludeDirs {
		exclude[strings.ToLower(d)] = true
	}
	sizeLimit := int64(s.opts.MaxFileMB * 1024 * 1024)

	report := Report{
		HotFiles:        []FileRef{},
		DueSignals:      []Signal{},
		StaleCandidates: []FileRef{},
		JunkCandidates:  []FileRef{},
		ProposedTasks:   []ProposedTask{},
	}

	visit := func(path string, info fs.FileInfo) {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if len(include) > 0 && !include[ext] {
			return
		}
		if info.Size() > sizeLimit {
			return
		}
		report.Scanned++
		modified := info.ModTime().UTC()
		if !modified.Before(hotCutoff) {
			report.HotFiles = append(report.HotFiles, FileRef{Path: path, ModifiedAt: modified})
		}
		if !modified.After(staleCutoff) {
			report.StaleCandidates = append(report.StaleCandidates, FileRef{Path: path, ModifiedAt: modified})
		}

		name := strings.ToLower(info.Name())
		if containsAny(name, junkMarkers) {
			report.JunkCandidates = append(report.JunkCandidates, FileRef{Path: path, Reason: "name_match"})
		}

		var text string
		if s.opts.ReadText && textExts[ext] {
			text = readPrefix(path, s.opts.MaxChars)
		}
		if !containsAny(name, dueKeywords) && !containsAny(strings.ToLower(text), dueKeywords) {
			return
		}

		due := ParseDueDate(text+" "+name, now)
		sig := Signal{Path: path, Reason: "keyword_match"}
		if due != nil {
			sig.DueDate = due.Format("2006-01-02")
		}
		report.DueSignals = append(report.DueSignals, sig)

		bucket := urgency.BucketFor(due, now)
		report.ProposedTasks = append(report.ProposedTasks, ProposedTask{
			Title:    "Review " + InferDeliverable(info.Name(), text),
			Notes:    "Due signal detected in scanned content.",
			DueDate:  due,
			Urgency:  bucket,
			Priority: priorityFor(bucket),
		})
	}

	for _, raw := range paths {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		base := policy.ExpandPath(raw)
		info, err := os.Stat(base)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			visit(base, info)
			continue
		}
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() && path != base {
					return fs.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != base && exclude[strings.ToLower(d.Name())] {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			visit(path, fi)
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Report{}, err
			}
			log.Warn().Err(err).Str("component", "files").Str("path", base).Msg("scan_walk_failed")
		}
	}

	sortReport(&report)
	return report, nil
}

func sortReport(r *Report) {
	sort.SliceStable(r.ProposedTasks, func(i, j int) bool {
		a, b := r.ProposedTasks[i], r.ProposedTasks[j]
		if ra, rb := urgency.BucketRank(a.Urgency), urgency.BucketRank(b.Urgency); ra != rb {
			return ra < rb
		}
		if da, db := dayKey(a.DueDate), dayKey(b.DueDate); da != db {
			return da < db
		}
		return strings.ToLower(a.Title) < strings.ToLower(b.Title)
	})
	sort.SliceStable(r.DueSignals, func(i, j int) bool {
		a, b := r.DueSignals[i], r.DueSignals[j]
		da, db := orMax(a.DueDate), orMax(b.DueDate)
		if da != db {
			return da < db
		}
		return strings.ToLower(a.Path) < strings.ToLower(b.Path)
	})
	sort.SliceStable(r.HotFiles, func(i, j int) bool {
		return r.HotFiles[i].ModifiedAt.After(r.HotFiles[j].ModifiedAt)
	})
	sort.SliceStable(r.StaleCandidates, func(i, j int) bool {
		return r.StaleCandidates[i].ModifiedAt.Before(r.StaleCandidates[j].ModifiedAt)
	})
	sort.SliceStable(r.JunkCandidates, func(i, j int) bool {
		return strings.ToLower(r.JunkCandidates[i].Path) < strings.ToLower(r.JunkCandidates[j].Path)
	})
}

func dayKey(t *time.Time) string {
	if t == nil {
		return "9999-12-31"
	}
	return t.Format("2006-01-02")
}

func orMax(s string) string {
	if s == "" {
		return "9999-12-31"
	}
	return s
}

func priorityFor(b urgency.Bucket) string {
	switch b {
	case urgency.BucketCritical:
		return "critical"
	case urgency.BucketToday, urgency.BucketTomorrow:
		return "high"
	case urgency.BucketWeek:
		return "medium"
	}
	return "low"
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// readPrefix returns up to max bytes of the file. Unreadable files yield "".
func readPrefix(path string, max int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf, err := io.ReadAll(io.LimitReader(f, int64(max)))
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(buf), "")
}
