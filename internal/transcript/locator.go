package transcript

import (
	"path/filepath"
	"regexp"
	"time"

	"github.com/lightfastai/switchboard/internal/protocol"
)

// A Locator knows where one agent kind keeps its transcripts and how its
// filenames encode the external session id.
type Locator interface {
	// Dir is the directory new transcript files for the current run appear in.
	Dir() string
	// SessionID extracts the external session id from a transcript
	// filename, or reports that the name does not match the convention.
	SessionID(filename string) (string, bool)
}

var (
	claudeFileRe = regexp.MustCompile(`^([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\.jsonl$`)
	codexFileRe  = regexp.MustCompile(`^rollout-.+-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\.jsonl$`)
)

// NewLocator returns the locator for a spawnable agent kind, or nil for
// kinds without a transcript tree.
func NewLocator(kind protocol.AgentKind, root, cwd string, now time.Time) Locator {
	switch kind {
	case protocol.AgentClaude:
		return claudeLocator{root: root, cwd: cwd}
	case protocol.AgentCodex:
		return codexLocator{root: root, now: now}
	default:
		return nil
	}
}

// claudeLocator: <root>/projects/<encoded-cwd>/<uuid>.jsonl, where the
// working directory is flattened into a single path segment.
type claudeLocator struct {
	root string
	cwd  string
}

func (l claudeLocator) Dir() string {
	return filepath.Join(l.root, "projects", EncodeProjectPath(l.cwd))
}

func (l claudeLocator) SessionID(filename string) (string, bool) {
	m := claudeFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// codexLocator: <root>/sessions/<yyyy>/<mm>/<dd>/rollout-<ts>-<uuid>.jsonl,
// dated by the day the run started.
type codexLocator struct {
	root string
	now  time.Time
}

func (l codexLocator) Dir() string {
	return filepath.Join(l.root, "sessions", l.now.Format("2006"), l.now.Format("01"), l.now.Format("02"))
}

func (l codexLocator) SessionID(filename string) (string, bool) {
	m := codexFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// EncodeProjectPath flattens an absolute working directory into the single
// path segment the Claude CLI uses under projects/: every character outside
// [A-Za-z0-9] becomes '-'.
func EncodeProjectPath(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '-'
		}
	}
	return string(out)
}
