package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rahul/conductor/internal/observability"
)

//go:embed prompts/*.md
var embeddedPrompts embed.FS

// PromptManager assembles the system prompt for each decision kind. Files in
// Directory override the embedded defaults of the same name; extra .md files
// there are appended to the shared preamble.
type PromptManager struct {
	Directory string
	defaults  fs.FS
}

func NewPromptManager(dir string) *PromptManager {
	sub, err := fs.Sub(embeddedPrompts, "prompts")
	if err != nil {
		panic(err) // embedded tree is fixed at build time
	}
	return &PromptManager{Directory: dir, defaults: sub}
}

var preambleOrder = map[string]int{
	"identity.md":   1,
	"formatting.md": 2,
	"user.md":       3,
}

func kindFile(kind Kind) string { return string(kind) + ".md" }

func isKindFile(name string) bool {
	for _, k := range Kinds {
		if name == kindFile(k) {
			return true
		}
	}
	return false
}

// structured kinds answer through a function call; the others answer in prose.
func structured(kind Kind) bool {
	return kind == KindInitialPlan || kind == KindDispatch || kind == KindExecute
}

// Prompt returns the system prompt for kind: the shared preamble followed by the
// kind's own instructions.
func (pm *PromptManager) Prompt(kind Kind) (string, error) {
	if !isKindFile(kindFile(kind)) {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	names := pm.preambleFiles()
	if !structured(kind) {
		names = removeName(names, "formatting.md")
	}

	var contents []string
	for _, name := range names {
		data, err := pm.read(name)
		if err != nil {
			observability.Warn().Add(observability.Str("file", name)).Add(observability.ErrorField(err)).Msg("failed to read prompt file")
			continue
		}
		contents = append(contents, strings.TrimSpace(data))
	}

	body, err := pm.read(kindFile(kind))
	if err != nil {
		return "", fmt.Errorf("failed to read %s prompt: %w", kind, err)
	}
	contents = append(contents, strings.TrimSpace(body))

	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) read(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	data, err := fs.ReadFile(pm.defaults, name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (pm *PromptManager) preambleFiles() []string {
	seen := map[string]bool{}
	add := func(entries []fs.DirEntry) {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") && !isKindFile(e.Name()) {
				seen[e.Name()] = true
			}
		}
	}

	if entries, err := fs.ReadDir(pm.defaults, "."); err == nil {
		add(entries)
	}
	if pm.Directory != "" {
		entries, err := os.ReadDir(pm.Directory)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			observability.Warn().Add(observability.Str("dir", pm.Directory)).Add(observability.ErrorField(err)).Msg("failed to read prompts directory")
		}
		add(entries)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	// identity, formatting, user first, then the rest by name
	sort.Slice(names, func(i, j int) bool {
		oi, okI := preambleOrder[names[i]]
		oj, okJ := preambleOrder[names[j]]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return names[i] < names[j]
	})
	return names
}

func removeName(names []string, name string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
