package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pario-ai/toktrack/pkg/config"
	"github.com/pario-ai/toktrack/pkg/models"
)

// Kind is a built-in decoder family with its default file layout.
type Kind struct {
	Name       string
	Pattern    string
	Format     models.FormatKind
	root       func() string
	newDecoder func(source string) Decoder
}

// DefaultRoot returns the kind's data directory on this machine.
func (k Kind) DefaultRoot() string { return k.root() }

var kinds = []Kind{
	{
		Name:    "claude-code",
		Pattern: "**/*.jsonl",
		Format:  models.FormatJSONL,
		root: func() string {
			if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
				return filepath.Join(dir, "projects")
			}
			return config.ExpandHome("~/.claude/projects")
		},
		newDecoder: func(src string) Decoder { return &claudeDecoder{source: src} },
	},
	{
		Name:    "codex",
		Pattern: "**/*.jsonl",
		Format:  models.FormatJSONL,
		root: func() string {
			if dir := os.Getenv("CODEX_HOME"); dir != "" {
				return filepath.Join(dir, "sessions")
			}
			return config.ExpandHome("~/.codex/sessions")
		},
		newDecoder: func(src string) Decoder { return &codexDecoder{source: src} },
	},
	{
		Name:       "gemini-cli",
		Pattern:    "*/chats/session-*.json",
		Format:     models.FormatJSON,
		root:       func() string { return config.ExpandHome("~/.gemini/tmp") },
		newDecoder: func(src string) Decoder { return &geminiDecoder{source: src} },
	},
	{
		Name:       "kimi",
		Pattern:    "*/*/wire.jsonl",
		Format:     models.FormatJSONL,
		root:       func() string { return config.ExpandHome("~/.kimi/sessions") },
		newDecoder: func(src string) Decoder { return &kimiDecoder{source: src} },
	},
}

// BuiltinKinds lists the built-in kind names in registration order.
func BuiltinKinds() []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Name
	}
	return names
}

// LookupKind returns the built-in kind called name.
func LookupKind(name string) (Kind, bool) {
	for _, k := range kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// New creates a variant of kind k under desc. Empty descriptor fields take the kind's defaults.
func (k Kind) New(desc models.SourceDescriptor) Variant {
	if desc.ID == "" {
		desc.ID = k.Name
	}
	if desc.Root == "" {
		desc.Root = k.DefaultRoot()
	}
	if desc.Pattern == "" {
		desc.Pattern = k.Pattern
	}
	if desc.Format == "" {
		desc.Format = k.Format
	}
	desc.Root = config.ExpandHome(desc.Root)
	return &variant{desc: desc, newDecoder: k.newDecoder}
}

func newConfigured(sc config.SourceConfig) (Variant, error) {
	name := sc.Kind
	if name == "" {
		name = sc.ID
	}
	k, ok := LookupKind(name)
	if !ok {
		return nil, fmt.Errorf("%w: source %q: unknown kind %q", config.ErrInvalid, sc.ID, name)
	}
	return k.New(models.SourceDescriptor{
		ID:      sc.ID,
		Root:    sc.Root,
		Pattern: sc.Pattern,
		Format:  sc.Format,
	}), nil
}

type variant struct {
	desc       models.SourceDescriptor
	newDecoder func(source string) Decoder
}

func (v *variant) Descriptor() models.SourceDescriptor { return v.desc }

func (v *variant) NewDecoder(string) Decoder { return v.newDecoder(v.desc.ID) }
