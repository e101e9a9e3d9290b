// Package manifest parses distribution manifests that describe named modules of
// downloadable files.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/prepfetch/internal/common"
	"github.com/NamanBalaji/prepfetch/internal/errors"
	"github.com/NamanBalaji/prepfetch/internal/verify"
)

// CoreModule is the module downloaded when nothing else is selected.
const CoreModule = "core"

// Names of the files produced from legacy zim_* and index_* module fields.
const (
	ContentFile = "content"
	IndexFile   = "index"
)

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrUnknownModule   = errors.New("module not found in manifest")
	ErrNoDefaultModule = errors.New("manifest has no default module")
)

// File is one downloadable file of a module.
type File struct {
	URL      string `yaml:"url" json:"url"`
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
	SHA256   string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
	Size     int64  `yaml:"size,omitempty" json:"size,omitempty"`
}

// Module groups the files that make up one installable unit.
type Module struct {
	Name        string           `yaml:"name,omitempty" json:"name,omitempty"`
	Version     string           `yaml:"version,omitempty" json:"version,omitempty"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int              `yaml:"priority,omitempty" json:"priority,omitempty"`
	Files       map[string]*File `yaml:"files,omitempty" json:"files,omitempty"`

	// Older manifests describe the archive and its search index inline.
	Zim           *File  `yaml:"zim,omitempty" json:"zim,omitempty"`
	Index         *File  `yaml:"index,omitempty" json:"index,omitempty"`
	ZimURL        string `yaml:"zim_url,omitempty" json:"zim_url,omitempty"`
	ZimFilename   string `yaml:"zim_filename,omitempty" json:"zim_filename,omitempty"`
	ZimSHA256     string `yaml:"zim_sha256,omitempty" json:"zim_sha256,omitempty"`
	IndexURL      string `yaml:"index_url,omitempty" json:"index_url,omitempty"`
	IndexFilename string `yaml:"index_filename,omitempty" json:"index_filename,omitempty"`
	IndexSHA256   string `yaml:"index_sha256,omitempty" json:"index_sha256,omitempty"`
}

// TotalSize sums the declared sizes of the module's files.
func (m *Module) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}

	return total
}

// FileNames returns the module's file names in sorted order.
func (m *Module) FileNames() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Manifest is a parsed distribution manifest. It is read-only after Parse.
type Manifest struct {
	Version          string             `yaml:"version,omitempty" json:"version,omitempty"`
	Created          string             `yaml:"created,omitempty" json:"created,omitempty"`
	BaseURL          string             `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	DefaultModule    string             `yaml:"default_module,omitempty" json:"default_module,omitempty"`
	Core             *Module            `yaml:"core,omitempty" json:"core,omitempty"`
	Modules          map[string]*Module `yaml:"modules,omitempty" json:"modules,omitempty"`
	RecommendedOrder []string           `yaml:"recommended_order,omitempty" json:"recommended_order,omitempty"`

	raw []byte
}

// Parse decodes a YAML or JSON manifest and validates it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &m)
	} else {
		err = yaml.Unmarshal(trimmed, &m)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if err := m.normalize(); err != nil {
		return nil, err
	}

	m.raw = append([]byte(nil), data...)

	return &m, nil
}

// Raw returns the document the manifest was parsed from.
func (m *Manifest) Raw() []byte {
	return m.raw
}

func (m *Manifest) normalize() error {
	if m.Core == nil && len(m.Modules) == 0 {
		return fmt.Errorf("%w: no modules", ErrInvalidManifest)
	}

	if m.BaseURL != "" {
		base, err := url.Parse(m.BaseURL)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return fmt.Errorf("%w: base_url %q is not an absolute URL", ErrInvalidManifest, m.BaseURL)
		}
	}

	for name, mod := range m.Modules {
		if mod == nil {
			return fmt.Errorf("%w: module %s is empty", ErrInvalidManifest, name)
		}

		if err := normalizeModule(name, mod); err != nil {
			return err
		}
	}

	if m.Core != nil {
		if err := normalizeModule(CoreModule, m.Core); err != nil {
			return err
		}
	}

	return nil
}

func normalizeModule(name string, mod *Module) error {
	if mod.Files == nil {
		mod.Files = make(map[string]*File)
	}

	legacy := func(key string, f *File) {
		if f != nil && f.URL != "" {
			if _, ok := mod.Files[key]; !ok {
				mod.Files[key] = f
			}
		}
	}

	legacy(ContentFile, mod.Zim)
	legacy(IndexFile, mod.Index)
	legacy(ContentFile, &File{URL: mod.ZimURL, Filename: mod.ZimFilename, SHA256: mod.ZimSHA256})
	legacy(IndexFile, &File{URL: mod.IndexURL, Filename: mod.IndexFilename, SHA256: mod.IndexSHA256})

	if len(mod.Files) == 0 {
		return fmt.Errorf("%w: module %s has no files", ErrInvalidManifest, name)
	}

	for key, f := range mod.Files {
		if f == nil || f.URL == "" {
			return fmt.Errorf("%w: %s/%s has no url", ErrInvalidManifest, name, key)
		}

		if f.Filename == "" {
			u, err := url.Parse(f.URL)
			if err != nil {
				return fmt.Errorf("%w: %s/%s: %w", ErrInvalidManifest, name, key, err)
			}

			f.Filename = path.Base(u.Path)
		}

		if !validFilename(f.Filename) {
			return fmt.Errorf("%w: %s/%s: filename %q must be a plain file name", ErrInvalidManifest, name, key, f.Filename)
		}

		if f.SHA256 != "" && !verify.ValidDigest(f.SHA256) {
			return fmt.Errorf("%w: %s/%s: sha256 %q is not a hex SHA-256 digest", ErrInvalidManifest, name, key, f.SHA256)
		}

		if f.Size < 0 {
			return fmt.Errorf("%w: %s/%s: negative size", ErrInvalidManifest, name, key)
		}
	}

	return nil
}

func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// Module looks up a module by name. "core" resolves to the embedded core
// module before the modules map.
func (m *Manifest) Module(name string) (*Module, error) {
	if name == CoreModule && m.Core != nil {
		return m.Core, nil
	}

	if mod, ok := m.Modules[name]; ok {
		return mod, nil
	}

	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownModule, name, strings.Join(m.ModuleNames(), ", "))
}

// DefaultModuleName returns default_module when set, otherwise "core" if present.
func (m *Manifest) DefaultModuleName() (string, error) {
	if m.DefaultModule != "" {
		if _, err := m.Module(m.DefaultModule); err != nil {
			return "", err
		}

		return m.DefaultModule, nil
	}

	if _, err := m.Module(CoreModule); err == nil {
		return CoreModule, nil
	}

	return "", ErrNoDefaultModule
}

// ModuleNames lists every module, ordered by recommended_order and then by name.
func (m *Manifest) ModuleNames() []string {
	names := make([]string, 0, len(m.Modules)+1)
	for name := range m.Modules {
		names = append(names, name)
	}

	if m.Core != nil && !slices.Contains(names, CoreModule) {
		names = append(names, CoreModule)
	}

	m.sortModules(names)

	return names
}

func (m *Manifest) sortModules(names []string) {
	rank := func(name string) int {
		if i := slices.Index(m.RecommendedOrder, name); i >= 0 {
			return i
		}

		return len(m.RecommendedOrder)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}

		return names[i] < names[j]
	})
}

// Select resolves the modules of a run. No names and all unset selects the
// default module; duplicates are dropped and the result follows the
// recommended order.
func (m *Manifest) Select(names []string, all bool) ([]string, error) {
	if all {
		return m.ModuleNames(), nil
	}

	if len(names) == 0 {
		name, err := m.DefaultModuleName()
		if err != nil {
			return nil, err
		}

		return []string{name}, nil
	}

	selected := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := m.Module(name); err != nil {
			return nil, err
		}

		if !slices.Contains(selected, name) {
			selected = append(selected, name)
		}
	}

	m.sortModules(selected)

	return selected, nil
}

// Artifacts returns the files of module with their URLs resolved against base_url.
func (m *Manifest) Artifacts(module string) ([]common.Artifact, error) {
	mod, err := m.Module(module)
	if err != nil {
		return nil, err
	}

	artifacts := make([]common.Artifact, 0, len(mod.Files))

	for _, name := range mod.FileNames() {
		f := mod.Files[name]

		resolved, err := m.resolve(f.URL)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", module, name, err)
		}

		artifacts = append(artifacts, common.Artifact{
			Module:   module,
			Name:     name,
			URL:      resolved,
			Filename: f.Filename,
			SHA256:   strings.ToLower(f.SHA256),
			Size:     f.Size,
		})
	}

	return artifacts, nil
}

func (m *Manifest) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidURL, err)
	}

	if u.IsAbs() {
		return u.String(), nil
	}

	if m.BaseURL == "" {
		return "", fmt.Errorf("%w: relative url %q without base_url", errors.ErrInvalidURL, ref)
	}

	base, err := url.Parse(m.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidURL, err)
	}

	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return base.ResolveReference(u).String(), nil
}
