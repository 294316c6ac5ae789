package syncdata

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/goccy/go-yaml"
)

// Loader stages collections for a run. Loaders run sequentially in declared
// order, each receiving the accumulated run context and adding the
// collections and remote resources it discovers.
type Loader interface {
	Run(ctx context.Context, rc *RunContext) error
}

// LoaderFunc is a func adapter for Loader.
type LoaderFunc func(ctx context.Context, rc *RunContext) error

func (f LoaderFunc) Run(ctx context.Context, rc *RunContext) error {
	return f(ctx, rc)
}

// PreRunner is an optional loader hook invoked before the generating phase.
type PreRunner interface {
	PreRun(ctx context.Context, rc *RunContext) error
}

// PostRunner is an optional loader hook invoked after the generating phase,
// usually for cleanup.
type PostRunner interface {
	PostRun(ctx context.Context, rc *RunContext) error
}

// FileLoader stages collections from YAML files. The file layout mirrors the
// staged data model:
//
//	collections:
//	  catalog.category:
//	    - transient_key: "cat-1"
//	      fields:
//	        code: "c1"
//	  catalog.product:
//	    - hash_related:
//	        category: catalog.category
//	      fields:
//	        category:
//	          transient_key: "cat-1"
//	        name: "first"
//	downloads:
//	  http://host/img.png: /data/img.png
//
// Mapping field values carrying only the reserved "transient_key" field are
// loaded as transient references; any other mapping is a natural-key filter.
type FileLoader struct {
	fsys  fs.FS
	paths []string
}

// NewFileLoader creates a loader reading the given files from fsys.
func NewFileLoader(fsys fs.FS, paths ...string) *FileLoader {
	return &FileLoader{
		fsys:  fsys,
		paths: paths,
	}
}

func (l *FileLoader) Run(ctx context.Context, rc *RunContext) error {
	for _, path := range l.paths {
		content, err := fs.ReadFile(l.fsys, path)
		if err != nil {
			return fmt.Errorf("error reading staged file '%s': %w", path, err)
		}
		if err := l.load(rc, content); err != nil {
			return fmt.Errorf("error loading staged file '%s': %w", path, err)
		}
	}
	return nil
}

type fileDocument struct {
	Collections map[string][]fileItem `yaml:"collections"`
	Downloads   map[string]string     `yaml:"downloads"`
}

type fileItem struct {
	TransientKey any               `yaml:"transient_key"`
	ID           any               `yaml:"id"`
	HashRelated  map[string]string `yaml:"hash_related"`
	Fields       map[string]any    `yaml:"fields"`
}

func (l *FileLoader) load(rc *RunContext, content []byte) error {
	var doc fileDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return err
	}

	for key, items := range doc.Collections {
		for _, fi := range items {
			item := NewItem(loadFields(fi.Fields))
			item.TransientKey = fi.TransientKey
			item.HashRelated = fi.HashRelated
			item.ID = fi.ID
			rc.Data.Add(key, item)
		}
	}

	for source, destination := range doc.Downloads {
		rc.Files[source] = destination
	}
	return nil
}

func loadFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = loadFieldValue(value)
	}
	return out
}

// loadFieldValue rewraps parsed YAML values into the relation value shapes:
// a single-field "transient_key" mapping becomes a TransientRef, any other
// mapping a Filter, sequences element-wise.
func loadFieldValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if key, ok := v["transient_key"]; ok && len(v) == 1 {
			return NewTransientRef(key)
		}
		return Filter(v)
	case []any:
		out := make([]any, len(v))
		for k, elem := range v {
			out[k] = loadFieldValue(elem)
		}
		return out
	default:
		return value
	}
}
