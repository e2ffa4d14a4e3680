// Package graphfile loads graph documents (JSON or YAML) and turns them into
// the graph, formatter, roots and seed records that thread assembly needs.
package graphfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/agentic-research/rethread/api"
	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/kvstore"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/go-multierror"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"gopkg.in/yaml.v3"
)

// DefaultRootSelector selects the caps flagged as roots.
const DefaultRootSelector = "$.caps[?(@.root == true)].name"

// File is a loaded graph document.
type File struct {
	Path     string
	Document api.Document
	Graph    *graph.MemoryGraph

	raw      any // generic form, for JSONPath queries
	gaps     map[graph.Name]string
	segments map[graph.Name]string
}

// Load reads the document at name from fs. The format follows the extension:
// .yaml and .yml are YAML, anything else is JSON.
func Load(fs billy.Filesystem, name string) (*File, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("read graph document %s: %w", name, err)
	}
	f, err := Parse(data, isYAML(name))
	if err != nil {
		return nil, fmt.Errorf("load graph document %s: %w", name, err)
	}
	f.Path = name
	return f, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Parse decodes a document and builds its graph. The graph is validated;
// every defect found is reported.
func Parse(data []byte, yamlDoc bool) (*File, error) {
	f := &File{}
	var err error
	if yamlDoc {
		if err = yaml.Unmarshal(data, &f.raw); err == nil {
			err = yaml.Unmarshal(data, &f.Document)
		}
	} else {
		if f.raw, err = oj.Parse(data); err == nil {
			err = json.Unmarshal(data, &f.Document)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if err := f.build(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) build() error {
	doc := &f.Document
	g := graph.NewMemoryGraph()
	f.gaps = make(map[graph.Name]string)
	f.segments = make(map[graph.Name]string, len(doc.Segments))

	var result *multierror.Error
	for _, gr := range doc.Groups {
		g.AddGroup(graph.Name(gr.Name), gr.Leaf)
	}
	for _, e := range doc.Ends {
		g.AddEnd(graph.Name(e.Name), graph.Name(e.Group))
	}

	declared := make(map[int64]int64)
	for _, c := range doc.Caps {
		g.AddCap(graph.Name(c.Name), c.Coordinate, graph.Name(c.End))
		if c.Adjacency != nil {
			declared[c.Name] = *c.Adjacency
		}
		if c.Gap != "" {
			f.gaps[graph.Name(c.Name)] = c.Gap
		}
		if c.Root {
			g.AddRoot(graph.Name(c.Name))
		}
	}
	for _, c := range doc.Caps {
		if c.Adjacency == nil {
			continue
		}
		adj := *c.Adjacency
		if back, ok := declared[adj]; ok && back != c.Name {
			result = multierror.Append(result, fmt.Errorf("cap %d: adjacency %d is paired with %d", c.Name, adj, back))
			continue
		}
		if err := g.Link(graph.Name(c.Name), graph.Name(adj)); err != nil {
			result = multierror.Append(result, fmt.Errorf("cap %d: %w", c.Name, err))
		}
	}

	for _, s := range doc.Segments {
		if len(s.Caps) != 2 {
			result = multierror.Append(result, fmt.Errorf("segment %d: want 2 caps, got %d", s.Name, len(s.Caps)))
			continue
		}
		if err := g.AddSegment(graph.Name(s.Name), graph.Name(s.Caps[0]), graph.Name(s.Caps[1])); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		f.segments[graph.Name(s.Name)] = s.Sequence
	}

	if err := g.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}
	f.Graph = g
	return nil
}

// Roots evaluates a JSONPath selector against the document and returns the
// selected cap names. An empty selector uses DefaultRootSelector.
func (f *File) Roots(selector string) ([]graph.Name, error) {
	if selector == "" {
		selector = DefaultRootSelector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}

	var roots []graph.Name
	for _, v := range x.Get(f.raw) {
		n, err := toName(v)
		if err != nil {
			return nil, fmt.Errorf("select roots with '%s': %w", selector, err)
		}
		if !f.Graph.HasCap(n) {
			return nil, fmt.Errorf("select roots with '%s': cap %s: %w", selector, n, graph.ErrNotFound)
		}
		roots = append(roots, n)
	}
	return roots, nil
}

var errNotAName = errors.New("not a name")

func toName(v any) (graph.Name, error) {
	switch n := v.(type) {
	case int64:
		return graph.Name(n), nil
	case int:
		return graph.Name(n), nil
	case uint64:
		return graph.Name(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v: %w", n, errNotAName)
		}
		return graph.Name(int64(n)), nil
	default:
		return 0, fmt.Errorf("%v (%T): %w", v, v, errNotAName)
	}
}

// Records returns the seed records of the document.
func (f *File) Records() []kvstore.Record {
	out := make([]kvstore.Record, len(f.Document.Records))
	for i, r := range f.Document.Records {
		out[i] = kvstore.Record{Name: graph.Name(r.Name), Data: []byte(r.Data)}
	}
	return out
}
