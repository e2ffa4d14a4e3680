package api

// Document describes a cap graph and, optionally, the nested records that
// already exist for it. Every name is unique across groups, ends, caps and
// segments.
type Document struct {
	// Version of the document format.
	Version  string    `json:"version" yaml:"version"`
	Groups   []Group   `json:"groups,omitempty" yaml:"groups,omitempty"`
	Ends     []End     `json:"ends,omitempty" yaml:"ends,omitempty"`
	Caps     []Cap     `json:"caps,omitempty" yaml:"caps,omitempty"`
	Segments []Segment `json:"segments,omitempty" yaml:"segments,omitempty"`
	// Records seed the store with nested thread content, keyed by cap name.
	Records []Record `json:"records,omitempty" yaml:"records,omitempty"`
}

// Group collects ends. Gaps on ends of a leaf group are formatted locally;
// gaps on any other group are stored as nested records.
type Group struct {
	Name int64 `json:"name" yaml:"name"`
	Leaf bool  `json:"leaf,omitempty" yaml:"leaf,omitempty"`
}

type End struct {
	Name  int64 `json:"name" yaml:"name"`
	Group int64 `json:"group" yaml:"group"`
}

// Cap is one end point of a thread piece.
type Cap struct {
	Name       int64 `json:"name" yaml:"name"`
	Coordinate int64 `json:"coordinate" yaml:"coordinate"`
	End        int64 `json:"end" yaml:"end"`
	// Adjacency names the cap this one is paired with. Declaring it on one
	// side is enough.
	Adjacency *int64 `json:"adjacency,omitempty" yaml:"adjacency,omitempty"`
	// Gap is the content between this cap and its adjacency when the cap is
	// on a leaf group. Empty means one N per missing coordinate.
	Gap string `json:"gap,omitempty" yaml:"gap,omitempty"`
	// Root marks the cap as the start of a thread.
	Root bool `json:"root,omitempty" yaml:"root,omitempty"`
}

// Segment is a run of known content bounded by two caps.
type Segment struct {
	Name     int64   `json:"name" yaml:"name"`
	Caps     []int64 `json:"caps" yaml:"caps"`
	Sequence string  `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

type Record struct {
	Name int64  `json:"name" yaml:"name"`
	Data string `json:"data" yaml:"data"`
}
