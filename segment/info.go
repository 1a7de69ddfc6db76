package segment

import (
	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/index/structured"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
)

// Info describes the state of a segment.
type Info struct {
	Points     int            `json:"points"`
	Vectors    int            `json:"vectors"`
	Deleted    int            `json:"deleted"`
	MaxVersion model.Version  `json:"max_version"`
	Schema     payload.Schema `json:"schema"`
	Config     Config         `json:"config"`
	DiskSize   int64          `json:"disk_size"`
	// Graph is set for hnsw segments.
	Graph *hnsw.Stats `json:"graph,omitempty"`
	// IndexedFields maps payload keys to indexed point counts for struct payload indexes.
	IndexedFields map[string]int `json:"indexed_fields,omitempty"`
}

// Info returns a snapshot of the segment statistics.
func (s *Segment) Info() (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Info{}, ErrClosed
	}

	info := Info{
		Points:     s.tracker.Len(),
		Vectors:    s.vectors.VectorCount(),
		Deleted:    s.vectors.VectorCount() - s.vectors.LiveCount(),
		MaxVersion: s.tracker.MaxVersion(),
		Schema:     s.payloads.Schema(),
		Config:     s.cfg,
	}
	if h, ok := s.index.(*hnsw.Index); ok {
		st := h.Stats()
		info.Graph = &st
	}
	if ix, ok := s.payloadIndex.(*structured.PayloadIndex); ok {
		info.IndexedFields = ix.Fields()
	}

	size, err := s.diskSize()
	if err != nil {
		return Info{}, serviceError("stat segment files", err)
	}
	info.DiskSize = size
	return info, nil
}

// Files returns the names of the files in the segment directory.
func (s *Segment) Files() ([]string, error) {
	entries, err := s.opts.FS.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *Segment) diskSize() (int64, error) {
	entries, err := s.opts.FS.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += fi.Size()
	}
	return total, nil
}
