package flatten

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// SourceDocument is the hierarchical shape the extraction stage emits:
// one document, ordered pages, ordered chunks. Read-only to this pipeline.
type SourceDocument struct {
	DocID        string         `json:"doc_id"`
	FileMetadata map[string]any `json:"file_metadata"`
	Pages        []Page         `json:"pages"`
}

type Page struct {
	PageNumber   int            `json:"page_number"`
	PageMetadata map[string]any `json:"page_metadata"`
	Chunks       []Chunk        `json:"chunks"`
}

// Chunk carries an optional explicit position plus arbitrary content fields
// (text, vector, counts). When no position is given, the chunk's index within
// the page is used.
type Chunk struct {
	Position int
	Fields   map[string]any
}

func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Position = -1
	if v, ok := raw["position"]; ok {
		f, isNum := v.(float64)
		if !isNum || f != math.Trunc(f) || f < 0 {
			return fmt.Errorf("chunk position must be a non-negative integer, got %v", v)
		}
		c.Position = int(f)
		delete(raw, "position")
	}
	c.Fields = raw
	return nil
}

// LoadFile reads one extraction JSON document from disk.
func LoadFile(path string) (*SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var doc SourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document %s: %w", path, err)
	}
	return &doc, nil
}
