package flatten

import (
	"fmt"
)

// Record is one chunk with all ancestor document and page metadata
// denormalized onto it, ready for the index. Fields always contains the
// synthesized id under the "id" key so the key field of the index schema can
// address it.
type Record struct {
	ID     string
	Fields map[string]any
}

// StructuralError marks a malformed hierarchical document. It is a caller
// error: the file is skipped, the run continues.
type StructuralError struct {
	DocID  string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("document %q: %s", e.DocID, e.Reason)
}

// RecordID synthesizes the deterministic record id for a chunk. The same
// inputs always produce the same id, which is what makes upload retries a
// safe upsert.
func RecordID(docID string, pageNumber, chunkPosition int) string {
	return fmt.Sprintf("%s_p%d_c%d", docID, pageNumber, chunkPosition)
}

// Flatten converts a hierarchical document into one record per chunk, in
// source page and chunk order. It is a pure function: no I/O, no mutation of
// doc, and identical input yields identical, identically-ordered output.
//
// A document with no pages flattens to an empty slice. Duplicate
// (page_number, position) pairs fail fast with a StructuralError rather than
// silently overwriting.
func Flatten(doc *SourceDocument) ([]Record, error) {
	if doc.DocID == "" {
		return nil, &StructuralError{Reason: "missing doc_id"}
	}

	type slot struct{ page, pos int }
	seen := make(map[slot]bool)

	var out []Record
	for _, page := range doc.Pages {
		for i, chunk := range page.Chunks {
			pos := chunk.Position
			if pos < 0 {
				pos = i
			}

			s := slot{page: page.PageNumber, pos: pos}
			if seen[s] {
				return nil, &StructuralError{
					DocID:  doc.DocID,
					Reason: fmt.Sprintf("duplicate chunk position %d on page %d", pos, page.PageNumber),
				}
			}
			seen[s] = true

			fields := make(map[string]any, len(doc.FileMetadata)+len(page.PageMetadata)+len(chunk.Fields)+4)
			for k, v := range doc.FileMetadata {
				fields[k] = v
			}
			for k, v := range page.PageMetadata {
				fields[k] = v
			}
			for k, v := range chunk.Fields {
				fields[k] = v
			}

			id := RecordID(doc.DocID, page.PageNumber, pos)
			fields["id"] = id
			fields["doc_id"] = doc.DocID
			fields["page_number"] = page.PageNumber
			fields["chunk_position"] = pos

			out = append(out, Record{ID: id, Fields: fields})
		}
	}

	return out, nil
}
