package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Aman-CERP/gitingest/internal/entry"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

// ArtifactVersion is the current export format version.
const ArtifactVersion = 1

// Artifact is the portable JSON form of a store.
type Artifact struct {
	Version    int           `json:"version"`
	Dimensions int           `json:"dimensions"`
	CorpusID   string        `json:"corpus_id,omitempty"`
	Entries    []entry.Entry `json:"entries"`
}

// Export writes the entries of corpusID (every entry if empty) to w in
// insertion order.
func Export(ctx context.Context, s Store, corpusID string, w io.Writer) (int, error) {
	entries, err := s.List(ctx, corpusID)
	if err != nil {
		return 0, err
	}

	art := Artifact{
		Version:    ArtifactVersion,
		Dimensions: s.Dimensions(),
		CorpusID:   corpusID,
		Entries:    entries,
	}
	if art.Entries == nil {
		art.Entries = []entry.Entry{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(art); err != nil {
		return 0, ragerrors.IOError("failed to write export", err)
	}
	return len(entries), nil
}

// Import reads an artifact from r and puts all of its entries in a single
// batch, so a dimension mismatch leaves s unchanged.
func Import(ctx context.Context, s Store, r io.Reader) (int, error) {
	var art Artifact
	if err := json.NewDecoder(r).Decode(&art); err != nil {
		return 0, ragerrors.ValidationError("invalid artifact", err)
	}
	if art.Version != ArtifactVersion {
		return 0, ragerrors.ValidationError(
			fmt.Sprintf("unsupported artifact version %d", art.Version), nil).
			WithDetail("supported", fmt.Sprint(ArtifactVersion))
	}
	if d := s.Dimensions(); d != 0 && art.Dimensions != 0 && d != art.Dimensions {
		return 0, ragerrors.DimensionMismatch(d, art.Dimensions)
	}

	if err := s.Put(ctx, art.Entries); err != nil {
		return 0, err
	}
	return len(art.Entries), nil
}
