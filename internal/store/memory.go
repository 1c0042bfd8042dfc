package store

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/gitingest/internal/entry"
	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

const (
	// hnswMinCandidates is the smallest candidate set pulled from the graph
	// before exact re-ranking.
	hnswMinCandidates = 64

	// hnswOverfetch multiplies topK to size the candidate set.
	hnswOverfetch = 4

	// hnswRebuildOrphans triggers a graph rebuild once lazily deleted nodes
	// outnumber live ones and exceed this count.
	hnswRebuildOrphans = 256
)

// Option configures a MemoryStore or SQLiteStore.
type Option func(*options)

type options struct {
	dims     int
	hnsw     bool
	hnswM    int
	efSearch int
	logger   *slog.Logger
}

func buildOptions(opts []Option) options {
	o := options{
		hnswM:    16,
		efSearch: hnswMinCandidates,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDimensions fixes the vector length D up front. Without it, D is
// taken from the first Put.
func WithDimensions(d int) Option {
	return func(o *options) {
		o.dims = d
	}
}

// WithHNSW keeps a coder/hnsw graph next to the flat index. Searches pull an
// over-fetched candidate set from the graph and re-rank it exactly. When
// the k-th score is tied within the candidates, the search falls back to
// the flat scan so ties keep insertion order; only recall on very large
// stores can differ.
func WithHNSW() Option {
	return func(o *options) {
		o.hnsw = true
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type record struct {
	entry entry.Entry
	unit  []float32 // normalized embedding, for the graph
	norm  float64
	seq   uint64    // insertion order, kept across upserts
	key   uint64    // graph key
}

// MemoryStore is an in-process Store. Search is an exact cosine scan over
// pre-normalized vectors unless WithHNSW is set.
type MemoryStore struct {
	mu      sync.RWMutex
	dims    int
	records map[string]*record
	nextSeq uint64
	closed  bool

	graph   *hnsw.Graph[uint64]
	byKey   map[uint64]*record
	nextKey uint64
	orphans int

	opts   options
	logger *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	s := &MemoryStore{
		dims:    o.dims,
		records: make(map[string]*record),
		opts:    o,
		logger:  o.logger,
	}
	if o.hnsw {
		s.graph = s.newGraph()
		s.byKey = make(map[uint64]*record)
	}
	return s
}

func (s *MemoryStore) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.opts.hnswM
	g.EfSearch = s.opts.efSearch
	g.Ml = 0.25
	return g
}

// checkBatch validates entries against dims (0 = not fixed yet) and returns
// the dimension the store will have after the batch.
func checkBatch(dims int, entries []entry.Entry) (int, error) {
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			return 0, ragerrors.ValidationError(fmt.Sprintf("entry %d has an empty id", i), nil)
		}
		got := len(e.Embedding)
		if got == 0 {
			return 0, ragerrors.DimensionMismatch(dims, 0).WithDetail("id", e.ID)
		}
		if dims == 0 {
			dims = got
			continue
		}
		if got != dims {
			return 0, ragerrors.DimensionMismatch(dims, got).WithDetail("id", e.ID)
		}
	}
	return dims, nil
}

// Put upserts entries. The batch is validated before anything is applied.
func (s *MemoryStore) Put(ctx context.Context, entries []entry.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	dims, err := checkBatch(s.dims, entries)
	if err != nil {
		return err
	}
	s.dims = dims
	s.apply(entries)
	return nil
}

// validate checks a batch without applying it. SQLiteStore calls it before
// writing to disk.
func (s *MemoryStore) validate(entries []entry.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := checkBatch(s.dims, entries)
	return err
}

// Must be called with mu held for writing, after checkBatch.
func (s *MemoryStore) apply(entries []entry.Entry) {
	for i := range entries {
		rec := &record{
			entry: entries[i].Clone(),
			unit:  unitVector(entries[i].Embedding),
			norm:  norm(entries[i].Embedding),
		}
		if old, ok := s.records[rec.entry.ID]; ok {
			rec.seq = old.seq
			s.unlinkGraph(old)
		} else {
			rec.seq = s.nextSeq
			s.nextSeq++
		}
		s.records[rec.entry.ID] = rec
		s.linkGraph(rec)
	}
	s.maybeRebuildGraph()
}

func (s *MemoryStore) linkGraph(rec *record) {
	if s.graph == nil || isZero(rec.unit) {
		return
	}
	rec.key = s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(rec.key, rec.unit))
	s.byKey[rec.key] = rec
}

// unlinkGraph orphans the node instead of deleting it; removing nodes from
// coder/hnsw can leave the graph without an entry point.
func (s *MemoryStore) unlinkGraph(rec *record) {
	if s.graph == nil {
		return
	}
	if _, ok := s.byKey[rec.key]; ok && s.byKey[rec.key] == rec {
		delete(s.byKey, rec.key)
		s.orphans++
	}
}

func (s *MemoryStore) maybeRebuildGraph() {
	if s.graph == nil || s.orphans <= hnswRebuildOrphans || s.orphans <= len(s.records) {
		return
	}

	recs := s.ordered(func(*record) bool { return true })
	s.graph = s.newGraph()
	s.byKey = make(map[uint64]*record, len(recs))
	s.nextKey = 0
	s.orphans = 0
	for _, rec := range recs {
		s.linkGraph(rec)
	}
	s.logger.Debug("hnsw_graph_rebuilt", slog.Int("nodes", len(recs)))
}

// Search ranks stored entries by cosine similarity to query.
func (s *MemoryStore) Search(ctx context.Context, query []float32, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.records)
	if topK <= 0 || n == 0 {
		return []Result{}, nil
	}
	if len(query) != s.dims {
		return nil, ragerrors.DimensionMismatch(s.dims, len(query))
	}

	q := unitVector(query)
	qNorm := norm(query)
	k := min(topK, n)

	if s.graph != nil && k*hnswOverfetch < n && !isZero(q) {
		if candidates := s.graphCandidates(q, k); candidates != nil {
			hits := score(query, qNorm, candidates)
			if !tiedAtCutoff(hits, k) {
				return toResults(hits, k), nil
			}
		}
	}

	all := make([]*record, 0, n)
	for _, rec := range s.records {
		all = append(all, rec)
	}
	return toResults(score(query, qNorm, all), k), nil
}

// graphCandidates returns live records near q, or nil when the graph cannot
// supply at least k of them.
func (s *MemoryStore) graphCandidates(q []float32, k int) []*record {
	want := max(k*hnswOverfetch, hnswMinCandidates)
	if l := s.graph.Len(); want > l {
		want = l
	}

	nodes := s.graph.Search(q, want)
	out := make([]*record, 0, len(nodes))
	for _, node := range nodes {
		if rec, ok := s.byKey[node.Key]; ok {
			out = append(out, rec)
		}
	}
	if len(out) < k {
		return nil
	}
	return out
}

// tiedAtCutoff reports whether the k-th hit shares its score with a hit
// outside the top k or with the weakest candidate. Records the graph did
// not return may hold the same score with an earlier insertion, so the
// order is only trustworthy from a full scan.
func tiedAtCutoff(hits []scored, k int) bool {
	cutoff := hits[k-1].score
	if len(hits) > k && hits[k].score == cutoff {
		return true
	}
	return cutoff <= hits[len(hits)-1].score
}

type scored struct {
	rec   *record
	score float64
}

// score returns candidates sorted by descending cosine similarity, ties by
// insertion order.
func score(query []float32, qNorm float64, candidates []*record) []scored {
	hits := make([]scored, len(candidates))
	for i, rec := range candidates {
		hits[i] = scored{rec: rec, score: cosine(query, qNorm, rec.entry.Embedding, rec.norm)}
	}

	slices.SortFunc(hits, func(a, b scored) int {
		if a.score != b.score {
			return cmp.Compare(b.score, a.score)
		}
		return cmp.Compare(a.rec.seq, b.rec.seq)
	})
	return hits
}

func toResults(hits []scored, k int) []Result {
	if len(hits) > k {
		hits = hits[:k]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{Entry: h.rec.entry.Clone(), Score: h.score}
	}
	return results
}

// Get returns the entry with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (entry.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return entry.Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return entry.Entry{}, false, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return entry.Entry{}, false, nil
	}
	return rec.entry.Clone(), true, nil
}

// List returns entries of corpusID (all entries if empty) in insertion order.
func (s *MemoryStore) List(ctx context.Context, corpusID string) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	recs := s.ordered(func(r *record) bool {
		return corpusID == "" || r.entry.Metadata.CorpusID == corpusID
	})
	out := make([]entry.Entry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry.Clone()
	}
	return out, nil
}

// Must be called with mu held.
func (s *MemoryStore) ordered(keep func(*record) bool) []*record {
	var recs []*record
	for _, rec := range s.records {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b *record) int { return cmp.Compare(a.seq, b.seq) })
	return recs
}

// Corpora summarizes every corpus, sorted by id.
func (s *MemoryStore) Corpora(ctx context.Context) ([]CorpusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries := make(map[string]int)
	paths := make(map[string]map[string]struct{})
	for _, rec := range s.records {
		md := rec.entry.Metadata
		entries[md.CorpusID]++
		if paths[md.CorpusID] == nil {
			paths[md.CorpusID] = make(map[string]struct{})
		}
		paths[md.CorpusID][md.Path] = struct{}{}
	}

	out := make([]CorpusInfo, 0, len(entries))
	for id, n := range entries {
		out = append(out, CorpusInfo{ID: id, Entries: n, Paths: len(paths[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteCorpus removes every entry of corpusID.
func (s *MemoryStore) DeleteCorpus(ctx context.Context, corpusID string) (int, error) {
	return s.deleteWhere(ctx, func(md entry.Metadata) bool {
		return md.CorpusID == corpusID
	})
}

// TruncatePath removes chunks of (corpusID, path) with index >= keep.
func (s *MemoryStore) TruncatePath(ctx context.Context, corpusID, path string, keep int) (int, error) {
	return s.deleteWhere(ctx, func(md entry.Metadata) bool {
		return md.CorpusID == corpusID && md.Path == path && md.ChunkIndex >= keep
	})
}

func (s *MemoryStore) deleteWhere(ctx context.Context, match func(entry.Metadata) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	removed := 0
	for id, rec := range s.records {
		if match(rec.entry.Metadata) {
			s.unlinkGraph(rec)
			delete(s.records, id)
			removed++
		}
	}
	s.maybeRebuildGraph()
	return removed, nil
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Dimensions returns D, or 0 if it is not fixed yet.
func (s *MemoryStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Close drops all entries. Further calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	s.graph = nil
	s.byKey = nil
	return nil
}

// unitVector returns a normalized copy of v. A zero vector stays zero and
// scores 0 against everything.
func unitVector(v []float32) []float32 {
	out := make([]float32, len(v))
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sumSquares)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// cosine computes the similarity in float64 from the raw vectors and clamps
// it to [-1, 1]. A zero vector scores 0.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return max(-1, min(1, dot(a, b)/(aNorm*bNorm)))
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
