package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/gitingest/internal/logging"
)

func newTestDebouncer(window time.Duration) *Debouncer {
	return NewDebouncer(window, logging.Discard())
}

func waitBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := newTestDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: one event is added
	d.Add(FileEvent{Path: "a.txt", Operation: OpCreate})

	// Then: it is emitted after the window
	batch := waitBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "a.txt", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_CoalescingRules(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"modify burst", []Operation{OpModify, OpModify, OpModify}, []Operation{OpModify}},
		{"create then modify", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"modify then delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"delete then create", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDebouncer(30 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "f.txt", Operation: op})
			}

			batch := waitBatch(t, d.Output(), time.Second)
			got := make([]Operation, len(batch))
			for i, ev := range batch {
				got[i] = ev.Operation
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := newTestDebouncer(30 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "tmp.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.txt", Operation: OpDelete})

	assert.Zero(t, d.Pending())
	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_BatchIsSortedByPath(t *testing.T) {
	d := newTestDebouncer(30 * time.Millisecond)
	defer d.Stop()

	for _, p := range []string{"c.txt", "a.txt", "b/x.txt"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}

	batch := waitBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.txt", batch[0].Path)
	assert.Equal(t, "b/x.txt", batch[1].Path)
	assert.Equal(t, "c.txt", batch[2].Path)
}

func TestDebouncer_StopIsIdempotentAndClosesOutput(t *testing.T) {
	d := newTestDebouncer(time.Hour)
	d.Add(FileEvent{Path: "a", Operation: OpModify})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "b", Operation: OpModify})

	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
