// Package cache stores coupling-independent geometric traces as Arrow IPC files.
package cache

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal"
	apperrors "llpaccept/internal/errors"
	"llpaccept/internal/metrics"
)

const (
	metaRows    = "rows"
	metaVersion = "format_version"

	formatVersion = "1"
)

// Only rows with a non-miss status are written; misses are implied.
var traceSchemaFields = []arrow.Field{
	{Name: "row_idx", Type: arrow.PrimitiveTypes.Int64},
	{Name: "status", Type: arrow.PrimitiveTypes.Int8},
	{Name: "entry", Type: arrow.PrimitiveTypes.Float64},
	{Name: "path", Type: arrow.PrimitiveTypes.Float64},
}

// TraceCache implements ports.TraceCache on a directory of .arrow files
type TraceCache struct {
	dir    string
	mem    memory.Allocator
	logger *internal.Logger
}

// NewTraceCache creates the cache directory if needed
func NewTraceCache(dir string, logger *internal.Logger) (*TraceCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &TraceCache{dir: dir, mem: memory.NewGoAllocator(), logger: logger}, nil
}

func (c *TraceCache) path(key core.CacheKey) string {
	return filepath.Join(c.dir, "traces_"+key.String()+".arrow")
}

// Load reads cached traces. A cache older than sourcePath, or written for a
// different row count, is a miss.
func (c *TraceCache) Load(ctx context.Context, key core.CacheKey, sourcePath string, rows int) ([]particle.Trace, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := c.path(key)
	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		metrics.RecordCache("geometry", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if sourcePath != "" {
		src, err := os.Stat(sourcePath)
		if err != nil {
			return nil, false, err
		}
		if src.ModTime().After(st.ModTime()) {
			c.logger.Info("[TraceCache] %s is newer than its cache, recomputing", filepath.Base(sourcePath))
			metrics.RecordCache("geometry", false)
			return nil, false, nil
		}
	}

	traces, err := c.read(path, rows)
	if err != nil {
		// unreadable cache files are recomputed, not fatal
		c.logger.Warn("[TraceCache] discarding %s: %v", filepath.Base(path), err)
		metrics.RecordCache("geometry", false)
		return nil, false, nil
	}
	metrics.RecordCache("geometry", true)
	return traces, true, nil
}

func (c *TraceCache) read(path string, rows int) ([]particle.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	md := r.Schema().Metadata()
	if i := md.FindKey(metaVersion); i < 0 || md.Values()[i] != formatVersion {
		return nil, fmt.Errorf("unsupported cache format")
	}
	i := md.FindKey(metaRows)
	if i < 0 {
		return nil, fmt.Errorf("missing row count")
	}
	stored, err := strconv.Atoi(md.Values()[i])
	if err != nil {
		return nil, err
	}
	if stored != rows {
		return nil, fmt.Errorf("row count %d does not match source (%d)", stored, rows)
	}

	traces := make([]particle.Trace, rows)
	for j := range traces {
		traces[j] = particle.Miss(particle.TraceMiss)
	}
	for n := 0; n < r.NumRecords(); n++ {
		rec, err := r.Record(n)
		if err != nil {
			return nil, err
		}
		idx, ok0 := rec.Column(0).(*array.Int64)
		status, ok1 := rec.Column(1).(*array.Int8)
		entry, ok2 := rec.Column(2).(*array.Float64)
		length, ok3 := rec.Column(3).(*array.Float64)
		if !(ok0 && ok1 && ok2 && ok3) {
			return nil, fmt.Errorf("unexpected column types")
		}
		for k := 0; k < int(rec.NumRows()); k++ {
			row := int(idx.Value(k))
			if row < 0 || row >= rows {
				return nil, fmt.Errorf("row index %d out of range", row)
			}
			st := particle.TraceStatus(status.Value(k))
			if st == particle.TraceHit {
				traces[row] = particle.Hit(entry.Value(k), length.Value(k))
			} else {
				traces[row] = particle.Miss(st)
			}
		}
	}
	return traces, nil
}

// Store writes traces to a temporary file in the cache directory and renames
// it into place, so readers never see a partial file.
func (c *TraceCache) Store(ctx context.Context, key core.CacheKey, traces []particle.Trace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(key, traces); err != nil {
		return apperrors.CacheError(fmt.Sprintf("failed to store traces under %s", core.Hash(key).Short(12)), err)
	}
	return nil
}

func (c *TraceCache) write(key core.CacheKey, traces []particle.Trace) error {
	md := arrow.NewMetadata([]string{metaRows, metaVersion}, []string{strconv.Itoa(len(traces)), formatVersion})
	schema := arrow.NewSchema(traceSchemaFields, &md)

	b := array.NewRecordBuilder(c.mem, schema)
	defer b.Release()
	idx := b.Field(0).(*array.Int64Builder)
	status := b.Field(1).(*array.Int8Builder)
	entry := b.Field(2).(*array.Float64Builder)
	length := b.Field(3).(*array.Float64Builder)
	for i, t := range traces {
		if t.Status == particle.TraceMiss {
			continue
		}
		idx.Append(int64(i))
		status.Append(int8(t.Status))
		if t.HitsVolume {
			entry.Append(t.EntryDistance)
			length.Append(t.PathLength)
		} else {
			entry.Append(math.NaN())
			length.Append(math.NaN())
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	tmp, err := os.CreateTemp(c.dir, "traces_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w, err := ipc.NewFileWriter(tmp, ipc.WithSchema(schema), ipc.WithAllocator(c.mem))
	if err != nil {
		cleanup()
		return fmt.Errorf("open arrow writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		cleanup()
		return fmt.Errorf("write traces: %w", err)
	}
	if err := w.Close(); err != nil {
		cleanup()
		return fmt.Errorf("finalize traces: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install cache file: %w", err)
	}
	c.logger.Debug("[TraceCache] stored %d traces under %s", len(traces), core.Hash(key).Short(12))
	return nil
}
