package samples

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/csv"
	"github.com/tidwall/gjson"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal"
)

const defaultChunk = 8192

// stringColumns are read as text; every other column is numeric
var stringColumns = map[string]bool{"qcd_mode": true}

// CSVReader loads production samples through the Arrow CSV reader
type CSVReader struct {
	chunk  int
	logger *internal.Logger
}

// NewCSVReader creates a reader; chunk <= 0 selects the default chunk size
func NewCSVReader(chunk int, logger *internal.Logger) *CSVReader {
	if chunk <= 0 {
		chunk = defaultChunk
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &CSVReader{chunk: chunk, logger: logger}
}

// sidecar is the optional <file>.meta.json written next to hard-QCD samples
type sidecar struct {
	qcdMode    particle.QCDMode
	sigmaGenPB float64
}

func readSidecar(path string) (sidecar, bool) {
	data, err := os.ReadFile(path + ".meta.json")
	if err != nil || !gjson.ValidBytes(data) {
		return sidecar{}, false
	}
	meta := sidecar{qcdMode: particle.QCDAuto, sigmaGenPB: math.NaN()}
	if mode, err := particle.ParseQCDMode(gjson.GetBytes(data, "qcd_mode").String()); err == nil {
		meta.qcdMode = mode
	}
	if v := gjson.GetBytes(data, "sigma_gen_pb"); v.Exists() && v.Type == gjson.Number {
		meta.sigmaGenPB = v.Float()
	}
	return meta, true
}

// Read loads every row of a sample. Rows missing a parent keep ParentPDG 0
// and are ignored by normalization. A tau parent without grandparent is
// kept here and rejected by the yield computation.
func (r *CSVReader) Read(ctx context.Context, info particle.SampleInfo) (*particle.Sample, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := r.ReadFrom(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", info.Path, err)
	}

	if meta, ok := readSidecar(info.Path); ok {
		for i := range records {
			if records[i].QCDMode == "" {
				records[i].QCDMode = meta.qcdMode
			}
			if math.IsNaN(records[i].SigmaGenPB) {
				records[i].SigmaGenPB = meta.sigmaGenPB
			}
		}
	}
	for i := range records {
		if records[i].QCDMode == "" {
			records[i].QCDMode = info.QCDMode
		}
		if records[i].QCDMode == "" {
			records[i].QCDMode = particle.QCDAuto
		}
	}
	r.logger.Debug("[SampleReader] %s: %d rows", info.Label(), len(records))
	return &particle.Sample{Info: info, Records: records}, nil
}

// ReadFrom parses sample rows from CSV text with a header line
func (r *CSVReader) ReadFrom(ctx context.Context, src io.Reader) ([]particle.Record, error) {
	br := bufio.NewReader(src)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	header := splitHeader(headerLine)
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: missing header", core.ErrMalformedSample)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		typ := arrow.DataType(arrow.PrimitiveTypes.Float64)
		if stringColumns[name] || cols.unknown[name] {
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	reader := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br), schema,
		csv.WithHeader(true),
		csv.WithChunk(r.chunk),
		csv.WithNullReader(true, "", "nan", "NaN", "None"),
	)
	defer reader.Release()

	var out []particle.Record
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := reader.Record()
		out = appendRecords(out, rec, cols)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedSample, err)
	}
	return out, nil
}

type columnIndex struct {
	event, parent, tauParent int
	eta, phi                 int
	momentum, mass           int
	weight, betaGamma        int
	qcdMode, sigmaGen        int
	unknown                  map[string]bool
}

var knownNumeric = map[string]bool{
	"event": true, "parent_id": true, "parent_pdg": true, "tau_parent_id": true,
	"eta": true, "phi": true, "momentum": true, "p": true, "mass": true,
	"weight": true, "beta_gamma": true, "sigma_gen_pb": true, "pthat_min_gev": true,
	"hits_tube": true, "entry_distance": true, "path_length": true,
}

func resolveColumns(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	find := func(names ...string) int {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i
			}
		}
		return -1
	}
	c := columnIndex{
		event:     find("event"),
		parent:    find("parent_id", "parent_pdg"),
		tauParent: find("tau_parent_id"),
		eta:       find("eta"),
		phi:       find("phi"),
		momentum:  find("momentum", "p"),
		mass:      find("mass"),
		weight:    find("weight"),
		betaGamma: find("beta_gamma"),
		qcdMode:   find("qcd_mode"),
		sigmaGen:  find("sigma_gen_pb"),
		unknown:   make(map[string]bool),
	}
	var missing []string
	for name, idx := range map[string]int{"parent_id|parent_pdg": c.parent, "eta": c.eta, "phi": c.phi, "momentum|p": c.momentum, "mass": c.mass} {
		if idx < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: missing columns %s", core.ErrMalformedSample, strings.Join(missing, ", "))
	}
	for _, h := range header {
		if !knownNumeric[h] && !stringColumns[h] {
			c.unknown[h] = true
		}
	}
	return c, nil
}

func appendRecords(out []particle.Record, rec arrow.Record, c columnIndex) []particle.Record {
	n := int(rec.NumRows())
	num := func(idx int) *array.Float64 {
		if idx < 0 {
			return nil
		}
		col, _ := rec.Column(idx).(*array.Float64)
		return col
	}
	event, parent, tau := num(c.event), num(c.parent), num(c.tauParent)
	eta, phi, mom, mass := num(c.eta), num(c.phi), num(c.momentum), num(c.mass)
	weight, bg, sigma := num(c.weight), num(c.betaGamma), num(c.sigmaGen)
	var qcd *array.String
	if c.qcdMode >= 0 {
		qcd, _ = rec.Column(c.qcdMode).(*array.String)
	}

	for i := 0; i < n; i++ {
		r := particle.Record{
			EventID:      int64(value(event, i, 0)),
			ParentPDG:    absInt(value(parent, i, 0)),
			TauParentPDG: absInt(value(tau, i, 0)),
			Eta:          value(eta, i, math.NaN()),
			Phi:          value(phi, i, math.NaN()),
			Momentum:     value(mom, i, math.NaN()),
			Mass:         value(mass, i, math.NaN()),
			Weight:       value(weight, i, 1.0),
			SigmaGenPB:   value(sigma, i, math.NaN()),
		}
		r.BetaGamma = value(bg, i, math.NaN())
		if math.IsNaN(r.BetaGamma) {
			r.BetaGamma = particle.BetaGammaFrom(r.Momentum, r.Mass)
		}
		if qcd != nil && !qcd.IsNull(i) {
			if mode, err := particle.ParseQCDMode(qcd.Value(i)); err == nil {
				r.QCDMode = mode
			}
		}
		out = append(out, r)
	}
	return out
}

func value(col *array.Float64, i int, def float64) float64 {
	if col == nil || col.IsNull(i) {
		return def
	}
	return col.Value(i)
}

func absInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Abs(math.Round(v)))
}

func splitHeader(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
