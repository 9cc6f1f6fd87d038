package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/sim"
)

// Recorder produces a list of fields making up a record.
type Recorder interface {
	Record() []string
}

// Row is one (variant, setting) line of a sweep.
type Row struct {
	Variant channel.Variant
	Point   sim.Point
	Theory  float64
}

// Header names the fields of Row.Record.
var Header = []string{"variant", "snr_db", "ber", "errors", "bits", "trials", "theory_ber"}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Record implements Recorder.
func (r Row) Record() []string {
	return []string{
		r.Variant.String(),
		formatFloat(r.Point.SNRdB),
		formatFloat(r.Point.BER),
		strconv.Itoa(r.Point.Errors),
		strconv.Itoa(r.Point.Bits),
		strconv.Itoa(r.Point.Trials),
		formatFloat(r.Theory),
	}
}

// Rows flattens a report into one row per (variant, setting).
func Rows(r *Report) []Row {
	var rows []Row
	for _, c := range r.Result.Curves {
		theory := r.TheoryFor(c.Variant)
		for i, p := range c.Points {
			row := Row{Variant: c.Variant, Point: p}
			if i < len(theory) {
				row.Theory = theory[i]
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// A CSVEncoder writes CSV records to an output stream.
type CSVEncoder struct {
	w    *csv.Writer
	opts Options
}

// NewCSVEncoder returns a new encoder that writes to w.
func NewCSVEncoder(w io.Writer, opts Options) *CSVEncoder {
	return &CSVEncoder{w: csv.NewWriter(w), opts: opts}
}

// Encode writes a header followed by one record per row.
func (enc *CSVEncoder) Encode(res *sim.Result) error {
	r, err := Build(res, enc.opts)
	if err != nil {
		return err
	}

	if err := enc.w.Write(Header); err != nil {
		return err
	}
	for _, row := range Rows(r) {
		if err := enc.WriteRecord(row); err != nil {
			return err
		}
	}
	enc.w.Flush()
	return enc.w.Error()
}

// WriteRecord writes a single record.
func (enc *CSVEncoder) WriteRecord(rec Recorder) error {
	return enc.w.Write(rec.Record())
}
