package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jeongseonghan/bersim/internal/sim"
)

// JSONEncoder writes the full report as indented JSON.
type JSONEncoder struct {
	w    io.Writer
	opts Options
}

func (e *JSONEncoder) Encode(res *sim.Result) error {
	r, err := Build(res, e.opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// MsgpackEncoder writes the full report as MessagePack.
type MsgpackEncoder struct {
	w    io.Writer
	opts Options
}

func (e *MsgpackEncoder) Encode(res *sim.Result) error {
	r, err := Build(res, e.opts)
	if err != nil {
		return err
	}
	return msgpack.NewEncoder(e.w).Encode(r)
}

// DecodeMsgpack reads a report written by MsgpackEncoder.
func DecodeMsgpack(rd io.Reader) (*Report, error) {
	var r Report
	if err := msgpack.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// PlainEncoder writes an aligned table per variant and the Rayleigh fit.
type PlainEncoder struct {
	w    io.Writer
	opts Options
}

// errWriter keeps the first write error and turns later writes into no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (e *PlainEncoder) Encode(res *sim.Result) error {
	r, err := Build(res, e.opts)
	if err != nil {
		return err
	}

	w := &errWriter{w: e.w}
	cfg := res.Config
	fmt.Fprintf(w, "%s, %d trials per point, seed %d\n", res.Modulation, cfg.Trials, cfg.Seed)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, c := range res.Curves {
		theory := r.TheoryFor(c.Variant)
		fmt.Fprintf(tw, "\n%s\n", c.Variant.Label())
		fmt.Fprintln(tw, "SNR (dB)\tBER\ttheory\terrors\tbits\t")
		for i, p := range c.Points {
			fmt.Fprintf(tw, "%.2f\t%.4e\t%.4e\t%d\t%d\t\n", p.SNRdB, p.BER, theory[i], p.Errors, p.Bits)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	if g := r.GainFit; g != nil {
		verdict := "consistent with"
		if g.Reject {
			verdict = "rejects"
		}
		fmt.Fprintf(w, "\nChannel gain at %.2f dB: %d samples, KS D=%.4f p=%.4f (%s Rayleigh at alpha=%g)\n",
			g.SNRdB, g.Fit.N, g.Fit.D, g.Fit.PValue, verdict, g.Alpha)
		fmt.Fprintf(w, "  mean |h| %.4f (theory %.4f), std %.4f (theory %.4f)\n",
			g.Moments.Mean, g.Moments.TheoreticalMean, g.Moments.StdDev, g.Moments.TheoreticalStdDev)
	}
	for _, s := range res.Constellations {
		fmt.Fprintf(w, "Constellation snapshot at %.2f dB: %d symbols\n", s.SNRdB, len(s.Received))
	}
	if w.err != nil {
		return fmt.Errorf("write report: %w", w.err)
	}
	return nil
}
