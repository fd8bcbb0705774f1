package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Report summarizes a suite run.
type Report struct {
	Suite    string        `json:"suite,omitempty"`
	Results  []Result      `json:"results"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

// NewReport tallies results.
func NewReport(results []Result, d time.Duration) *Report {
	rep := &Report{Results: results, Duration: d}
	for _, r := range results {
		if r.Passed() {
			rep.Passed++
		} else {
			rep.Failed++
		}
	}
	return rep
}

// OK reports whether every scenario passed.
func (r *Report) OK() bool { return r.Failed == 0 }

// Failures returns the failed results in run order.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// WriteText writes a human-readable report. Durations are left out so the
// output is stable across runs.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	if r.Suite != "" {
		fmt.Fprintf(&b, "suite %s\n", r.Suite)
	}
	for _, res := range r.Results {
		mark := "PASS"
		if !res.Passed() {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %-8s %-20s %s\n", mark, res.Transport, res.Isolation, res.Scenario)
		if !res.Passed() {
			fmt.Fprintf(&b, "      clause:  %s\n", res.Clause)
			fmt.Fprintf(&b, "      message: %s\n", res.Message)
			if res.Raw != "" {
				fmt.Fprintf(&b, "      raw:     %s\n", strings.TrimSpace(res.Raw))
			}
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed\n", r.Passed, r.Failed)
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
