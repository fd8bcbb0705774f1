// Package equivalence deep-compares response documents after stripping
// volatile fields.
//
// Both sides are normalized to generic JSON values (objects, arrays,
// strings, float64 numbers, booleans and null) before comparison, so typed
// Go values and decoded fixtures compare on their JSON shape alone. Objects
// compare without regard to key order; arrays compare element by element.
package equivalence

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// Result is the outcome of a comparison. On mismatch it carries the first
// divergence in key order.
type Result struct {
	Match bool
	// Path locates the divergence, e.g. items[0].quantity. Empty means the
	// documents differ at the root.
	Path     string
	Actual   any
	Expected any
	// ActualMissing and ExpectedMissing mark a key or element present on
	// only one side.
	ActualMissing   bool
	ExpectedMissing bool
	// Diff is the full go-cmp report, set on mismatch.
	Diff string
	// Err is set when a side could not be normalized to JSON.
	Err error
}

// String renders the first divergence on one line.
func (r Result) String() string {
	if r.Err != nil {
		return "comparison error: " + r.Err.Error()
	}
	if r.Match {
		return "match"
	}
	path := r.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("%s: actual %s != expected %s",
		path, render(r.Actual, r.ActualMissing), render(r.Expected, r.ExpectedMissing))
}

func render(v any, missing bool) string {
	if missing {
		return "<missing>"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Compare reports whether actual and expected are equal once every path in
// exclusions has been removed from both. Exclusions are dot-separated paths
// where "*" matches any object key or every array element, and a numeric
// segment selects one array element: "userId", "items.*.sku",
// "data.checkout.userId".
func Compare(actual, expected any, exclusions ...string) Result {
	a, err := Normalize(actual)
	if err != nil {
		return Result{Err: fmt.Errorf("normalizing actual: %w", err)}
	}
	e, err := Normalize(expected)
	if err != nil {
		return Result{Err: fmt.Errorf("normalizing expected: %w", err)}
	}

	for _, ex := range exclusions {
		a = Exclude(a, ex)
		e = Exclude(e, ex)
	}

	var r firstDivergence
	if cmp.Equal(a, e, cmp.Reporter(&r)) {
		return Result{Match: true}
	}

	res := r.result
	res.Diff = cmp.Diff(e, a)
	return res
}

// Normalize round-trips v through encoding/json, producing a value built only
// from map[string]any, []any, string, float64, bool and nil.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, float64, bool:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Exclude returns doc with the value at path removed. doc must already be
// normalized. The input is not modified.
func Exclude(doc any, path string) any {
	if path == "" {
		return doc
	}
	return exclude(doc, strings.Split(path, "."))
}

func exclude(node any, segs []string) any {
	seg, rest := segs[0], segs[1:]

	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = v
		}
		for k, v := range n {
			if seg != "*" && seg != k {
				continue
			}
			if len(rest) == 0 {
				delete(out, k)
				continue
			}
			out[k] = exclude(v, rest)
		}
		return out

	case []any:
		out := make([]any, len(n))
		copy(out, n)
		idx, numErr := strconv.Atoi(seg)
		for i, v := range n {
			if seg != "*" && (numErr != nil || idx != i) {
				continue
			}
			if len(rest) == 0 {
				// Removing an element would shift every later index, so
				// excluded elements are blanked instead.
				out[i] = nil
				continue
			}
			out[i] = exclude(v, rest)
		}
		return out

	default:
		return node
	}
}

// firstDivergence is a cmp.Reporter that keeps the first unequal leaf.
type firstDivergence struct {
	path   cmp.Path
	found  bool
	result Result
}

func (r *firstDivergence) PushStep(ps cmp.PathStep) {
	r.path = append(r.path, ps)
}

func (r *firstDivergence) PopStep() {
	r.path = r.path[:len(r.path)-1]
}

func (r *firstDivergence) Report(rs cmp.Result) {
	if rs.Equal() || r.found {
		return
	}
	r.found = true

	vx, vy := r.path.Last().Values()
	r.result = Result{
		Path:            renderPath(r.path),
		Actual:          valueOf(vx),
		Expected:        valueOf(vy),
		ActualMissing:   !vx.IsValid(),
		ExpectedMissing: !vy.IsValid(),
	}
}

func valueOf(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// renderPath prints map keys dotted and slice indexes bracketed. Interface
// unwrapping steps carry no location and are skipped.
func renderPath(p cmp.Path) string {
	var b strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case cmp.MapIndex:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			fmt.Fprintf(&b, "%v", s.Key().Interface())
		case cmp.SliceIndex:
			ix, iy := s.SplitKeys()
			i := ix
			if i < 0 {
				i = iy
			}
			fmt.Fprintf(&b, "[%d]", i)
		}
	}
	return b.String()
}
