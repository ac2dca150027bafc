package upgrades

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lsdlabs/lsdctl/internal/artifacts"
	"github.com/lsdlabs/lsdctl/pkg/types"
)

// ErrUnsafeUpgrade is matched by errors.Is on every failed validation
var ErrUnsafeUpgrade = errors.New("unsafe upgrade")

// ProblemKind classifies a validation failure
type ProblemKind string

const (
	ProblemDeleted        ProblemKind = "deleted"
	ProblemInserted       ProblemKind = "inserted"
	ProblemReordered      ProblemKind = "reordered"
	ProblemRenamed        ProblemKind = "renamed"
	ProblemTypeChanged    ProblemKind = "type-changed"
	ProblemShrunk         ProblemKind = "shrunk"
	ProblemGapSize        ProblemKind = "gap-size"
	ProblemMissingUpgrade ProblemKind = "missing-upgrade-function"
	ProblemConstructor    ProblemKind = "constructor"
	ProblemNoLayout       ProblemKind = "no-layout"
)

// Options relax the upgrade safety checks
type Options struct {
	// Kind of proxy the implementation sits behind, uups when empty
	Kind types.ProxyKind
	// UnsafeAllowRenames accepts a variable whose label changed in place
	UnsafeAllowRenames bool
	// UnsafeAllowConstructor accepts constructors that take arguments
	UnsafeAllowConstructor bool
	// UnsafeSkipStorageCheck skips layout comparison entirely
	UnsafeSkipStorageCheck bool
}

func (o Options) kind() types.ProxyKind {
	if o.Kind == "" {
		return types.ProxyKindUUPS
	}
	return o.Kind
}

// Problem is one incompatibility found by validation
type Problem struct {
	Kind     ProblemKind
	Contract string
	Label    string
	Slot     string
	Detail   string
}

func (p Problem) String() string {
	var b strings.Builder
	b.WriteString(string(p.Kind))
	if p.Label != "" {
		fmt.Fprintf(&b, " %s", p.Label)
		if p.Contract != "" {
			fmt.Fprintf(&b, " (%s)", p.Contract)
		}
	}
	if p.Slot != "" {
		fmt.Fprintf(&b, " at slot %s", p.Slot)
	}
	if p.Detail != "" {
		fmt.Fprintf(&b, ": %s", p.Detail)
	}
	return b.String()
}

// LayoutReport accumulates every problem found while validating an upgrade
type LayoutReport struct {
	Old      string
	New      string
	Problems []Problem
}

func (r *LayoutReport) add(p Problem) {
	r.Problems = append(r.Problems, p)
}

func (r *LayoutReport) merge(other *LayoutReport) {
	if other != nil {
		r.Problems = append(r.Problems, other.Problems...)
	}
}

// OK reports whether the upgrade passed every check
func (r *LayoutReport) OK() bool {
	return len(r.Problems) == 0
}

// Has reports whether a problem of the given kind was found
func (r *LayoutReport) Has(kind ProblemKind) bool {
	for _, p := range r.Problems {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Err returns nil for a clean report and a *ValidationError otherwise
func (r *LayoutReport) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Report: r}
}

// ValidationError wraps a failed report
type ValidationError struct {
	Report *LayoutReport
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	name := e.Report.New
	if e.Report.Old != "" {
		name = e.Report.Old + " -> " + e.Report.New
	}
	fmt.Fprintf(&b, "upgrade %s is not safe", name)
	for _, p := range e.Report.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.String())
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrUnsafeUpgrade
}

// ValidateImplementation checks the deployable surface of an implementation
func ValidateImplementation(a *artifacts.Artifact, opts Options) *LayoutReport {
	report := &LayoutReport{New: a.FQN()}
	parsed, err := a.ParsedABI()
	if err != nil {
		report.add(Problem{Kind: ProblemMissingUpgrade, Contract: a.FQN(), Detail: err.Error()})
		return report
	}
	if opts.kind() == types.ProxyKindUUPS {
		for _, method := range []string{"upgradeTo", "proxiableUUID"} {
			if _, ok := parsed.Methods[method]; !ok {
				report.add(Problem{
					Kind:     ProblemMissingUpgrade,
					Contract: a.FQN(),
					Detail:   fmt.Sprintf("UUPS implementation is missing %s", method),
				})
			}
		}
	}
	if len(parsed.Constructor.Inputs) > 0 && !opts.UnsafeAllowConstructor {
		report.add(Problem{
			Kind:     ProblemConstructor,
			Contract: a.FQN(),
			Detail:   fmt.Sprintf("constructor takes %d argument(s); proxies never run it", len(parsed.Constructor.Inputs)),
		})
	}
	return report
}

// layoutVar is a storage item with its byte range resolved
type layoutVar struct {
	item  artifacts.StorageItem
	start uint64
	end   uint64
}

func resolve(l *artifacts.StorageLayout) []layoutVar {
	vars := make([]layoutVar, 0, len(l.Storage))
	for _, item := range l.Storage {
		slot, err := strconv.ParseUint(item.Slot, 10, 64)
		if err != nil {
			slot = item.SlotInt().Uint64()
		}
		start := slot*32 + uint64(item.Offset)
		size := uint64(l.Size(item.Type))
		if size >= 32 {
			size = uint64(l.Slots(item.Type)) * 32
		}
		if size == 0 {
			size = 32
		}
		vars = append(vars, layoutVar{item: item, start: start, end: start + size})
	}
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].start < vars[j].start })
	return vars
}

func slotOf(pos uint64) string {
	return strconv.FormatUint(pos/32, 10)
}

// ValidateUpgrade compares two storage layouts. Every variable of old must
// keep its slot, offset and type in updated. Variables may be appended after
// the last old variable or take space from a trailing __gap, which must
// then shrink by exactly the space taken.
func ValidateUpgrade(old, updated *artifacts.StorageLayout, opts Options) *LayoutReport {
	report := &LayoutReport{}
	if opts.UnsafeSkipStorageCheck {
		return report
	}
	if old == nil || updated == nil {
		report.add(Problem{Kind: ProblemNoLayout, Detail: "storage layout unavailable; compile with storageLayout output"})
		return report
	}

	oldVars := resolve(old)
	newVars := resolve(updated)

	newAt := make(map[uint64]int, len(newVars))
	newLabels := make(map[string]int, len(newVars))
	for i, v := range newVars {
		newAt[v.start] = i
		if !v.item.IsGap() {
			newLabels[v.item.Label] = i
		}
	}
	oldLabels := make(map[string]bool, len(oldVars))
	var oldEnd uint64
	for _, v := range oldVars {
		if !v.item.IsGap() {
			oldLabels[v.item.Label] = true
		}
		if v.end > oldEnd {
			oldEnd = v.end
		}
	}

	consumed := make([]bool, len(newVars))
	for _, o := range oldVars {
		if o.item.IsGap() {
			checkGap(report, o, newVars, oldLabels, consumed)
			continue
		}

		i, ok := newAt[o.start]
		if ok && newVars[i].item.Label == o.item.Label {
			consumed[i] = true
			compareTypes(report, old, updated, o, newVars[i])
			continue
		}

		if moved, found := newLabels[o.item.Label]; found {
			report.add(Problem{
				Kind:     ProblemReordered,
				Contract: o.item.Contract,
				Label:    o.item.Label,
				Slot:     o.item.Slot,
				Detail:   fmt.Sprintf("moved to slot %s offset %d", newVars[moved].item.Slot, newVars[moved].item.Offset),
			})
			consumed[moved] = true
			continue
		}

		if ok && !newVars[i].item.IsGap() && !oldLabels[newVars[i].item.Label] {
			consumed[i] = true
			if !opts.UnsafeAllowRenames {
				report.add(Problem{
					Kind:     ProblemRenamed,
					Contract: o.item.Contract,
					Label:    o.item.Label,
					Slot:     o.item.Slot,
					Detail:   fmt.Sprintf("renamed to %s", newVars[i].item.Label),
				})
			}
			compareTypes(report, old, updated, o, newVars[i])
			continue
		}

		report.add(Problem{
			Kind:     ProblemDeleted,
			Contract: o.item.Contract,
			Label:    o.item.Label,
			Slot:     o.item.Slot,
		})
	}

	for i, n := range newVars {
		if consumed[i] || n.start >= oldEnd {
			continue
		}
		if oldLabels[n.item.Label] {
			continue
		}
		report.add(Problem{
			Kind:     ProblemInserted,
			Contract: n.item.Contract,
			Label:    n.item.Label,
			Slot:     n.item.Slot,
			Detail:   "new variables must be appended or take space from a gap",
		})
	}
	return report
}

// checkGap matches the new variables placed inside an old __gap
func checkGap(report *LayoutReport, gap layoutVar, newVars []layoutVar, oldLabels map[string]bool, consumed []bool) {
	var inside []int
	for i, n := range newVars {
		if n.start >= gap.start && n.start < gap.end {
			inside = append(inside, i)
		}
	}
	if len(inside) == 0 {
		report.add(Problem{
			Kind:     ProblemDeleted,
			Contract: gap.item.Contract,
			Label:    gap.item.Label,
			Slot:     gap.item.Slot,
		})
		return
	}

	for _, i := range inside {
		n := newVars[i]
		consumed[i] = true
		if n.item.IsGap() {
			if n.end != gap.end {
				report.add(Problem{
					Kind:     ProblemGapSize,
					Contract: n.item.Contract,
					Label:    n.item.Label,
					Slot:     n.item.Slot,
					Detail: fmt.Sprintf("gap ends at slot %s, expected slot %s",
						slotOf(n.end), slotOf(gap.end)),
				})
			}
			continue
		}
		if oldLabels[n.item.Label] {
			// reported as a move by the old variable
			continue
		}
		if n.end > gap.end {
			report.add(Problem{
				Kind:     ProblemGapSize,
				Contract: n.item.Contract,
				Label:    n.item.Label,
				Slot:     n.item.Slot,
				Detail:   fmt.Sprintf("overflows %s ending at slot %s", gap.item.Label, slotOf(gap.end)),
			})
		}
	}
}

func compareTypes(report *LayoutReport, old, updated *artifacts.StorageLayout, o, n layoutVar) {
	oldSig := typeSignature(old, o.item.Type, map[string]bool{})
	newSig := typeSignature(updated, n.item.Type, map[string]bool{})
	if oldSig == newSig {
		return
	}
	kind := ProblemTypeChanged
	if updated.Size(n.item.Type) < old.Size(o.item.Type) {
		kind = ProblemShrunk
	}
	report.add(Problem{
		Kind:     kind,
		Contract: o.item.Contract,
		Label:    o.item.Label,
		Slot:     o.item.Slot,
		Detail:   fmt.Sprintf("%s changed to %s", typeLabel(old, o.item.Type), typeLabel(updated, n.item.Type)),
	})
}

func typeLabel(l *artifacts.StorageLayout, id string) string {
	if t, ok := l.Types[id]; ok && t.Label != "" {
		return t.Label
	}
	return id
}

// typeSignature renders a type without its AST ids so layouts from
// separate compilations compare equal
func typeSignature(l *artifacts.StorageLayout, id string, seen map[string]bool) string {
	t, ok := l.Types[id]
	if !ok {
		return id
	}
	if seen[id] {
		return t.Label
	}
	seen[id] = true
	defer delete(seen, id)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", t.Label, t.Encoding, t.NumberOfBytes)
	if t.Key != "" {
		fmt.Fprintf(&b, "|key=%s", typeSignature(l, t.Key, seen))
	}
	if t.Value != "" {
		fmt.Fprintf(&b, "|value=%s", typeSignature(l, t.Value, seen))
	}
	if t.Base != "" {
		fmt.Fprintf(&b, "|base=%s", typeSignature(l, t.Base, seen))
	}
	for _, m := range t.Members {
		fmt.Fprintf(&b, "|%s@%s+%d:%s", m.Label, m.Slot, m.Offset, typeSignature(l, m.Type, seen))
	}
	return b.String()
}
