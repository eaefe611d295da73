package cruncher

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/delcypher/gv-hack/ir"
)

// Race-instrumentation variable name prefixes. The front end declares one
// offset variable and one has-occurred flag per tracked array and access
// kind, e.g. "_WRITE_OFFSET_$$A" and "_WRITE_HAS_OCCURRED_$$A".
const (
	offsetVarInfix      = "_OFFSET_"
	hasOccurredVarInfix = "_HAS_OCCURRED_"
)

// OffsetVar returns the race-offset variable name for an array/kind pair.
func OffsetVar(array string, kind ir.AccessKind) string {
	return "_" + kind.String() + offsetVarInfix + array
}

// HasOccurredVar returns the access-occurred flag name for an array/kind pair.
func HasOccurredVar(array string, kind ir.AccessKind) string {
	return "_" + kind.String() + hasOccurredVarInfix + array
}

// parseAccessVar splits a race-instrumentation variable name into its array
// basename and access kind. The infix argument selects which family to match.
func parseAccessVar(name, infix string) (array string, kind ir.AccessKind, ok bool) {
	if !strings.HasPrefix(name, "_") {
		return "", 0, false
	}
	i := strings.Index(name, infix)
	if i < 0 {
		return "", 0, false
	}
	switch name[1:i] {
	case "READ":
		kind = ir.AccessRead
	case "WRITE":
		kind = ir.AccessWrite
	case "ATOMIC":
		kind = ir.AccessAtomic
	default:
		return "", 0, false
	}
	return name[i+len(infix):], kind, true
}

// accessKey identifies one tracked array/access-kind pair.
type accessKey struct {
	array string
	kind  ir.AccessKind
}

// accessLog holds the race state of one array/access-kind pair: the offsets
// logged since the last fence covering the array, and whether any tracked
// access has occurred since then.
type accessLog struct {
	offsets  []BitVector
	occurred bool
}

// Memory is the shadow store of one interpreter run: scalar values by name,
// array cells by (basename, index tuple), and the race-offset logs used for
// race and barrier semantics. A cell with no entry is unknown, not zero;
// readers observe the absence and mark their expression uninitialised.
type Memory struct {
	scalars *immutable.SortedMap          // scalar name -> Value
	cells   map[string]Value              // rendered (array, index) key -> Value
	logs    map[accessKey]*accessLog      // race state per array/kind
	spaces  map[string]ir.MemorySpace     // registered race arrays
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{
		scalars: immutable.NewSortedMap(&stringComparer{}),
		cells:   make(map[string]Value),
		logs:    make(map[accessKey]*accessLog),
		spaces:  make(map[string]ir.MemorySpace),
	}
}

// WriteScalar binds a scalar by name.
func (m *Memory) WriteScalar(name string, v Value) {
	m.scalars = m.scalars.Set(name, v)
}

// ReadScalar resolves a scalar by name.
func (m *Memory) ReadScalar(name string) (Value, bool) {
	v, ok := m.scalars.Get(name)
	if !ok {
		return Value{}, false
	}
	return v.(Value), true
}

// WriteCell binds an array cell at the given index tuple.
func (m *Memory) WriteCell(array string, index []BitVector, v Value) {
	m.cells[cellKey(array, index)] = v
}

// ReadCell resolves an array cell at the given index tuple.
func (m *Memory) ReadCell(array string, index []BitVector) (Value, bool) {
	v, ok := m.cells[cellKey(array, index)]
	return v, ok
}

// cellKey renders the lookup key of an array cell.
func cellKey(array string, index []BitVector) string {
	var sb strings.Builder
	sb.WriteString(array)
	for _, idx := range index {
		fmt.Fprintf(&sb, "[%s]", idx)
	}
	return sb.String()
}

// RegisterRaceArray registers an array as race-tracked state in the given
// memory space.
func (m *Memory) RegisterRaceArray(array string, space ir.MemorySpace) {
	m.spaces[array] = space
}

// RaceArrays returns the registered race arrays sorted by name.
func (m *Memory) RaceArrays() []string {
	a := make([]string, 0, len(m.spaces))
	for name := range m.spaces {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// Space returns the memory space of a registered race array.
func (m *Memory) Space(array string) (ir.MemorySpace, bool) {
	space, ok := m.spaces[array]
	return space, ok
}

// LogOffset appends an offset to the race log of an array/kind pair and
// marks the access as having occurred.
func (m *Memory) LogOffset(array string, kind ir.AccessKind, offset BitVector) {
	key := accessKey{array, kind}
	log := m.logs[key]
	if log == nil {
		log = &accessLog{}
		m.logs[key] = log
	}
	log.offsets = append(log.offsets, offset)
	log.occurred = true
}

// Offsets returns the offsets logged for an array/kind pair since the last
// covering barrier, in log order.
func (m *Memory) Offsets(array string, kind ir.AccessKind) []BitVector {
	if log := m.logs[accessKey{array, kind}]; log != nil {
		return log.offsets
	}
	return nil
}

// AccessOccurred returns true if a tracked access of the given kind has
// occurred on the array since the last covering barrier.
func (m *Memory) AccessOccurred(array string, kind ir.AccessKind) bool {
	if log := m.logs[accessKey{array, kind}]; log != nil {
		return log.occurred
	}
	return false
}

// ClearAccessLog resets the race state of an array/kind pair, modeling the
// happens-before reset at a synchronization point.
func (m *Memory) ClearAccessLog(array string, kind ir.AccessKind) {
	if log := m.logs[accessKey{array, kind}]; log != nil {
		log.offsets = log.offsets[:0]
		log.occurred = false
	}
}

// LookupScalar implements Env. Has-occurred flags of registered race arrays
// resolve even before any access is logged; everything else resolves from
// the scalar store.
func (m *Memory) LookupScalar(name string) (Value, bool) {
	if array, kind, ok := parseAccessVar(name, hasOccurredVarInfix); ok {
		if _, registered := m.spaces[array]; registered {
			return BoolValue(m.AccessOccurred(array, kind)), true
		}
	}
	return m.ReadScalar(name)
}

// LookupOffsets implements Env.
func (m *Memory) LookupOffsets(name string) ([]BitVector, bool) {
	array, kind, ok := parseAccessVar(name, offsetVarInfix)
	if !ok {
		return nil, false
	}
	if _, registered := m.spaces[array]; !registered {
		return nil, false
	}
	return m.Offsets(array, kind), true
}

// LookupCell implements Env.
func (m *Memory) LookupCell(name string, index []BitVector) (Value, bool) {
	return m.ReadCell(name, index)
}

// Dump returns a deterministic rendering of the store, one binding per line.
func (m *Memory) Dump() string {
	var buf bytes.Buffer

	itr := m.scalars.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%s = %s\n", k.(string), v.(Value))
	}

	keys := make([]string, 0, len(m.cells))
	for k := range m.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s = %s\n", k, m.cells[k])
	}

	return buf.String()
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b,
// and returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}
