package bridge

import (
	"strings"
	"sync"

	"github.com/koscakluka/ema-bridge/core/runtimes"
)

// ApprovalIDPrefix marks a downstream id as addressing the approval of the
// call whose id follows the prefix.
const ApprovalIDPrefix = "confirmation-"

// ApprovalID derives the approval identity for an intercepted call.
func ApprovalID(callID string) string {
	return ApprovalIDPrefix + callID
}

// CallMap is the bidirectional table between a tool's logical name and the
// call identity the downstream client sees.
//
// At most one live downstream id exists per logical name: a new registration
// for the same name supersedes the previous mapping in both directions.
type CallMap struct {
	mu     sync.Mutex
	byName map[string]string
	byID   map[string]string
}

func NewCallMap() *CallMap {
	return &CallMap{
		byName: map[string]string{},
		byID:   map[string]string{},
	}
}

// Register maps a logical tool name to the downstream call id, dropping any
// stale entry for the same name in both directions.
func (m *CallMap) Register(name, downstreamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stale, ok := m.byName[name]; ok {
		delete(m.byID, stale)
	}
	m.byName[name] = downstreamID
	m.byID[downstreamID] = name
}

// DownstreamID resolves a logical name to its live downstream id.
//
// The synthetic confirmation tool resolves only through its own last
// registration: falling through to the original call would deliver the
// approval decision to the original tool's waiter. For any other tool, a
// non-empty originalCall redirects resolution to that call's name, so a
// wrapper tool invoked on behalf of another resolves the wrapped call.
func (m *CallMap) DownstreamID(name, originalCall string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != runtimes.ConfirmationToolName && originalCall != "" {
		name = originalCall
	}
	id, ok := m.byName[name]
	return id, ok
}

// LogicalName resolves a downstream id back to its logical tool name. An id
// carrying the approval prefix resolves to the underlying call's name.
func (m *CallMap) LogicalName(downstreamID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name, ok := m.byID[downstreamID]; ok {
		return name, true
	}
	if original, ok := strings.CutPrefix(downstreamID, ApprovalIDPrefix); ok {
		name, ok := m.byID[original]
		return name, ok
	}
	return "", false
}

// Clear drops all mappings. Used at session boundaries.
func (m *CallMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.byName)
	clear(m.byID)
}
