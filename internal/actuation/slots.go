package actuation

import (
	"fmt"
	"sync"

	"pcb-inspect/internal/decision"
)

// Default sorting capacity per decision.
const (
	DefaultBoxes       = 2
	DefaultSlotsPerBox = 20
)

// SlotStatus tags a SlotResult.
type SlotStatus int

const (
	// SlotFull means every box for the decision is full and the board cannot be placed.
	SlotFull SlotStatus = iota
	// SlotAssigned means Box and Slot are valid.
	SlotAssigned
)

func (s SlotStatus) String() string {
	switch s {
	case SlotAssigned:
		return "assigned"
	case SlotFull:
		return "full"
	default:
		return fmt.Sprintf("SlotStatus(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s SlotStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SlotResult is the outcome of a slot allocation. Box and Slot are zero-based and
// only meaningful when Status is SlotAssigned.
type SlotResult struct {
	Status SlotStatus `json:"status"`
	Box    int        `json:"box"`
	Slot   int        `json:"slot"`
}

// Assigned reports whether a slot was handed out.
func (r SlotResult) Assigned() bool { return r.Status == SlotAssigned }

func (r SlotResult) String() string {
	if !r.Assigned() {
		return "full"
	}
	return fmt.Sprintf("box %d slot %d", r.Box, r.Slot)
}

// SlotAllocator hands out physical box slots per decision. It is the one piece of
// state shared between concurrent inspections.
type SlotAllocator struct {
	mu          sync.Mutex
	boxes       int
	slotsPerBox int
	used        map[decision.Decision]int
}

// NewSlotAllocator creates an allocator with the given capacity per decision.
// Non-positive values fall back to the defaults.
func NewSlotAllocator(boxes, slotsPerBox int) *SlotAllocator {
	if boxes <= 0 {
		boxes = DefaultBoxes
	}
	if slotsPerBox <= 0 {
		slotsPerBox = DefaultSlotsPerBox
	}
	return &SlotAllocator{
		boxes:       boxes,
		slotsPerBox: slotsPerBox,
		used:        make(map[decision.Decision]int),
	}
}

// Capacity returns the number of slots available per decision.
func (a *SlotAllocator) Capacity() int {
	return a.boxes * a.slotsPerBox
}

// Assign takes the next free slot for d. Boxes fill in order.
func (a *SlotAllocator) Assign(d decision.Decision) SlotResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.used[d]
	if n >= a.boxes*a.slotsPerBox {
		return SlotResult{Status: SlotFull}
	}
	a.used[d] = n + 1
	return SlotResult{Status: SlotAssigned, Box: n / a.slotsPerBox, Slot: n % a.slotsPerBox}
}

// Used returns how many slots are taken for d.
func (a *SlotAllocator) Used(d decision.Decision) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used[d]
}

// Reset empties every box for d, e.g. after an operator swaps them out.
func (a *SlotAllocator) Reset(d decision.Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, d)
}
