package core

import (
	"errors"
	"fmt"
)

var ErrHarqProcessRange = errors.New("HARQ process id out of range")

type harqKey struct {
	rnti    uint16
	process uint8
}

// HarqPhy keeps the previous decoder output per (RNTI, HARQ process) so a
// retransmission can soft-combine with earlier attempts. Entries are
// cleared when the block finally decodes or a new-data indication starts a
// fresh transmission on the process.
type HarqPhy struct {
	numProcesses uint8
	history      map[harqKey]ErrorModelOutput
}

// NewHarqPhy creates HARQ bookkeeping for the configured process count.
func NewHarqPhy(numProcesses uint8) *HarqPhy {
	return &HarqPhy{
		numProcesses: numProcesses,
		history:      make(map[harqKey]ErrorModelOutput),
	}
}

// Previous returns the stored output of the last attempt on the process,
// or nil for an initial transmission.
func (h *HarqPhy) Previous(rnti uint16, process uint8) *ErrorModelOutput {
	if out, ok := h.history[harqKey{rnti, process}]; ok {
		prev := out
		return &prev
	}
	return nil
}

// Update stores the attempt output when the block is still corrupted, and
// clears the process when it decoded.
func (h *HarqPhy) Update(rnti uint16, process uint8, out ErrorModelOutput) error {
	if process >= h.numProcesses {
		return fmt.Errorf("%w: %d of %d", ErrHarqProcessRange, process, h.numProcesses)
	}
	key := harqKey{rnti, process}
	if out.Corrupted {
		h.history[key] = out
	} else {
		delete(h.history, key)
	}
	return nil
}

// ResetProcess clears a process, used when a new-data indication
// supersedes whatever was in flight.
func (h *HarqPhy) ResetProcess(rnti uint16, process uint8) {
	delete(h.history, harqKey{rnti, process})
}

// ResetRnti drops all state for a device, used when it detaches.
func (h *HarqPhy) ResetRnti(rnti uint16) {
	for key := range h.history {
		if key.rnti == rnti {
			delete(h.history, key)
		}
	}
}
