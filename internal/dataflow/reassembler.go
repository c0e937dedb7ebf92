package dataflow

import (
	"sort"
	"sync"

	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// Reassembler accumulates paginated entries for in-flight transactions. It
// owns the pages exclusively: they are held here until the transfer either
// completes, in which case the ordered record is returned and the pages
// dropped, or fails, in which case Discard throws them away. Nothing partial
// ever leaves this type.
type Reassembler struct {
	mu        sync.Mutex
	transfers map[domain.TransactionID]*transferState
}

type transferState struct {
	pageCount int
	pages     map[int][]Entry
}

func NewReassembler() *Reassembler {
	return &Reassembler{transfers: make(map[domain.TransactionID]*transferState)}
}

// Ingest records one page. It returns the complete, ordered entry sequence
// once the number of distinct pages equals the declared page count, or nil
// while pages are still outstanding.
//
// Every page of a transaction must declare the same pageCount; a mismatch is
// a protocol error the caller must fail the whole transfer on. A page number
// already ingested is a conflict and changes nothing.
func (r *Reassembler) Ingest(page TransferPage) ([]Entry, bool, error) {
	if page.PageCount < 1 {
		return nil, false, dErrors.Newf(dErrors.CodeProtocol,
			"transaction %s: page count %d is not positive", page.TransactionID, page.PageCount)
	}
	if page.PageNumber < 1 || page.PageNumber > page.PageCount {
		return nil, false, dErrors.Newf(dErrors.CodeProtocol,
			"transaction %s: page number %d outside 1..%d", page.TransactionID, page.PageNumber, page.PageCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.transfers[page.TransactionID]
	if !ok {
		state = &transferState{pageCount: page.PageCount, pages: make(map[int][]Entry)}
		r.transfers[page.TransactionID] = state
	}
	if state.pageCount != page.PageCount {
		return nil, false, dErrors.Newf(dErrors.CodeProtocol,
			"transaction %s: page count changed from %d to %d", page.TransactionID, state.pageCount, page.PageCount)
	}
	if _, dup := state.pages[page.PageNumber]; dup {
		return nil, false, dErrors.Newf(dErrors.CodeConflict,
			"transaction %s: page %d already ingested", page.TransactionID, page.PageNumber)
	}
	state.pages[page.PageNumber] = page.Entries

	if len(state.pages) < state.pageCount {
		return nil, false, nil
	}

	numbers := make([]int, 0, len(state.pages))
	for n := range state.pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	var entries []Entry
	for _, n := range numbers {
		entries = append(entries, state.pages[n]...)
	}
	delete(r.transfers, page.TransactionID)
	return entries, true, nil
}

// Discard drops all ingested pages for a failed transaction.
func (r *Reassembler) Discard(id domain.TransactionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transfers, id)
}

// pagesHeld reports how many pages are buffered for a transaction.
func (r *Reassembler) pagesHeld(id domain.TransactionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.transfers[id]
	if !ok {
		return 0
	}
	return len(state.pages)
}
