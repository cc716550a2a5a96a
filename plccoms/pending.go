package plccoms

import "sync"

const (
	pendingListKey  = "LIST"
	pendingInfoKey  = "GETINFO"
	pendingErrorKey = "ERROR"
)

func pendingGetKey(name string) string { return "GET:" + name }

type pendingKind int

const (
	pendingGet pendingKind = iota
	pendingList
	pendingInfo
	pendingError
)

type pendingResult struct {
	value Value
	info  string
	err   error
}

// pendingRequest is a single-resolution slot that one issuing caller
// awaits. The result channel is buffered so the receive loop never
// blocks on resolution.
type pendingRequest struct {
	kind   pendingKind
	result chan pendingResult
	list   *listAccumulator
}

// pendingTable correlates response lines with in-flight requests. At
// most one request per key may be outstanding at a time.
type pendingTable struct {
	lock     sync.Mutex
	requests map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{requests: make(map[string]*pendingRequest)}
}

func (table *pendingTable) register(key string, kind pendingKind) (*pendingRequest, error) {
	table.lock.Lock()
	defer table.lock.Unlock()

	if _, exists := table.requests[key]; exists {
		return nil, NewError(PendingRequestError, "request already in flight for "+key)
	}

	request := &pendingRequest{
		kind:   kind,
		result: make(chan pendingResult, 1),
	}
	if kind == pendingList {
		request.list = &listAccumulator{}
	}
	table.requests[key] = request
	return request, nil
}

// remove deletes key only while it still maps to request, so a caller's
// deferred cleanup cannot drop a successor registered under the same key.
func (table *pendingTable) remove(key string, request *pendingRequest) {
	table.lock.Lock()
	if current, exists := table.requests[key]; exists && current == request {
		delete(table.requests, key)
	}
	table.lock.Unlock()
}

// lookup returns the request registered under key without removing it.
func (table *pendingTable) lookup(key string) (*pendingRequest, bool) {
	table.lock.Lock()
	defer table.lock.Unlock()
	request, exists := table.requests[key]
	return request, exists
}

// resolve fulfills and removes the request registered under key.
func (table *pendingTable) resolve(key string, result pendingResult) bool {
	table.lock.Lock()
	request, exists := table.requests[key]
	if exists {
		delete(table.requests, key)
	}
	table.lock.Unlock()

	if !exists {
		return false
	}
	request.result <- result
	return true
}

// failAll fails every in-flight request and clears the table. Called on
// connection loss and on explicit disconnect.
func (table *pendingTable) failAll(err error) {
	table.lock.Lock()
	requests := table.requests
	table.requests = make(map[string]*pendingRequest)
	table.lock.Unlock()

	for _, request := range requests {
		request.result <- pendingResult{err: err}
	}
}

// listAccumulator collects catalog entries for an in-flight LIST request.
type listAccumulator struct {
	lock    sync.Mutex
	entries []VariableInfo
}

func (accumulator *listAccumulator) add(entry VariableInfo) {
	accumulator.lock.Lock()
	accumulator.entries = append(accumulator.entries, entry)
	accumulator.lock.Unlock()
}

func (accumulator *listAccumulator) snapshot() []VariableInfo {
	accumulator.lock.Lock()
	defer accumulator.lock.Unlock()
	return append([]VariableInfo(nil), accumulator.entries...)
}
