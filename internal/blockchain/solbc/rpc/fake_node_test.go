package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type rpcFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode минимальный JSON-RPC узел для тестов шлюза.
type fakeNode struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(call int) (interface{}, *rpcFailure)
	status   int
	srv      *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	n := &fakeNode{
		calls:    make(map[string]int),
		handlers: make(map[string]func(int) (interface{}, *rpcFailure)),
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) handle(method string, fn func(call int) (interface{}, *rpcFailure)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = fn
}

func (n *fakeNode) failHTTP(status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	call := n.calls[req.Method]
	status := n.status
	handler := n.handlers[req.Method]
	n.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = rpcFailure{Code: -32601, Message: "Method not found"}
	} else if result, failure := handler(call); failure != nil {
		resp["error"] = failure
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   value,
	}
}
