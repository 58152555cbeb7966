// Package status provides a registry of "what is this goroutine doing right
// now" status strings, for exposing a summary of what the various pieces of
// the task engine are doing.
//
// Inspired heavily by Google "/statsuz" - one public example is at:
// https://github.com/youtube/doorman/blob/master/go/status/status.go
package status

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"
)

var (
	startTime = time.Now()

	rootItem = &simpleItem{
		baseItem: baseItem{
			items: make(map[string]item),
		},
	}
)

type item interface {
	addSubItem(string, item)
	delSubItem(string)

	snapshot() any
}

type itemCtxKey struct{}

func parentItem(ctx context.Context) item {
	v := ctx.Value(itemCtxKey{})
	if v == nil {
		return rootItem
	}
	return v.(item)
}

type baseItem struct {
	mu    sync.RWMutex
	items map[string]item
}

func (i *baseItem) addSubItem(title string, sub item) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items[title] = sub
}

func (i *baseItem) delSubItem(title string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.items, title)
}

func (i *baseItem) subItems() map[string]item {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return maps.Clone(i.items)
}

// simpleItem is a status item that reports a plain status string, optionally
// with a tree of sub-items (e.g. a TaskManager's running tasks).
type simpleItem struct {
	baseItem
	stat string
}

// setStatus sets the status of the item.
func (i *simpleItem) setStatus(s string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stat = s
}

func (i *simpleItem) snapshot() any {
	i.mu.RLock()
	stat := i.stat
	i.mu.RUnlock()

	children := i.subItems()
	if len(children) == 0 {
		return stat
	}

	out := map[string]any{"status": stat}
	for title, sub := range children {
		out[title] = sub.snapshot()
	}
	return out
}

// Snapshot returns the current status tree as plain data, suitable for JSON
// encoding or direct inspection in tests.
func Snapshot() map[string]any {
	out := map[string]any{}
	for title, sub := range rootItem.subItems() {
		out[title] = sub.snapshot()
	}
	return out
}

// Handle serves the current status tree as JSON. An embedding application
// mounts this wherever it likes (e.g. "/status.json"); the task engine
// itself never listens on a socket.
func Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Uptime time.Duration  `json:"uptime"`
		Items  map[string]any `json:"items"`
	}{
		Uptime: time.Since(startTime),
		Items:  Snapshot(),
	})
}

// AddSimpleItem registers a status item under the item tracked by parent (or
// the root, if parent carries none). Callers use the returned setStatus to
// update the displayed string, and must call done when the item goes away
// (e.g. when a Task finishes).
func AddSimpleItem(parent context.Context, title string) (ctx context.Context, setStatus func(string), done func()) {
	item := &simpleItem{
		baseItem: baseItem{
			items: make(map[string]item),
		},
		stat: "unknown status",
	}
	pitem := parentItem(parent)
	pitem.addSubItem(title, item)

	return context.WithValue(parent, itemCtxKey{}, item), item.setStatus, func() { pitem.delSubItem(title) }
}

// DelItem removes a status item, specified by title, from a parent context.
func DelItem(parent context.Context, title string) {
	pitem := parentItem(parent)
	pitem.delSubItem(title)
}
