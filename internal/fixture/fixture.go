// Package fixture implements engine.Transport from a directory of JSON
// files, for running the engine without a server.
//
// Layout:
//
//	<dir>/<resource_type>.json   fetch result: {"layers": [...], "records": [...]}
//	<dir>/OFFLINE                when present, every call fails
//	<dir>/pushed.jsonl           one line appended per accepted push
//
// A missing resource file is an empty result. Layers and records whose
// scope keys are set must match the fetch scope; zero keys match any scope.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
)

// ErrOffline is returned while the OFFLINE marker file exists.
var ErrOffline = errors.New("fixture transport offline")

const (
	offlineMarker = "OFFLINE"
	pushLog       = "pushed.jsonl"
)

// FirstServerID is the id assigned to the first acknowledged create.
const FirstServerID = 1000

// Transport reads fetch results from Dir and records pushes.
type Transport struct {
	dir string

	mu     sync.Mutex
	nextID int64
}

// New creates a transport over dir. The directory must exist.
func New(dir string) (*Transport, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fixture dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture dir %s: not a directory", dir)
	}
	return &Transport{dir: dir, nextID: FirstServerID}, nil
}

var _ engine.Transport = (*Transport)(nil)

// Fetch implements engine.Transport.
func (t *Transport) Fetch(ctx context.Context, rt model.ResourceType, scope model.ScopeKeys) (engine.FetchResult, error) {
	if err := t.check(ctx); err != nil {
		return engine.FetchResult{}, err
	}

	data, err := os.ReadFile(filepath.Join(t.dir, string(rt)+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return engine.FetchResult{}, nil
	}
	if err != nil {
		return engine.FetchResult{}, fmt.Errorf("read fixture %s: %w", rt, err)
	}

	var all engine.FetchResult
	if err := json.Unmarshal(data, &all); err != nil {
		return engine.FetchResult{}, fmt.Errorf("parse fixture %s: %w", rt, err)
	}

	var out engine.FetchResult
	for _, l := range all.Layers {
		if inScope(l.Scope, scope) {
			out.Layers = append(out.Layers, l)
		}
	}
	for _, r := range all.Records {
		if inScope(r.Scope, scope) {
			out.Records = append(out.Records, r)
		}
	}
	return out, nil
}

// pushEntry is one line of pushed.jsonl.
type pushEntry struct {
	At       time.Time            `json:"at"`
	Op       string               `json:"op"`
	ServerID *int64               `json:"server_id,omitempty"`
	Record   model.SyncableRecord `json:"record"`
}

// Push implements engine.Transport. Creates are assigned increasing server
// ids starting at FirstServerID.
func (t *Transport) Push(ctx context.Context, rec model.SyncableRecord) (engine.PushAck, error) {
	if err := t.check(ctx); err != nil {
		return engine.PushAck{}, err
	}
	op, ok := rec.Status.Op()
	if !ok || !rec.Status.IsInFlight() {
		return engine.PushAck{}, fmt.Errorf("push %s: status %s is not in flight", rec.LocalID, rec.Status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var ack engine.PushAck
	if op == model.OpCreate {
		id := t.nextID
		t.nextID++
		ack.ServerID = &id
	}

	line, err := json.Marshal(pushEntry{At: time.Now().UTC(), Op: op.String(), ServerID: ack.ServerID, Record: rec})
	if err != nil {
		return engine.PushAck{}, fmt.Errorf("encode push %s: %w", rec.LocalID, err)
	}
	f, err := os.OpenFile(filepath.Join(t.dir, pushLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return engine.PushAck{}, fmt.Errorf("open push log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return engine.PushAck{}, fmt.Errorf("write push log: %w", err)
	}
	return ack, nil
}

func (t *Transport) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(t.dir, offlineMarker)); err == nil {
		return ErrOffline
	}
	return nil
}

func inScope(item, scope model.ScopeKeys) bool {
	if item.IncidentID != 0 && item.IncidentID != scope.IncidentID {
		return false
	}
	if item.CollabroomID != 0 && item.CollabroomID != scope.CollabroomID {
		return false
	}
	return true
}
