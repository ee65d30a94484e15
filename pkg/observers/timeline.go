package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/asrbridge/pkg/frames"
	"github.com/harunnryd/asrbridge/pkg/metrics"
	"github.com/harunnryd/asrbridge/pkg/redact"
)

// TimelineObserver writes one JSONL trace per recognizer connection, named
// after its conn_id. A trace file is opened by the handshake event and closed
// by the event that ends the connection; events without a conn_id, or
// arriving for a connection that already ended, are ignored.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Tags == nil || strings.TrimSpace(o.dir) == "" {
		return
	}
	connID := ev.Tags[frames.MetaConnID]
	if connID == "" {
		return
	}
	entry := timelineEntry{
		Time:   ev.Time.UTC(),
		Event:  ev.Name,
		ConnID: connID,
		Tags:   withoutKey(ev.Tags, frames.MetaConnID),
		Fields: redactFields(ev.Fields),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	opens := ev.Name == metrics.EventConnect || ev.Name == metrics.EventConnectError
	o.mu.Lock()
	defer o.mu.Unlock()
	safe := sanitizeID(connID)
	f := o.fileForLocked(safe, opens)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	if metrics.EndsConnection(ev.Name) {
		_ = f.Close()
		delete(o.files, safe)
	}
}

// OpenFiles reports how many trace files are currently held open.
func (o *TimelineObserver) OpenFiles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.files)
}

// Flush syncs every open timeline file.
func (o *TimelineObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		err = errors.Join(err, f.Sync())
	}
	return err
}

// Close closes any open files.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

type timelineEntry struct {
	Time   time.Time         `json:"time"`
	Event  string            `json:"event"`
	ConnID string            `json:"conn_id"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func (o *TimelineObserver) fileForLocked(safe string, create bool) *os.File {
	if safe == "" {
		return nil
	}
	if f := o.files[safe]; f != nil {
		return f
	}
	if !create {
		return nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, safe+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[safe] = f
	return f
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func withoutKey(in map[string]string, key string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k != key {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func redactFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
