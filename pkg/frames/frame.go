package frames

import (
	"strconv"
	"sync"
	"time"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindText  Kind = "text"
)

// Source classifies which speaker an audio frame came from.
type Source int

const (
	SourcePrimary Source = iota
	SourceOther
)

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceOther:
		return "other"
	default:
		return "unknown"
	}
}

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame is one chunk of PCM16 little-endian audio as delivered by the host.
type AudioFrame struct {
	pts    int64
	data   []byte
	rate   int
	ch     int
	source Source
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, source Source, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:    pts,
		data:   data,
		rate:   rate,
		ch:     ch,
		source: source,
		meta:   mergeMeta(streamID, meta),
	}
}

func NewAudioFrameFromPool(streamID string, pts int64, data []byte, rate, ch int, source Source, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		pts:    pts,
		data:   buf,
		rate:   rate,
		ch:     ch,
		source: source,
		meta:   mergeMeta(streamID, meta),
		pooled: true,
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Source() Source          { return a.source }
func (a AudioFrame) Empty() bool             { return len(a.data) == 0 }

// WithSource returns a copy of the frame tagged with the given source.
func (a AudioFrame) WithSource(source Source) AudioFrame {
	a.source = source
	a.meta = cloneMeta(a.meta)
	a.meta[MetaSource] = source.String()
	return a
}

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		if ap, ok := f.(*AudioFrame); ok {
			af = *ap
		} else {
			return false
		}
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

// TextFrame carries one transcript fragment. End of segment always mirrors finality.
type TextFrame struct {
	pts   int64
	text  string
	final bool
	meta  map[string]string
}

func NewTextFrame(streamID string, pts int64, text string, meta map[string]string) TextFrame {
	m := mergeMeta(streamID, meta)
	final := m[MetaIsFinal] == "true"
	m[MetaIsFinal] = strconv.FormatBool(final)
	m[MetaEndOfSegment] = strconv.FormatBool(final)
	return TextFrame{
		pts:   pts,
		text:  text,
		final: final,
		meta:  m,
	}
}

func NewTranscriptFrame(streamID string, pts int64, text string, final bool, meta map[string]string) TextFrame {
	m := cloneMeta(meta)
	m[MetaIsFinal] = strconv.FormatBool(final)
	return NewTextFrame(streamID, pts, text, m)
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) PTS() int64              { return t.pts }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }
func (t TextFrame) IsFinal() bool           { return t.final }
func (t TextFrame) EndOfSegment() bool      { return t.final }
func (t TextFrame) StreamID() string        { return t.meta[MetaStreamID] }

// WithStreamID returns a copy stamped with a different stream id.
func (t TextFrame) WithStreamID(streamID string) TextFrame {
	t.meta = cloneMeta(t.meta)
	if streamID == "" {
		delete(t.meta, MetaStreamID)
	} else {
		t.meta[MetaStreamID] = streamID
	}
	return t
}

type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + time.Millisecond.Nanoseconds()
	g.value[streamID] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
