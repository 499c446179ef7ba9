package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/flak3dd/manifold/api/schemas"
)

// trafficRingCap bounds the per-session traffic log. When full, each new
// entry evicts the oldest one.
const trafficRingCap = 2000

const (
	archiveVersion = "1.0"
	creatorName    = "manifold"
	creatorVersion = "0.3.0"
)

// pendingRequest tracks one request leg between its willBeSent event and
// the loadingFinished or loadingFailed event that completes it.
type pendingRequest struct {
	entry     schemas.TrafficEntry
	startMono *cdp.MonotonicTime
}

// TrafficCollector pairs raw CDP network lifecycle events into completed
// TrafficEntry records. The bounded ring keeps a chatty page from growing
// a session's memory without limit, and the most recent main-document
// response is tracked separately so navigations can report their status.
type TrafficCollector struct {
	mu      sync.Mutex
	pending map[network.RequestID]*pendingRequest
	ring    []schemas.TrafficEntry
	head    int
	count   int
	evicted uint64

	startedAt time.Time

	docURL    string
	docStatus int
}

func NewTrafficCollector() *TrafficCollector {
	return &TrafficCollector{
		pending:   make(map[network.RequestID]*pendingRequest),
		ring:      make([]schemas.TrafficEntry, trafficRingCap),
		startedAt: time.Now().UTC(),
	}
}

// HandleEvent consumes one CDP event. Non-network events are ignored so
// the collector can sit directly on an unfiltered target listener.
func (c *TrafficCollector) HandleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.onRequest(e)
	case *network.EventResponseReceived:
		c.onResponse(e)
	case *network.EventLoadingFinished:
		c.onFinished(e)
	case *network.EventLoadingFailed:
		c.onFailed(e)
	}
}

func (c *TrafficCollector) onRequest(e *network.EventRequestWillBeSent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A redirect reuses the request ID. The previous leg completes here
	// with the redirect response, and a fresh leg starts for the new URL.
	if prev, ok := c.pending[e.RequestID]; ok && e.RedirectResponse != nil {
		prev.entry.Status = int(e.RedirectResponse.Status)
		prev.entry.ResponseHeaders = flattenHeaders(e.RedirectResponse.Headers)
		prev.entry.MimeType = e.RedirectResponse.MimeType
		prev.entry.ElapsedMs = elapsedMs(prev.startMono, e.Timestamp)
		c.appendLocked(prev.entry)
		delete(c.pending, e.RequestID)
	}

	c.pending[e.RequestID] = &pendingRequest{
		entry: schemas.TrafficEntry{
			Timestamp:      wallTime(e.WallTime),
			Method:         e.Request.Method,
			URL:            e.Request.URL,
			RequestHeaders: flattenHeaders(e.Request.Headers),
		},
		startMono: e.Timestamp,
	}
}

func (c *TrafficCollector) onResponse(e *network.EventResponseReceived) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Type == network.ResourceTypeDocument {
		c.docURL = e.Response.URL
		c.docStatus = int(e.Response.Status)
	}

	p, ok := c.pending[e.RequestID]
	if !ok {
		return
	}
	p.entry.Status = int(e.Response.Status)
	p.entry.ResponseHeaders = flattenHeaders(e.Response.Headers)
	p.entry.MimeType = e.Response.MimeType
}

func (c *TrafficCollector) onFinished(e *network.EventLoadingFinished) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[e.RequestID]
	if !ok {
		return
	}
	delete(c.pending, e.RequestID)
	p.entry.BodySize = int64(e.EncodedDataLength)
	p.entry.ElapsedMs = elapsedMs(p.startMono, e.Timestamp)
	c.appendLocked(p.entry)
}

func (c *TrafficCollector) onFailed(e *network.EventLoadingFailed) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[e.RequestID]
	if !ok {
		return
	}
	delete(c.pending, e.RequestID)
	// Failed exchanges keep their zero status so the log still shows the
	// attempt happened.
	p.entry.ElapsedMs = elapsedMs(p.startMono, e.Timestamp)
	c.appendLocked(p.entry)
}

func (c *TrafficCollector) appendLocked(entry schemas.TrafficEntry) {
	if c.count < trafficRingCap {
		c.ring[(c.head+c.count)%trafficRingCap] = entry
		c.count++
		return
	}
	c.ring[c.head] = entry
	c.head = (c.head + 1) % trafficRingCap
	c.evicted++
}

// Len reports how many completed entries are held.
func (c *TrafficCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Evicted reports how many entries the ring has dropped since start.
func (c *TrafficCollector) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Snapshot returns the held entries, oldest first.
func (c *TrafficCollector) Snapshot() []schemas.TrafficEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *TrafficCollector) snapshotLocked() []schemas.TrafficEntry {
	out := make([]schemas.TrafficEntry, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.ring[(c.head+i)%trafficRingCap]
	}
	return out
}

// Archive packages the current snapshot for export.
func (c *TrafficCollector) Archive() *schemas.TrafficArchive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &schemas.TrafficArchive{
		Version:   archiveVersion,
		Creator:   schemas.Creator{Name: creatorName, Version: creatorVersion},
		StartedAt: c.startedAt,
		Entries:   c.snapshotLocked(),
	}
}

// Document reports the URL and status of the most recent main-document
// response; zero values before any navigation commits.
func (c *TrafficCollector) Document() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docURL, c.docStatus
}

func wallTime(t *cdp.TimeSinceEpoch) time.Time {
	if t == nil {
		return time.Now().UTC()
	}
	return t.Time().UTC()
}

// elapsedMs works on the monotonic pair so wall clock adjustments cannot
// skew request durations; anything negative clamps to zero.
func elapsedMs(start, end *cdp.MonotonicTime) float64 {
	if start == nil || end == nil {
		return 0
	}
	ms := float64(end.Time().Sub(start.Time())) / float64(time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}
