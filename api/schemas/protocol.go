package schemas

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Wire codec shared by everything that touches protocol frames.
var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound message kinds.
const (
	KindPing          = "ping"
	KindNavigate      = "navigate"
	KindScreenshot    = "screenshot"
	KindExecute       = "execute"
	KindClick         = "click"
	KindType          = "type"
	KindScroll        = "scroll"
	KindExtract       = "extract"
	KindTrafficExport = "traffic_export"
	KindStop          = "stop"
	KindScrapeForm    = "scrape_form"
	KindLoginStart    = "login_start"
	KindLoginPause    = "login_pause"
	KindLoginResume   = "login_resume"
	KindLoginAbort    = "login_abort"
)

// Outbound message kinds.
const (
	KindReady            = "ready"
	KindPong             = "pong"
	KindNavigateDone     = "navigate_done"
	KindExecuteResult    = "execute_result"
	KindLog              = "log"
	KindExtractResult    = "extract_result"
	KindStopped          = "stopped"
	KindError            = "error"
	KindEntropy          = "entropy"
	KindScrapeFormResult = "scrape_form_result"
	KindLoginError       = "login_error"
)

// ClientMessage is a decoded inbound frame. The protocol is a flat tagged
// union: Type selects the kind and the remaining fields are populated only
// for the kinds that use them.
type ClientMessage struct {
	Type     string    `json:"type"`
	URL      string    `json:"url,omitempty"`
	Script   string    `json:"script,omitempty"`
	Selector string    `json:"selector,omitempty"`
	Text     string    `json:"text,omitempty"`
	DeltaY   float64   `json:"deltaY,omitempty"`
	Timeout  int       `json:"timeout,omitempty"`
	Run      *LoginRun `json:"run,omitempty"`
	Profiles []Profile `json:"profiles,omitempty"`
	Proxies  []Proxy   `json:"proxies,omitempty"`
}

// ServerMessage is an outbound frame. Marshaled with omitempty so each kind
// carries only its own payload fields.
type ServerMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId,omitempty"`
	Port      int               `json:"port,omitempty"`
	URL       string            `json:"url,omitempty"`
	Status    int               `json:"status,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Value     json.RawMessage   `json:"value,omitempty"`
	Level     string            `json:"level,omitempty"`
	Message   string            `json:"message,omitempty"`
	Items     []string          `json:"items,omitempty"`
	Log       json.RawMessage   `json:"log,omitempty"`
	Error     string            `json:"error,omitempty"`
	Result    *FormScrapeResult `json:"result,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
}

// DecodeClientMessage parses one inbound frame. A frame without a type tag
// is malformed even if it is valid JSON.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := wire.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("malformed frame: missing type tag")
	}
	return &msg, nil
}

// EncodeServerMessage marshals one outbound frame.
func EncodeServerMessage(msg *ServerMessage) ([]byte, error) {
	return wire.Marshal(msg)
}

// MarshalJSONValue renders v through the wire codec, for payload fields
// carried as raw JSON (entropy snapshots, traffic archives, script results).
func MarshalJSONValue(v interface{}) (json.RawMessage, error) {
	b, err := wire.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// maxErrorLen caps the error text carried on a frame; handler failures can
// wrap multi-kilobyte browser stack dumps.
const maxErrorLen = 500

// TruncateError renders err safely for an error frame.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen] + "..."
	}
	return msg
}

// ErrorFrame builds the standard error reply for a session-scoped failure.
func ErrorFrame(sessionID string, err error) *ServerMessage {
	return &ServerMessage{
		Type:      KindError,
		SessionID: sessionID,
		Error:     TruncateError(err),
	}
}
