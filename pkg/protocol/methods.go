package protocol

// Request methods a WebSocket client may send. Everything else on /ws is
// server-pushed events.
const (
	MethodHealth      = "health"
	MethodTurnsList   = "turns.list"
	MethodTargetsList = "targets.list"
)

// RequestFrame is a client call over /ws.
type RequestFrame struct {
	Type   string         `json:"type"` // "req"
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// ResponseFrame answers a RequestFrame with the same ID.
type ResponseFrame struct {
	Type    string `json:"type"` // "res"
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{Type: "res", ID: id, OK: true, Payload: payload}
}

func NewErrorResponse(id, msg string) *ResponseFrame {
	return &ResponseFrame{Type: "res", ID: id, OK: false, Error: msg}
}
