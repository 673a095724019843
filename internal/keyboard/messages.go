package keyboard

// Message types exchanged with browser clients over /ws.
const (
	MessageTypeAuth        = "auth"
	MessageTypeKeyDown     = "keydown"
	MessageTypeKeyUp       = "keyup"
	MessageTypeAuthSuccess = "auth_success"
	MessageTypeAuthFailed  = "auth_failed"
	MessageTypeAck         = "ack"
	MessageTypeError       = "error"
)

// InboundMessage is any message a browser sends. Only the fields relevant
// to Type are set.
type InboundMessage struct {
	Type      string   `json:"type"`
	Code      string   `json:"code,omitempty"`
	Key       string   `json:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// OutboundMessage is any message the server sends.
type OutboundMessage struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"message,omitempty"`
}

func authSuccess() OutboundMessage { return OutboundMessage{Type: MessageTypeAuthSuccess} }

func authFailed() OutboundMessage { return OutboundMessage{Type: MessageTypeAuthFailed} }

func ack(key string) OutboundMessage { return OutboundMessage{Type: MessageTypeAck, Key: key} }

func errorMessage(code, message string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeError, Code: code, Message: message}
}
