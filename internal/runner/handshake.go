package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReadyStatus is the status value a server reports once it is listening.
const ReadyStatus = "ready"

// ReadyMessage is the decoded readiness record.
type ReadyMessage struct {
	Status string
	Port   int
}

type readyWire struct {
	Status string `json:"status"`
	Port   *int   `json:"port"`
}

// ParseReady decodes one readiness line. Any line that is not a JSON object
// with status "ready" and a port in 1..65535 yields ErrUnexpectedReadySignal
// with the raw content attached.
func ParseReady(line string) (ReadyMessage, error) {
	raw := strings.TrimRight(line, "\r\n")

	var wire readyWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return ReadyMessage{}, &StartError{Kind: ErrUnexpectedReadySignal, Detail: raw, Err: err}
	}
	if wire.Status != ReadyStatus {
		return ReadyMessage{}, &StartError{Kind: ErrUnexpectedReadySignal, Detail: raw}
	}
	if wire.Port == nil {
		return ReadyMessage{}, &StartError{Kind: ErrUnexpectedReadySignal, Detail: raw, Err: fmt.Errorf("port missing")}
	}
	if *wire.Port < 1 || *wire.Port > 65535 {
		return ReadyMessage{}, &StartError{Kind: ErrUnexpectedReadySignal, Detail: raw, Err: fmt.Errorf("port %d out of range", *wire.Port)}
	}
	return ReadyMessage{Status: wire.Status, Port: *wire.Port}, nil
}
