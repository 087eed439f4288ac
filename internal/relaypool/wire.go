package relaypool

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// inboundEvent is a parsed ["EVENT", subID, event] frame.
type inboundEvent struct {
	SubID string
	Event *nostr.Event
}

// inboundOK is a parsed ["OK", eventID, accepted, message] frame.
type inboundOK struct {
	EventID  string
	Accepted bool
	Message  string
}

// inboundEOSE is a parsed ["EOSE", subID] frame.
type inboundEOSE struct {
	SubID string
}

// inboundClosed is a parsed ["CLOSED", subID, message] frame.
type inboundClosed struct {
	SubID   string
	Message string
}

// inboundNotice is a parsed ["NOTICE", message] frame.
type inboundNotice struct {
	Message string
}

// parseInbound decodes a relay->client frame. Unknown kinds and parse
// failures are reported via the error return so the caller can log and
// drop without killing the connection, per spec.
func parseInbound(raw []byte) (kind string, payload interface{}, err error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}

	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return "", nil, fmt.Errorf("malformed frame label: %w", err)
	}

	switch kind {
	case "EVENT":
		if len(parts) != 3 {
			return kind, nil, fmt.Errorf("EVENT frame: want 3 parts, got %d", len(parts))
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return kind, nil, fmt.Errorf("EVENT frame: bad subscription id: %w", err)
		}
		var ev nostr.Event
		if err := json.Unmarshal(parts[2], &ev); err != nil {
			return kind, nil, fmt.Errorf("EVENT frame: bad event: %w", err)
		}
		return kind, inboundEvent{SubID: subID, Event: &ev}, nil

	case "OK":
		if len(parts) != 4 {
			return kind, nil, fmt.Errorf("OK frame: want 4 parts, got %d", len(parts))
		}
		var id, msg string
		var ok bool
		if err := json.Unmarshal(parts[1], &id); err != nil {
			return kind, nil, fmt.Errorf("OK frame: bad event id: %w", err)
		}
		if err := json.Unmarshal(parts[2], &ok); err != nil {
			return kind, nil, fmt.Errorf("OK frame: bad accepted flag: %w", err)
		}
		_ = json.Unmarshal(parts[3], &msg)
		return kind, inboundOK{EventID: id, Accepted: ok, Message: msg}, nil

	case "EOSE":
		if len(parts) != 2 {
			return kind, nil, fmt.Errorf("EOSE frame: want 2 parts, got %d", len(parts))
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return kind, nil, fmt.Errorf("EOSE frame: bad subscription id: %w", err)
		}
		return kind, inboundEOSE{SubID: subID}, nil

	case "CLOSED":
		if len(parts) != 3 {
			return kind, nil, fmt.Errorf("CLOSED frame: want 3 parts, got %d", len(parts))
		}
		var subID, msg string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return kind, nil, fmt.Errorf("CLOSED frame: bad subscription id: %w", err)
		}
		_ = json.Unmarshal(parts[2], &msg)
		return kind, inboundClosed{SubID: subID, Message: msg}, nil

	case "NOTICE":
		if len(parts) != 2 {
			return kind, nil, fmt.Errorf("NOTICE frame: want 2 parts, got %d", len(parts))
		}
		var msg string
		_ = json.Unmarshal(parts[1], &msg)
		return kind, inboundNotice{Message: msg}, nil

	default:
		return kind, nil, fmt.Errorf("unrecognized frame kind %q", kind)
	}
}

// encodeEvent builds an outbound ["EVENT", event] frame.
func encodeEvent(ev *nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", ev})
}

// encodeReq builds an outbound ["REQ", subID, filter...] frame.
func encodeReq(subID string, filters nostr.Filters) ([]byte, error) {
	parts := make([]interface{}, 0, len(filters)+2)
	parts = append(parts, "REQ", subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return json.Marshal(parts)
}

// encodeClose builds an outbound ["CLOSE", subID] frame.
func encodeClose(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}
