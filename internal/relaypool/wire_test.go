package relaypool

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func frameLabel(t *testing.T, frame []byte) string {
	t.Helper()
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		t.Fatalf("unmarshal label: %v", err)
	}
	return label
}

func TestParseInboundEvent(t *testing.T) {
	raw := []byte(`["EVENT","sub1",{"id":"abc","pubkey":"def","created_at":1700000000,"kind":30072,"tags":[],"content":"hello","sig":"sig"}]`)
	kind, payload, err := parseInbound(raw)
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	if kind != "EVENT" {
		t.Fatalf("kind = %q, want EVENT", kind)
	}
	ev, ok := payload.(inboundEvent)
	if !ok {
		t.Fatalf("payload type = %T, want inboundEvent", payload)
	}
	if ev.SubID != "sub1" || ev.Event.ID != "abc" || ev.Event.Content != "hello" {
		t.Fatalf("unexpected decode: %+v", ev)
	}
}

func TestParseInboundOK(t *testing.T) {
	raw := []byte(`["OK","evtid",true,"accepted"]`)
	kind, payload, err := parseInbound(raw)
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	if kind != "OK" {
		t.Fatalf("kind = %q, want OK", kind)
	}
	ok := payload.(inboundOK)
	if ok.EventID != "evtid" || !ok.Accepted || ok.Message != "accepted" {
		t.Fatalf("unexpected decode: %+v", ok)
	}
}

func TestParseInboundEOSEAndClosedAndNotice(t *testing.T) {
	cases := []struct {
		raw  string
		kind string
	}{
		{`["EOSE","sub1"]`, "EOSE"},
		{`["CLOSED","sub1","reason"]`, "CLOSED"},
		{`["NOTICE","hello"]`, "NOTICE"},
	}
	for _, c := range cases {
		kind, _, err := parseInbound([]byte(c.raw))
		if err != nil {
			t.Fatalf("parseInbound(%s): %v", c.raw, err)
		}
		if kind != c.kind {
			t.Fatalf("kind = %q, want %q", kind, c.kind)
		}
	}
}

func TestParseInboundMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`[]`,
		`["EVENT","onlyonearg"]`,
		`["BOGUS","x"]`,
	}
	for _, c := range cases {
		if _, _, err := parseInbound([]byte(c)); err == nil {
			t.Fatalf("parseInbound(%s): expected error, got nil", c)
		}
	}
}

func TestEncodeEventReqClose(t *testing.T) {
	ev := &nostr.Event{ID: "abc", Kind: 30072, Content: "hi"}
	frame, err := encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if string(frame) == "" {
		t.Fatal("encodeEvent: empty frame")
	}

	filters := nostr.Filters{{Kinds: []int{30072}}}
	frame, err = encodeReq("sub1", filters)
	if err != nil {
		t.Fatalf("encodeReq: %v", err)
	}
	if got := frameLabel(t, frame); got != "REQ" {
		t.Fatalf("label = %q, want REQ", got)
	}

	frame, err = encodeClose("sub1")
	if err != nil {
		t.Fatalf("encodeClose: %v", err)
	}
	if got := frameLabel(t, frame); got != "CLOSE" {
		t.Fatalf("label = %q, want CLOSE", got)
	}
}
