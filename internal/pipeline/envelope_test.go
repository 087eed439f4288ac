package pipeline

import "testing"

func TestMarshalUnmarshalEnvelopeRoundTrip(t *testing.T) {
	target := "aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa11aa1"
	response := "bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb22bb2"

	raw, err := marshalEnvelope(target, response, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}

	env, err := unmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}
	if env.Target != target || env.Response != response {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if string(env.Payload) != `{"n":1}` {
		t.Fatalf("Payload = %s, want {\"n\":1}", env.Payload)
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := unmarshalEnvelope("not json"); err == nil {
		t.Fatal("unmarshalEnvelope(garbage) expected error, got nil")
	}
}
