package payment

import (
	"encoding/json"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := Sign("sk_test", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
		want   bool
	}{
		{name: "valid", secret: "sk_test", body: body, sig: sig, want: true},
		{name: "tampered body", secret: "sk_test", body: []byte(`{"event":"charge.failed"}`), sig: sig},
		{name: "wrong secret", secret: "sk_other", body: body, sig: sig},
		{name: "empty signature", secret: "sk_test", body: body},
		{name: "not hex", secret: "sk_test", body: body, sig: "zz"},
		{name: "empty secret", body: body, sig: Sign("", body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.sig); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventData_UserID(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		want     string
	}{
		{name: "object", metadata: `{"userId":"u-1"}`, want: "u-1"},
		{name: "stringified", metadata: `"{\"userId\":\"u-2\"}"`, want: "u-2"},
		{name: "missing", metadata: `{}`},
		{name: "empty string", metadata: `""`},
		{name: "absent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EventData{}
			if tt.metadata != "" {
				d.Metadata = json.RawMessage(tt.metadata)
			}
			if got := d.UserID(); got != tt.want {
				t.Errorf("UserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"charge.success","data":{"reference":"r1","amount":500000,"currency":"NGN","metadata":{"userId":"u"}}}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.Data.Reference != "r1" || ev.Data.Amount != 500000 || ev.Data.UserID() != "u" {
		t.Errorf("event = %+v", ev)
	}
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Error("ParseEvent(invalid) error = nil")
	}
	if _, err := ParseEvent([]byte(`{}`)); err == nil {
		t.Error("ParseEvent(no type) error = nil")
	}
}
