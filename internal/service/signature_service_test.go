package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.CanonicalPayload(1708092000, []byte(`{"state":"SETTLED"}`))

	signature := svc.Sign("callback-secret", payload)

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature)
	assert.True(t, svc.Verify("callback-secret", payload, signature))
}

func TestHMACSignatureService_VerifyFailures(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.CanonicalPayload(1, []byte("body"))
	signature := svc.Sign("key", payload)

	tests := []struct {
		name      string
		key       string
		payload   string
		signature string
	}{
		{"wrong key", "other", payload, signature},
		{"tampered payload", "key", svc.CanonicalPayload(1, []byte("body2")), signature},
		{"replayed with new timestamp", "key", svc.CanonicalPayload(2, []byte("body")), signature},
		{"garbage signature", "key", payload, "deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, svc.Verify(tt.key, tt.payload, tt.signature))
		})
	}
}

func TestHMACSignatureService_CanonicalPayload(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.Equal(t, `42.{"a":1}`, svc.CanonicalPayload(42, []byte(`{"a":1}`)))
}
