package apperr

import (
	"errors"
	"testing"
)

func TestRefundQuotaFlags(t *testing.T) {
	cases := []struct {
		name   string
		err    *Error
		refund bool
	}{
		{"quota exhausted", QuotaExhausted(), false},
		{"store transient", StoreTransient(errors.New("boom")), true},
		{"analysis timeout", AnalysisTimeout(), true},
		{"analysis error", AnalysisError(errors.New("502")), true},
		{"duplicate upload", DuplicateUpload("ANL-20260731-abc12345"), false},
	}

	for _, c := range cases {
		if c.err.RefundQuota != c.refund {
			t.Errorf("%s: RefundQuota = %v, want %v", c.name, c.err.RefundQuota, c.refund)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := AnalysisError(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestAs(t *testing.T) {
	var err error = QuotaExhausted()
	ae, ok := As(err)
	if !ok {
		t.Fatal("expected As to succeed")
	}
	if ae.Code != CodeQuotaExhausted {
		t.Errorf("Code = %q, want %q", ae.Code, CodeQuotaExhausted)
	}
}
