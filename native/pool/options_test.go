package pool

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseLoanOptions(t *testing.T) {
	blob := append(tlv(optionTagWrapperContext, []byte{0x01, 0x02}), tlv(optionTagDelegateV1, testDelegate.Bytes())...)
	blob = append(blob, tlv(999, []byte{0xff, 0xff})...) // unknown tag, skipped
	opts, err := parseLoanOptions(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(opts.wrapperContext, []byte{0x01, 0x02}) {
		t.Fatalf("wrapper context = %x", opts.wrapperContext)
	}
	if opts.delegateV1 == nil || *opts.delegateV1 != testDelegate {
		t.Fatalf("delegate v1 = %v", opts.delegateV1)
	}
	if opts.delegateV2 != nil {
		t.Fatalf("unexpected delegate v2")
	}
	delegation := opts.delegation()
	if delegation == nil || delegation.Version != 1 || delegation.Delegate != testDelegate {
		t.Fatalf("delegation = %+v", delegation)
	}
}

func TestParseLoanOptionsPrecedence(t *testing.T) {
	blob := append(tlv(optionTagDelegateV1, testDelegate.Bytes()), tlv(optionTagDelegateV2, testLender1.Bytes())...)
	opts, err := parseLoanOptions(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	delegation := opts.delegation()
	if delegation == nil || delegation.Version != 2 || delegation.Delegate != testLender1 {
		t.Fatalf("v2 must take precedence, got %+v", delegation)
	}
}

func TestParseLoanOptionsRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		{0x00},                          // truncated record header
		{0x00, 0x01, 0x00, 0x05, 0x01}, // declared length beyond the blob
		tlv(optionTagDelegateV1, []byte{0x01, 0x02}), // delegate not 20 bytes
	}
	for i, blob := range cases {
		if _, err := parseLoanOptions(blob); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("case %d: err = %v, want ErrInvalidParameters", i, err)
		}
	}
}

func TestParseLoanOptionsEmpty(t *testing.T) {
	opts, err := parseLoanOptions(nil)
	if err != nil {
		t.Fatalf("parse nil: %v", err)
	}
	if opts.delegation() != nil || opts.wrapperContext != nil || opts.merkleProof != nil {
		t.Fatalf("empty options must decode to nothing")
	}
}
