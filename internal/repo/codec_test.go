package repo

import (
	"strings"
	"testing"

	"github.com/LeventeLantos/message-oven/internal/model"
)

func TestEncodeBlob_WritesVersionedEnvelope(t *testing.T) {
	s, err := encodeBlob[string](nil)
	if err != nil {
		t.Fatalf("encodeBlob() error: %v", err)
	}
	if s != `{"v":1,"items":[]}` {
		t.Fatalf("unexpected encoding %q", s)
	}
}

func TestDecodeBlob_AcceptsLegacyArray(t *testing.T) {
	legacy := `[{"number":"11987654321","template":"promo","language":"pt_BR","components":[{"type":"header","parameters":[{"type":"image","image":{"id":"m1"}}]}]}]`

	msgs, err := decodeBlob[model.PendingMessage](legacy)
	if err != nil {
		t.Fatalf("decodeBlob() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Template != "promo" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if img, ok := msgs[0].Components[0].Parameters[0].(model.ImageParameter); !ok || img.MediaID != "m1" {
		t.Fatalf("unexpected component %+v", msgs[0].Components[0])
	}
}

func TestDecodeBlob_Empty(t *testing.T) {
	items, err := decodeBlob[string]("  ")
	if err != nil || items != nil {
		t.Fatalf("expected nil, nil; got %v, %v", items, err)
	}
}

func TestDecodeBlob_RejectsFutureVersion(t *testing.T) {
	_, err := decodeBlob[string](`{"v":2,"items":["x"]}`)
	if err == nil || !strings.Contains(err.Error(), "unsupported blob version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestDecodeBlob_RejectsGarbage(t *testing.T) {
	if _, err := decodeBlob[string](`not json`); err == nil {
		t.Fatalf("expected decode error")
	}
}
