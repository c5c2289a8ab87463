package vectorstore_test

import (
	"testing"

	"github.com/falabr/ouvidoria-agent/vectorstore"
)

func TestChunkIDDeterministic(t *testing.T) {
	a := vectorstore.ChunkID("Manual", "Manual > Denúncias", 0)
	b := vectorstore.ChunkID("Manual", "Manual > Denúncias", 0)
	if a != b {
		t.Fatal("same inputs produced different ids")
	}
}

func TestChunkIDDistinguishesInputs(t *testing.T) {
	base := vectorstore.ChunkID("Manual", "Manual > Denúncias", 0)
	cases := map[string]struct {
		document   string
		breadcrumb string
		index      int
	}{
		"different document":   {"Outro", "Manual > Denúncias", 0},
		"different breadcrumb": {"Manual", "Manual > Elogios", 0},
		"different index":      {"Manual", "Manual > Denúncias", 1},
	}
	for name, tc := range cases {
		if got := vectorstore.ChunkID(tc.document, tc.breadcrumb, tc.index); got == base {
			t.Errorf("%s: id collided with base", name)
		}
	}
}
