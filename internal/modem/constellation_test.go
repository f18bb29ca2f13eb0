package modem

import (
	"testing"

	"pgregory.net/rapid"
)

func TestQPSK_MapDemap(t *testing.T) {
	for _, l := range []Labeling{LabelingSign, LabelingQAM} {
		c := NewConstellation(l)

		for i := 0; i < 4; i++ {
			bits := indexToBits(i, 2)
			symbol := c.Map(bits)
			recovered := c.Demap(symbol)

			for j := range bits {
				if bits[j] != recovered[j] {
					t.Errorf("%v point %d: bit %d mismatch: %d != %d", l, i, j, bits[j], recovered[j])
				}
			}
		}
	}
}

func TestQPSK_SignLabeling(t *testing.T) {
	c := NewConstellation(LabelingSign)

	tests := []struct {
		symbol complex128
		bits   []byte
	}{
		{complex(0.7, 0.2), []byte{0, 0}},
		{complex(0.7, -0.2), []byte{0, 1}},
		{complex(-0.7, 0.2), []byte{1, 0}},
		{complex(-0.7, -0.2), []byte{1, 1}},
		{0, []byte{1, 1}},
		{complex(0, 1), []byte{1, 0}},
	}
	for _, tt := range tests {
		got := c.Demap(tt.symbol)
		if got[0] != tt.bits[0] || got[1] != tt.bits[1] {
			t.Errorf("Demap(%v) = %v, want %v", tt.symbol, got, tt.bits)
		}
	}
}

func TestQPSK_QAMLabeling(t *testing.T) {
	c := NewConstellation(LabelingQAM)

	want := map[complex128][]byte{
		complex(-1, -1): {0, 0},
		complex(-1, 1):  {0, 1},
		complex(1, 1):   {1, 0},
		complex(1, -1):  {1, 1},
	}
	for symbol, bits := range want {
		got := c.Demap(symbol * 0.3)
		if got[0] != bits[0] || got[1] != bits[1] {
			t.Errorf("Demap(%v) = %v, want %v", symbol, got, bits)
		}
	}
}

func TestConstellation_MapBits_DemapSymbols(t *testing.T) {
	c := NewConstellation(LabelingSign)

	bits := []byte{1, 0, 1, 1, 0, 0, 1, 0, 1, 1, 0, 0}
	symbols := c.MapBits(bits)
	recovered := c.DemapSymbols(symbols)

	if len(recovered) != len(bits) {
		t.Fatalf("length mismatch: %d != %d", len(recovered), len(bits))
	}

	for i := range bits {
		if bits[i] != recovered[i] {
			t.Errorf("bit %d: %d != %d", i, bits[i], recovered[i])
		}
	}
}

func TestDemapSymbols_SignRule(t *testing.T) {
	c := NewConstellation(LabelingSign)
	rapid.Check(t, func(t *rapid.T) {
		re := rapid.Float64Range(-10, 10).Draw(t, "re")
		im := rapid.Float64Range(-10, 10).Draw(t, "im")

		bits := c.DemapSymbols([]complex128{complex(re, im)})
		var wantI, wantQ byte = 1, 1
		if re > 0 {
			wantI = 0
		}
		if im > 0 {
			wantQ = 0
		}
		if bits[0] != wantI || bits[1] != wantQ {
			t.Fatalf("(%v, %v) demapped to %v, want [%d %d]", re, im, bits, wantI, wantQ)
		}
	})
}

func TestParseLabeling(t *testing.T) {
	tests := []struct {
		in      string
		want    Labeling
		wantErr bool
	}{
		{"sign", LabelingSign, false},
		{"", LabelingSign, false},
		{"QAM", LabelingQAM, false},
		{" qam4 ", LabelingQAM, false},
		{"psk8", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLabeling(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLabeling(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLabeling(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBitsToIndex_IndexToBits(t *testing.T) {
	tests := []struct {
		idx     int
		numBits int
	}{
		{0, 2},
		{1, 2},
		{2, 2},
		{3, 2},
		{5, 4},
		{15, 4},
	}

	for _, tt := range tests {
		bits := indexToBits(tt.idx, tt.numBits)
		idx := bitsToIndex(bits)

		if idx != tt.idx {
			t.Errorf("roundtrip failed for idx=%d: got %d", tt.idx, idx)
		}
	}
}
