package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)

	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("host-%d", i))
	}
	for i := 0; i < 1000; i++ {
		if !f.ContainsString(fmt.Sprintf("host-%d", i)) {
			t.Fatalf("added value host-%d reported absent", i)
		}
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("host-%d", i))
	}

	falsePositives := 0
	probes := 10000
	for i := 0; i < probes; i++ {
		if f.ContainsString(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}

	// Target is 1%; allow generous slack for hash variance.
	rate := float64(falsePositives) / float64(probes)
	if rate > 0.05 {
		t.Errorf("false positive rate %.4f exceeds 0.05", rate)
	}
}

func TestFilter_SerializeRoundTrip(t *testing.T) {
	f := NewWithEstimates(100, 0.01)
	f.AddString("boston")
	f.AddString("austin")

	restored, err := Deserialize(f.Serialize())
	if err != nil {
		t.Fatal(err)
	}
	if !restored.ContainsString("boston") || !restored.ContainsString("austin") {
		t.Error("restored filter lost membership")
	}
	if restored.Count() != 2 {
		t.Errorf("expected count 2, got %d", restored.Count())
	}
}

func TestDeserialize_Invalid(t *testing.T) {
	if _, err := Deserialize([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated data")
	}
}
