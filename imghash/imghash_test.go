package imghash

import "testing"

func TestSumDeterministic(t *testing.T) {
	data := []byte("the same image bytes")

	first := Sum(data)
	second := Sum(data)

	if first != second {
		t.Errorf("Expected identical digests for identical bytes, got %s and %s", first, second)
	}
}

func TestSumKnownValue(t *testing.T) {
	// sha256("") is a fixed vector; guards against accidentally
	// mixing anything but content into the digest
	got := Sum([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	if got != want {
		t.Errorf("Sum(empty) = %s, want %s", got, want)
	}
}

func TestSumDistinguishesContent(t *testing.T) {
	a := Sum([]byte("image-a"))
	b := Sum([]byte("image-b"))

	if a == b {
		t.Error("Expected different digests for different bytes")
	}
}

func TestSumIsLowercaseHex(t *testing.T) {
	got := Sum([]byte("anything"))

	if len(got) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(got))
	}
	for _, c := range got {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("Digest contains non-lowercase-hex character %q", c)
		}
	}
}
