package modbus

import "testing"

func TestChangeAggregator_Flush(t *testing.T) {
	a := NewChangeAggregator()

	if _, ok, err := a.Flush(); ok || err != nil {
		t.Fatalf("empty Flush() ok=%v err=%v, want nothing to publish", ok, err)
	}

	a.Add("temp", "21.5")
	a.Add("state", "on")
	a.Add("count", "3")
	a.Add("count", "4")
	a.Add("bad", "NaN")

	payload, ok, err := a.Flush()
	if err != nil || !ok {
		t.Fatalf("Flush() ok=%v err=%v", ok, err)
	}
	want := `{"bad":"NaN","count":4,"state":"on","temp":21.5}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d after flush, want 0", a.Len())
	}
}

func TestIsJSONNumber(t *testing.T) {
	tests := map[string]bool{
		"0":     true,
		"-2":    true,
		"21.5":  true,
		"1e3":   true,
		"":      false,
		"01":    false,
		"0x10":  false,
		" 1":    false,
		"1 ":    false,
		"1.":    false,
		"NaN":   false,
		"+Inf":  false,
		"on":    false,
		"12 kW": false,
	}
	for in, want := range tests {
		if got := isJSONNumber(in); got != want {
			t.Errorf("isJSONNumber(%q) = %v, want %v", in, got, want)
		}
	}
}
