package term

import "testing"

func TestVectorValidate(t *testing.T) {
	ok := Vector{{Position: 1}, {Position: 2}, {Position: 5}}
	if !ok.Validate() {
		t.Fatalf("expected strictly increasing positions to validate")
	}
	bad := Vector{{Position: 1}, {Position: 1}}
	if bad.Validate() {
		t.Fatalf("expected repeated positions to fail validation")
	}
	descending := Vector{{Position: 2}, {Position: 1}}
	if descending.Validate() {
		t.Fatalf("expected decreasing positions to fail validation")
	}
	if !(Vector(nil)).Validate() {
		t.Fatalf("expected empty vector to validate")
	}
}
