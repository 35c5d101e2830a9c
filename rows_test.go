package handwriting

import "testing"

func TestMakeRows(t *testing.T) {
	data := make([]float32, 6)
	rows := MakeRows(data, 2, 3)
	if len(rows) != 2 || len(rows[0]) != 3 {
		t.Fatalf("Expected 2x3 rows, got %dx%d", len(rows), len(rows[0]))
	}

	// rows are views, not copies
	rows[1][2] = 7
	if data[5] != 7 {
		t.Errorf("Expected the write to land in the backing slice")
	}
	ReturnRows(rows)

	again := MakeRows(data, 2, 3)
	if again[1][2] != 7 {
		t.Errorf("Expected reborrowed rows to view the same data")
	}
	ReturnRows(again)
}
