package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAnnotations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ann.json")
	data := `[{"image": "a.jpg", "boxes": [[10, 20, 110, 220], [0, 0, 0, 5]], "labels": [3, 1]}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	anns, err := loadAnnotations(path)
	if err != nil {
		t.Fatalf("loadAnnotations failed: %v", err)
	}
	boxes, labels := anns[0].normalize(image.Pt(200, 400))
	if len(boxes) != 1 || labels[0] != 3 {
		t.Fatalf("Expected the empty box to be dropped, got %v %v", boxes, labels)
	}
	if boxes[0].Left != 0.05 || boxes[0].Bottom != 0.55 {
		t.Errorf("unexpected normalized box %+v", boxes[0])
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte(`[{"image": "a.jpg", "boxes": [[1,2,3,4]], "labels": []}]`), 0o644)
	if _, err := loadAnnotations(bad); err == nil {
		t.Error("Expected error for label count mismatch")
	}
}
