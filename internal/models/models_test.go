package models

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureModelPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	got, err := EnsureModel(path, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("EnsureModel() = %s, want %s", got, path)
	}
}

func TestEnsureModelExtractsOnce(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("not really an onnx graph")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(payload)
	zw.Close()
	archive := filepath.Join(dir, "bubbles.onnx.gz")
	if err := os.WriteFile(archive, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	os.Chtimes(archive, old, old)

	target := filepath.Join(dir, "cache")
	got, err := EnsureModel(archive, target)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(target, "bubbles.onnx") {
		t.Errorf("unexpected path %s", got)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("extracted %q, want %q", data, payload)
	}

	// 已解压的文件不再覆盖
	if err := os.WriteFile(got, []byte("kept"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureModel(archive, target); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(got)
	if string(data) != "kept" {
		t.Errorf("extracted model was overwritten: %q", data)
	}
}

func TestEnsureModelBadArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.onnx.gz")
	os.WriteFile(archive, []byte("plain text"), 0644)

	if _, err := EnsureModel(archive, dir); err == nil {
		t.Error("expected error for a corrupt archive")
	}
	if _, err := EnsureModel(filepath.Join(dir, "missing.onnx.gz"), dir); err == nil {
		t.Error("expected error for a missing archive")
	}
}

func TestGetModelPath(t *testing.T) {
	if got := GetModelPath("base"); got != filepath.Join("base", "models", ModelFileName) {
		t.Errorf("GetModelPath() = %s", got)
	}
}
