// Package models locates the bubble detection model and unpacks gzipped
// model files before they are handed to onnxruntime.
package models

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ModelFileName is the default detection model file name
const ModelFileName = "comic_bubbles.onnx"

// GetModelPath returns the path where the model is expected when none is configured.
func GetModelPath(baseDir string) string {
	return filepath.Join(baseDir, "models", ModelFileName)
}

// EnsureModel returns a path onnxruntime can load. Plain model files are
// returned as is; a .gz file is extracted into targetDir once and reused
// while the extracted copy is newer than the archive.
func EnsureModel(path, targetDir string) (string, error) {
	if !strings.HasSuffix(path, ".gz") {
		return path, nil
	}

	src, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat compressed model: %w", err)
	}
	modelPath := filepath.Join(targetDir, strings.TrimSuffix(filepath.Base(path), ".gz"))

	// Check if already extracted
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 && !info.ModTime().Before(src.ModTime()) {
		return modelPath, nil
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	compressedFile, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open compressed model: %w", err)
	}
	defer compressedFile.Close()

	gzReader, err := gzip.NewReader(compressedFile)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	// 先写临时文件，避免中断后留下半个模型
	tmp := modelPath + ".tmp"
	dstFile, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}
	if _, err := io.Copy(dstFile, gzReader); err != nil {
		dstFile.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to extract model: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, modelPath); err != nil {
		return "", fmt.Errorf("failed to move model into place: %w", err)
	}
	return modelPath, nil
}
