package errors

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comic-translator/internal/types"
)

func TestErrorManager(t *testing.T) {
	// 创建临时目录
	tempDir := t.TempDir()

	em, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create error manager: %v", err)
	}

	cause := types.NewAppError(types.ErrDetection, "model failed", nil)
	if err := em.RecordError("job1", "/pages/001.png", StageDetection, cause); err != nil {
		t.Fatalf("Failed to record error: %v", err)
	}

	id := RecordID("/pages/001.png")
	record, ok := em.GetError(id)
	if !ok {
		t.Fatal("Error record not found")
	}
	if record.Stage != StageDetection {
		t.Errorf("Expected stage detection, got %s", record.Stage)
	}
	if record.Code != types.ErrDetection {
		t.Errorf("Expected code DETECTION_ERROR, got %s", record.Code)
	}
	if !record.CanRetry {
		t.Error("Detection failures should be retryable")
	}

	// 测试增加重试次数
	if err := em.IncrementRetry(id); err != nil {
		t.Fatalf("Failed to increment retry: %v", err)
	}
	record, _ = em.GetError(id)
	if record.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", record.RetryCount)
	}

	// 新任务再次记录时保留重试次数
	if err := em.RecordError("job2", "/pages/001.png", StageOCR, fmt.Errorf("again")); err != nil {
		t.Fatalf("Failed to record error: %v", err)
	}
	record, _ = em.GetError(id)
	if record.RetryCount != 1 || record.Stage != StageOCR || record.JobID != "job2" {
		t.Errorf("Unexpected record after re-recording: %+v", record)
	}

	if err := em.RemoveError(id); err != nil {
		t.Fatalf("Failed to remove error: %v", err)
	}
	if n := len(em.ListErrors()); n != 0 {
		t.Errorf("Expected 0 error records, got %d", n)
	}

	if err := em.IncrementRetry("missing"); err == nil {
		t.Error("Expected error for missing record")
	}
}

func TestErrorManagerPersistence(t *testing.T) {
	tempDir := t.TempDir()

	em1, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create error manager: %v", err)
	}
	if err := em1.RecordError("job1", "a.png", StageTranslation, fmt.Errorf("error1")); err != nil {
		t.Fatalf("Failed to record error: %v", err)
	}
	if err := em1.RecordError("job2", "b.png", StageInpaint, fmt.Errorf("error2")); err != nil {
		t.Fatalf("Failed to record error: %v", err)
	}

	// 新管理器应加载已有记录
	em2, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create second error manager: %v", err)
	}
	if n := len(em2.ListErrors()); n != 2 {
		t.Fatalf("Expected 2 error records, got %d", n)
	}
	if n := len(em2.ListJobErrors("job2")); n != 1 {
		t.Errorf("Expected 1 record for job2, got %d", n)
	}

	if err := em2.ClearAll(); err != nil {
		t.Fatalf("Failed to clear errors: %v", err)
	}
	if n := len(em2.ListErrors()); n != 0 {
		t.Errorf("Expected 0 error records after clear, got %d", n)
	}
}

func TestExportInputs(t *testing.T) {
	tempDir := t.TempDir()
	em, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create error manager: %v", err)
	}

	_ = em.RecordError("job", "/p/1.png", StageOCR, fmt.Errorf("boom"))
	_ = em.RecordError("job", "/p/2.png", StageLoad, types.NewAppError(types.ErrInvalidInput, "not an image", nil))

	out := filepath.Join(tempDir, "retry.txt")
	if err := em.ExportInputs(out); err != nil {
		t.Fatalf("Failed to export inputs: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}

	// 无效输入不可重试，不导出
	lines := strings.Fields(string(data))
	if len(lines) != 1 || lines[0] != "/p/1.png" {
		t.Errorf("Unexpected export content: %q", string(data))
	}
}

func TestGetStageDisplayName(t *testing.T) {
	tests := []struct {
		stage    ErrorStage
		expected string
	}{
		{StageDetection, "气泡检测"},
		{StageTranslation, "翻译"},
		{ErrorStage("custom"), "custom"},
	}
	for _, tt := range tests {
		if got := GetStageDisplayName(tt.stage); got != tt.expected {
			t.Errorf("GetStageDisplayName(%s) = %s, want %s", tt.stage, got, tt.expected)
		}
	}
}
