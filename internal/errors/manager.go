// Package errors records pages that failed to process so they can be listed
// and retried.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"comic-translator/internal/types"
)

// ErrorStage 错误阶段枚举
type ErrorStage string

const (
	StageLoad        ErrorStage = "load"        // 读取页面
	StageDetection   ErrorStage = "detection"   // 气泡检测
	StageInpaint     ErrorStage = "inpaint"     // 背景修复
	StageOCR         ErrorStage = "ocr"         // 文字识别
	StageTranslation ErrorStage = "translation" // 翻译
	StageRender      ErrorStage = "render"      // 排版与合成
	StageSave        ErrorStage = "save"        // 保存结果
)

// ErrorRecord 错误记录
type ErrorRecord struct {
	ID         string          `json:"id"`                   // 页面路径
	JobID      string          `json:"job_id"`               // 最近一次所属任务
	Input      string          `json:"input"`                // 页面路径
	Stage      ErrorStage      `json:"stage"`                // 出错阶段
	Code       types.ErrorCode `json:"code,omitempty"`       // 错误码
	ErrorMsg   string          `json:"error_msg"`            // 错误信息
	Timestamp  time.Time       `json:"timestamp"`            // 错误发生时间
	CanRetry   bool            `json:"can_retry"`            // 是否可以重试
	RetryCount int             `json:"retry_count"`          // 重试次数
	LastRetry  time.Time       `json:"last_retry,omitempty"` // 最后重试时间
}

// ErrorManager 错误管理器
type ErrorManager struct {
	baseDir string
	mu      sync.RWMutex
	errors  map[string]*ErrorRecord // key: ID
}

// RecordID is the record key of a page. Records are keyed by input path so
// a retry in a later job updates the same record.
func RecordID(input string) string {
	return filepath.Clean(input)
}

// NewErrorManager 创建新的错误管理器
func NewErrorManager(baseDir string) (*ErrorManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".comic-translator", "errors")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create errors directory: %w", err)
	}

	em := &ErrorManager{
		baseDir: baseDir,
		errors:  make(map[string]*ErrorRecord),
	}
	if err := em.load(); err != nil {
		return nil, err
	}
	return em, nil
}

// RecordError 记录页面错误。错误码从 err 的 AppError 链中提取。
func (em *ErrorManager) RecordError(jobID, input string, stage ErrorStage, err error) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	code := types.CodeOf(err)
	record := &ErrorRecord{
		ID:        RecordID(input),
		JobID:     jobID,
		Input:     input,
		Stage:     stage,
		Code:      code,
		ErrorMsg:  fmt.Sprint(err),
		Timestamp: time.Now(),
		CanRetry:  code != types.ErrInvalidInput && code != types.ErrFileNotFound,
	}

	// 如果已存在，保留重试次数
	if existing, ok := em.errors[record.ID]; ok {
		record.RetryCount = existing.RetryCount
		record.LastRetry = existing.LastRetry
	}

	em.errors[record.ID] = record
	return em.save()
}

// IncrementRetry 增加重试次数
func (em *ErrorManager) IncrementRetry(id string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if record, ok := em.errors[id]; ok {
		record.RetryCount++
		record.LastRetry = time.Now()
		return em.save()
	}
	return fmt.Errorf("error record not found: %s", id)
}

// RemoveError 移除错误记录（页面处理成功后）
func (em *ErrorManager) RemoveError(id string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if _, ok := em.errors[id]; !ok {
		return nil
	}
	delete(em.errors, id)
	return em.save()
}

// ListErrors 列出所有错误记录，按时间排序
func (em *ErrorManager) ListErrors() []*ErrorRecord {
	return em.filter(func(*ErrorRecord) bool { return true })
}

// ListJobErrors 列出某个任务的错误记录
func (em *ErrorManager) ListJobErrors(jobID string) []*ErrorRecord {
	return em.filter(func(r *ErrorRecord) bool { return r.JobID == jobID })
}

// ListRetryable 列出可以重试的错误记录
func (em *ErrorManager) ListRetryable() []*ErrorRecord {
	return em.filter(func(r *ErrorRecord) bool { return r.CanRetry })
}

func (em *ErrorManager) filter(keep func(*ErrorRecord) bool) []*ErrorRecord {
	em.mu.RLock()
	defer em.mu.RUnlock()

	records := make([]*ErrorRecord, 0, len(em.errors))
	for _, record := range em.errors {
		if keep(record) {
			recordCopy := *record
			records = append(records, &recordCopy)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID < records[j].ID
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records
}

// GetError 获取特定错误记录
func (em *ErrorManager) GetError(id string) (*ErrorRecord, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	record, ok := em.errors[id]
	if !ok {
		return nil, false
	}
	recordCopy := *record
	return &recordCopy, true
}

// ClearAll 清除所有错误记录
func (em *ErrorManager) ClearAll() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.errors = make(map[string]*ErrorRecord)
	return em.save()
}

func (em *ErrorManager) load() error {
	filePath := filepath.Join(em.baseDir, "errors.json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read errors file: %w", err)
	}

	var records []*ErrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal errors: %w", err)
	}
	for _, record := range records {
		em.errors[record.ID] = record
	}
	return nil
}

func (em *ErrorManager) save() error {
	records := make([]*ErrorRecord, 0, len(em.errors))
	for _, record := range em.errors {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	filePath := filepath.Join(em.baseDir, "errors.json")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write errors file: %w", err)
	}
	return nil
}

// ExportInputs 导出可重试页面的路径到文本文件，每行一个
func (em *ErrorManager) ExportInputs(outputPath string) error {
	var lines []string
	for _, r := range em.ListRetryable() {
		lines = append(lines, r.Input)
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write error inputs file: %w", err)
	}
	return nil
}

// GetStageDisplayName 获取阶段的显示名称
func GetStageDisplayName(stage ErrorStage) string {
	switch stage {
	case StageLoad:
		return "读取页面"
	case StageDetection:
		return "气泡检测"
	case StageInpaint:
		return "背景修复"
	case StageOCR:
		return "文字识别"
	case StageTranslation:
		return "翻译"
	case StageRender:
		return "排版合成"
	case StageSave:
		return "保存结果"
	default:
		return string(stage)
	}
}
