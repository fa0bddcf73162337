// Package results stores processed pages: the rendered and cleaned rasters as
// PNG files plus the per-region metadata needed to replay layout and
// compositing without running detection, OCR or translation again.
package results

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fogleman/gg"

	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

// PageStatus represents the processing status of a page
type PageStatus string

const (
	// StatusPending indicates the page has not started
	StatusPending PageStatus = "pending"
	// StatusProcessing indicates the page is in the pipeline
	StatusProcessing PageStatus = "processing"
	// StatusComplete indicates the page was rendered and stored
	StatusComplete PageStatus = "complete"
	// StatusError indicates the page failed
	StatusError PageStatus = "error"
)

// ImageKind names one of the stored rasters of a page.
type ImageKind string

const (
	ImageOriginal ImageKind = "original"
	ImageClean    ImageKind = "clean"
	ImageRendered ImageKind = "rendered"
	ImageDebug    ImageKind = "debug"
)

const metadataFile = "metadata.json"

// PageInfo is the stored metadata of a processed page.
type PageInfo struct {
	PageID       string             `json:"page_id"`
	JobID        string             `json:"job_id,omitempty"`
	SourcePath   string             `json:"source_path"`
	SourceMD5    string             `json:"source_md5,omitempty"`
	Mode         types.ProcessMode  `json:"mode"`
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	Scale        float64            `json:"scale"` // 检测前的缩放比例，1 表示未缩放
	ProcessedAt  time.Time          `json:"processed_at"`
	Status       PageStatus         `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	LastPhase    string             `json:"last_phase,omitempty"`
	Regions      []*geometry.Region `json:"regions"`
}

// FailedRegions counts the regions marked as failed.
func (p *PageInfo) FailedRegions() int {
	n := 0
	for _, r := range p.Regions {
		if r.Failed {
			n++
		}
	}
	return n
}

// ResultManager manages page results stored under a base directory
type ResultManager struct {
	baseDir string
}

// NewResultManager creates a new ResultManager with the specified base directory.
// If baseDir is empty, uses a default location in the user's home directory.
func NewResultManager(baseDir string) (*ResultManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, "comic-translator-results")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &ResultManager{baseDir: baseDir}, nil
}

// GetBaseDir returns the base directory for results
func (m *ResultManager) GetBaseDir() string {
	return m.baseDir
}

// GetPageDir returns the directory path for a specific page
func (m *ResultManager) GetPageDir(pageID string) string {
	return filepath.Join(m.baseDir, sanitizeID(pageID))
}

// ImagePath returns where the raster of the given kind is stored.
func (m *ResultManager) ImagePath(pageID string, kind ImageKind) string {
	return filepath.Join(m.GetPageDir(pageID), string(kind)+".png")
}

// NewPageID derives a stable page id from the source file name and its MD5.
func NewPageID(sourcePath, md5Hash string) string {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if len(md5Hash) > 12 {
		md5Hash = md5Hash[:12]
	}
	if md5Hash == "" {
		return sanitizeID(base)
	}
	return sanitizeID(base) + "_" + md5Hash
}

// SavePageInfo saves page metadata to the page's directory
func (m *ResultManager) SavePageInfo(info *PageInfo) error {
	if info.PageID == "" {
		return types.NewAppError(types.ErrInvalidInput, "page id is empty", nil)
	}
	pageDir := m.GetPageDir(info.PageID)
	if err := os.MkdirAll(pageDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(pageDir, metadataFile), data, 0644)
}

// LoadPageInfo loads page metadata from the page's directory
func (m *ResultManager) LoadPageInfo(pageID string) (*PageInfo, error) {
	data, err := os.ReadFile(filepath.Join(m.GetPageDir(pageID), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "page not found", pageID, err)
		}
		return nil, err
	}

	var info PageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SaveImage writes a raster of the page as PNG.
func (m *ResultManager) SaveImage(pageID string, kind ImageKind, img image.Image) (string, error) {
	if err := os.MkdirAll(m.GetPageDir(pageID), 0755); err != nil {
		return "", err
	}
	path := m.ImagePath(pageID, kind)
	if err := gg.SavePNG(path, img); err != nil {
		return "", fmt.Errorf("failed to save %s image: %w", kind, err)
	}
	return path, nil
}

// LoadImage reads a stored raster of the page.
func (m *ResultManager) LoadImage(pageID string, kind ImageKind) (image.Image, error) {
	path := m.ImagePath(pageID, kind)
	img, err := gg.LoadPNG(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "image not found", path, err)
		}
		return nil, fmt.Errorf("failed to load %s image: %w", kind, err)
	}
	return img, nil
}

// ListPages returns all stored pages, newest first
func (m *ResultManager) ListPages() ([]*PageInfo, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*PageInfo{}, nil
		}
		return nil, err
	}

	var pages []*PageInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.baseDir, entry.Name(), metadataFile))
		if err != nil {
			continue // Skip directories without metadata
		}
		var info PageInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		pages = append(pages, &info)
	}

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].ProcessedAt.After(pages[j].ProcessedAt)
	})
	return pages, nil
}

// ListJobPages returns the stored pages of one job
func (m *ResultManager) ListJobPages(jobID string) ([]*PageInfo, error) {
	pages, err := m.ListPages()
	if err != nil {
		return nil, err
	}
	var out []*PageInfo
	for _, p := range pages {
		if p.JobID == jobID {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeletePage deletes a page and all its files
func (m *ResultManager) DeletePage(pageID string) error {
	return os.RemoveAll(m.GetPageDir(pageID))
}

// PageExists checks if metadata for the page exists
func (m *ResultManager) PageExists(pageID string) bool {
	_, err := os.Stat(filepath.Join(m.GetPageDir(pageID), metadataFile))
	return err == nil
}

// UpdatePageStatus updates the status of a stored page
func (m *ResultManager) UpdatePageStatus(pageID string, status PageStatus, errorMsg string) error {
	info, err := m.LoadPageInfo(pageID)
	if err != nil {
		return err
	}
	info.Status = status
	info.ErrorMessage = errorMsg
	return m.SavePageInfo(info)
}

// GetIncompletePages returns pages that are not complete
func (m *ResultManager) GetIncompletePages() ([]*PageInfo, error) {
	pages, err := m.ListPages()
	if err != nil {
		return nil, err
	}
	var incomplete []*PageInfo
	for _, p := range pages {
		if p.Status != StatusComplete {
			incomplete = append(incomplete, p)
		}
	}
	return incomplete, nil
}

// sanitizeID converts an id to a safe directory name
func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "..", "_")
	return r.Replace(id)
}

// CalculateFileMD5 calculates the MD5 hash of a file
func CalculateFileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// FindByMD5 finds a page by its source file MD5 hash. nil means not found.
func (m *ResultManager) FindByMD5(md5Hash string) (*PageInfo, error) {
	pages, err := m.ListPages()
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.SourceMD5 == md5Hash {
			return p, nil
		}
	}
	return nil, nil
}

// ExistingPageInfo describes a previous result for the same source file
type ExistingPageInfo struct {
	Exists      bool      `json:"exists"`
	PageInfo    *PageInfo `json:"page_info,omitempty"`
	IsComplete  bool      `json:"is_complete"`
	CanContinue bool      `json:"can_continue"`
	Message     string    `json:"message"`
}

// CheckExistingPage checks if the source file was already processed
func (m *ResultManager) CheckExistingPage(sourcePath string) (*ExistingPageInfo, error) {
	info := &ExistingPageInfo{}

	md5Hash, err := CalculateFileMD5(sourcePath)
	if err != nil {
		return nil, err
	}
	page, err := m.FindByMD5(md5Hash)
	if err != nil {
		return nil, err
	}
	if page == nil {
		info.Message = "未找到已有结果"
		return info, nil
	}

	info.Exists = true
	info.PageInfo = page
	switch page.Status {
	case StatusComplete:
		info.IsComplete = true
		info.Message = fmt.Sprintf("该页面已于 %s 处理完成", page.ProcessedAt.Format("2006-01-02 15:04"))
	case StatusError:
		info.CanContinue = true
		info.Message = fmt.Sprintf("该页面处理失败: %s，可以重试", page.ErrorMessage)
	default:
		info.CanContinue = true
		info.Message = fmt.Sprintf("该页面处理未完成 (状态: %s)，可以继续", page.Status)
	}
	return info, nil
}
