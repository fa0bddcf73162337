package results

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

func TestNewResultManager(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewResultManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create ResultManager: %v", err)
	}
	if manager.GetBaseDir() != tempDir {
		t.Errorf("Expected base dir %s, got %s", tempDir, manager.GetBaseDir())
	}
}

func testPage(id string, at time.Time) *PageInfo {
	return &PageInfo{
		PageID:      id,
		JobID:       "job1",
		SourcePath:  "/pages/" + id + ".png",
		Mode:        types.ModeFull,
		Width:       300,
		Height:      200,
		Scale:       1,
		ProcessedAt: at,
		Status:      StatusComplete,
		Regions: []*geometry.Region{{
			Index:       0,
			BBox:        geometry.BBox{10, 10, 110, 60},
			Polygon:     geometry.Polygon{{X: 10, Y: 10}, {X: 110, Y: 10}, {X: 110, Y: 60}},
			Shape:       geometry.ShapeOval,
			Translation: "HELLO",
		}},
	}
}

func TestSaveAndLoadPageInfo(t *testing.T) {
	manager, err := NewResultManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create ResultManager: %v", err)
	}

	info := testPage("p001", time.Now())
	if err := manager.SavePageInfo(info); err != nil {
		t.Fatalf("Failed to save page info: %v", err)
	}
	if !manager.PageExists("p001") {
		t.Fatal("Expected page to exist")
	}

	loaded, err := manager.LoadPageInfo("p001")
	if err != nil {
		t.Fatalf("Failed to load page info: %v", err)
	}
	if len(loaded.Regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(loaded.Regions))
	}
	r := loaded.Regions[0]
	if r.Shape != geometry.ShapeOval || r.Translation != "HELLO" || len(r.Polygon) != 3 {
		t.Errorf("Region did not round trip: %+v", r)
	}

	if _, err := manager.LoadPageInfo("missing"); types.CodeOf(err) != types.ErrFileNotFound {
		t.Errorf("Expected FILE_NOT_FOUND, got %v", err)
	}
	if err := manager.SavePageInfo(&PageInfo{}); err == nil {
		t.Error("Expected error for empty page id")
	}
}

func TestSaveAndLoadImage(t *testing.T) {
	manager, err := NewResultManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create ResultManager: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{200, 10, 20, 255})

	path, err := manager.SaveImage("p001", ImageClean, img)
	if err != nil {
		t.Fatalf("Failed to save image: %v", err)
	}
	if filepath.Base(path) != "clean.png" {
		t.Errorf("Unexpected image path %s", path)
	}

	loaded, err := manager.LoadImage("p001", ImageClean)
	if err != nil {
		t.Fatalf("Failed to load image: %v", err)
	}
	if loaded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), loaded.Bounds())
	}
	r, g, b, _ := loaded.At(1, 1).RGBA()
	if r>>8 != 200 || g>>8 != 10 || b>>8 != 20 {
		t.Errorf("Pixel did not round trip: %d %d %d", r>>8, g>>8, b>>8)
	}

	if _, err := manager.LoadImage("p001", ImageDebug); types.CodeOf(err) != types.ErrFileNotFound {
		t.Errorf("Expected FILE_NOT_FOUND for missing image, got %v", err)
	}
}

func TestListPagesAndStatus(t *testing.T) {
	manager, err := NewResultManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create ResultManager: %v", err)
	}

	now := time.Now()
	older := testPage("old", now.Add(-time.Hour))
	newer := testPage("new", now)
	newer.JobID = "job2"
	for _, p := range []*PageInfo{older, newer} {
		if err := manager.SavePageInfo(p); err != nil {
			t.Fatalf("Failed to save page: %v", err)
		}
	}
	// 没有元数据的目录被忽略
	_ = os.MkdirAll(filepath.Join(manager.GetBaseDir(), "junk"), 0755)

	pages, err := manager.ListPages()
	if err != nil {
		t.Fatalf("Failed to list pages: %v", err)
	}
	if len(pages) != 2 || pages[0].PageID != "new" {
		t.Fatalf("Expected newest first, got %d pages", len(pages))
	}

	jobPages, _ := manager.ListJobPages("job2")
	if len(jobPages) != 1 {
		t.Errorf("Expected 1 page for job2, got %d", len(jobPages))
	}

	if err := manager.UpdatePageStatus("old", StatusError, "boom"); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}
	incomplete, _ := manager.GetIncompletePages()
	if len(incomplete) != 1 || incomplete[0].ErrorMessage != "boom" {
		t.Errorf("Expected one incomplete page, got %+v", incomplete)
	}

	if err := manager.DeletePage("old"); err != nil {
		t.Fatalf("Failed to delete page: %v", err)
	}
	if manager.PageExists("old") {
		t.Error("Expected page to be deleted")
	}
}

func TestNewPageID(t *testing.T) {
	tests := []struct {
		path, md5, expected string
	}{
		{"/a/b/page 01.png", "0123456789abcdef", "page_01_0123456789ab"},
		{"p.jpg", "", "p"},
		{"x.png", "abc", "x_abc"},
	}
	for _, tt := range tests {
		if got := NewPageID(tt.path, tt.md5); got != tt.expected {
			t.Errorf("NewPageID(%q, %q) = %q, want %q", tt.path, tt.md5, got, tt.expected)
		}
	}
}

func TestCheckExistingPage(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := NewResultManager(filepath.Join(tempDir, "results"))
	if err != nil {
		t.Fatalf("Failed to create ResultManager: %v", err)
	}

	src := filepath.Join(tempDir, "page.png")
	if err := os.WriteFile(src, []byte("not really a png"), 0644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}

	info, err := manager.CheckExistingPage(src)
	if err != nil {
		t.Fatalf("CheckExistingPage failed: %v", err)
	}
	if info.Exists {
		t.Error("Expected no existing page")
	}

	md5Hash, _ := CalculateFileMD5(src)
	page := testPage(NewPageID(src, md5Hash), time.Now())
	page.SourceMD5 = md5Hash
	page.Status = StatusError
	page.ErrorMessage = "timeout"
	_ = manager.SavePageInfo(page)

	info, err = manager.CheckExistingPage(src)
	if err != nil {
		t.Fatalf("CheckExistingPage failed: %v", err)
	}
	if !info.Exists || info.IsComplete || !info.CanContinue {
		t.Errorf("Unexpected existing info: %+v", info)
	}
}
