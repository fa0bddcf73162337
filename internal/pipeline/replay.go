package pipeline

import (
	"fmt"
	"image"

	"comic-translator/internal/geometry"
	"comic-translator/internal/logger"
	"comic-translator/internal/results"
	"comic-translator/internal/types"
)

// Rerender lays out every region of a stored page again and composites it
// onto the stored clean raster. Nothing is saved; the same stored page
// always renders to the same pixels.
func (p *Pipeline) Rerender(pageID string) (*image.RGBA, *results.PageInfo, error) {
	info, err := p.deps.Store.LoadPageInfo(pageID)
	if err != nil {
		return nil, nil, err
	}
	clean, err := p.deps.Store.LoadImage(pageID, results.ImageClean)
	if err != nil {
		return nil, nil, err
	}
	if info.Mode == types.ModeCleanOnly {
		return toRGBA(clean), info, nil
	}

	for _, r := range info.Regions {
		p.layoutRegion(r)
	}
	return p.compositor.RenderPage(toRGBA(clean), info.Regions), info, nil
}

// UpdateRegion replaces the translation (and optionally the font) of one
// region, re-renders the page from its clean raster and stores the result.
func (p *Pipeline) UpdateRegion(pageID string, index int, text, font string) (*results.PageInfo, error) {
	info, err := p.deps.Store.LoadPageInfo(pageID)
	if err != nil {
		return nil, err
	}
	if info.Mode == types.ModeCleanOnly {
		return nil, types.NewAppError(types.ErrInvalidInput, "clean_only pages have no text to edit", nil)
	}
	r := findRegion(info.Regions, index)
	if r == nil {
		return nil, types.NewAppError(types.ErrInvalidInput,
			fmt.Sprintf("region %d not found on page %s", index, pageID), nil)
	}

	r.Translation = text
	r.ProviderTag = ProviderManual
	if font != "" {
		r.Font = font
	}
	// 手动编辑后重新尝试之前因字体或超时失败的区域
	if r.FailReason == string(types.ErrAssetResolution) || r.FailReason == string(types.ErrTimeout) {
		r.Failed, r.FailReason = false, ""
	}
	if err := p.deps.Store.SavePageInfo(info); err != nil {
		return nil, err
	}

	rendered, info, err := p.Rerender(pageID)
	if err != nil {
		return nil, err
	}
	if _, err := p.deps.Store.SaveImage(pageID, results.ImageRendered, rendered); err != nil {
		return nil, err
	}
	if err := p.deps.Store.SavePageInfo(info); err != nil {
		return nil, err
	}

	logger.Info("region updated",
		logger.String("pageID", pageID),
		logger.Int("region", index),
		logger.String("font", r.Font))
	return info, nil
}

func findRegion(regions []*geometry.Region, index int) *geometry.Region {
	for _, r := range regions {
		if r.Index == index {
			return r
		}
	}
	return nil
}
