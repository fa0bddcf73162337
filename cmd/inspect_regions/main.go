// Inspect the regions of a processed page: print their metadata and redraw
// the debug overlay.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/fogleman/gg"

	"comic-translator/internal/geometry"
	"comic-translator/internal/render"
	"comic-translator/internal/results"
)

func main() {
	dir := flag.String("results", "", "Results directory (default ~/comic-translator-results)")
	out := flag.String("out", "", "Write the debug overlay to this PNG")
	asJSON := flag.Bool("json", false, "Print region metadata as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("Usage: inspect_regions [-results DIR] [-out overlay.png] [-json] <page-id>")
		os.Exit(1)
	}
	pageID := flag.Arg(0)

	store, err := results.NewResultManager(*dir)
	if err != nil {
		fmt.Printf("Failed to open results: %v\n", err)
		os.Exit(1)
	}
	info, err := store.LoadPageInfo(pageID)
	if err != nil {
		fmt.Printf("Failed to load page %s: %v\n", pageID, err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info.Regions); err != nil {
			fmt.Printf("Failed to encode: %v\n", err)
			os.Exit(1)
		}
	} else {
		printRegions(info)
	}

	if *out != "" {
		page, err := store.LoadImage(pageID, results.ImageOriginal)
		if err != nil {
			fmt.Printf("Failed to load original image: %v\n", err)
			os.Exit(1)
		}
		if err := gg.SavePNG(*out, render.DrawDebug(page, info.Regions)); err != nil {
			fmt.Printf("Failed to save overlay: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Overlay: %s\n", *out)
	}
}

func printRegions(info *results.PageInfo) {
	fmt.Printf("Page %s (%s, %dx%d, scale %.3f, %s)\n",
		info.PageID, info.Mode, info.Width, info.Height, info.Scale, info.Status)
	for _, r := range info.Regions {
		fmt.Printf("\n#%d  bbox=[%.0f %.0f %.0f %.0f]  conf=%.2f  shape=%s  polygon=%d pts\n",
			r.Index, r.BBox.X1(), r.BBox.Y1(), r.BBox.X2(), r.BBox.Y2(),
			r.Confidence, r.Shape, len(r.Polygon))
		if r.Failed {
			fmt.Printf("    FAILED: %s\n", r.FailReason)
		}
		if r.Style != nil {
			fmt.Printf("    ink=%s bg=%s bold=%v inverted=%v size=%d density=%.2f font=%s\n",
				r.Style.InkColor.Hex(), r.Style.BackgroundColor.Hex(),
				r.Style.IsBold, r.Style.IsInverted, r.Style.EstimatedFontSize, r.Style.Density, r.Font)
		}
		if r.OriginalText != "" {
			fmt.Printf("    original:    %s\n", r.OriginalText)
			fmt.Printf("    translation: %s (%s)\n", r.Translation, r.ProviderTag)
		}
		if r.Layout != nil {
			printLayout(r.Layout)
		}
	}
}

func printLayout(l *geometry.LayoutResult) {
	fmt.Printf("    layout: %s size=%d lines=%d block=%.1f",
		l.Strategy, l.FontSize, len(l.Lines), l.BlockHeight)
	if l.Overflow {
		fmt.Print(" OVERFLOW")
	}
	fmt.Println()
	for i, line := range l.Lines {
		fmt.Printf("      %6.1fpx  %s\n", l.LineWidths[i], line)
	}
}
