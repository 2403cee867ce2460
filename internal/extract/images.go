package extract

import (
	"strings"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// imageVariants is the preference order for sized variants.
var imageVariants = []string{"full", "large", "original", "small", "small_square"}

const directVariant = "direct"

func collectImages(g Graph, entity map[string]any) []crawler.Image {
	var candidates []crawler.Image
	if head := g.DerefObject(entity["headImage"]); head != nil {
		candidates = append(candidates, imageURLs(head, crawler.RoleHead)...)
	}
	if contents, ok := entity["contents"].([]any); ok {
		for _, raw := range contents {
			block := g.DerefObject(raw)
			if block == nil {
				continue
			}
			list, ok := block["image"].([]any)
			if !ok {
				continue
			}
			for _, rawImg := range list {
				if img := g.DerefObject(rawImg); img != nil {
					candidates = append(candidates, imageURLs(img, crawler.RoleContent)...)
				}
			}
		}
	}
	return selectImages(dedupImages(candidates))
}

// imageURLs reads sizes.<variant>.url, then <variant>.url, then url.
func imageURLs(img map[string]any, role string) []crawler.Image {
	var out []crawler.Image
	if sizes, ok := img["sizes"].(map[string]any); ok {
		for _, variant := range imageVariants {
			if v, ok := sizes[variant].(map[string]any); ok {
				if u := str(v, "url"); u != "" {
					out = append(out, crawler.Image{URL: u, Variant: variant, Role: role})
				}
			}
		}
	}
	for _, variant := range imageVariants {
		if v, ok := img[variant].(map[string]any); ok {
			if u := str(v, "url"); u != "" {
				out = append(out, crawler.Image{URL: u, Variant: variant, Role: role})
			}
		}
	}
	if u := str(img, "url"); u != "" {
		out = append(out, crawler.Image{URL: u, Variant: directVariant, Role: role})
	}
	return out
}

func dedupImages(images []crawler.Image) []crawler.Image {
	seen := make(map[string]struct{}, len(images))
	out := make([]crawler.Image, 0, len(images))
	for _, img := range images {
		u := strings.TrimSpace(img.URL)
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		lower := strings.ToLower(u)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		img.URL = u
		out = append(out, img)
	}
	return out
}

// selectImages puts the representative first (first head image, else the
// first remaining image) followed by at most maxGallery others.
func selectImages(images []crawler.Image) []crawler.Image {
	var rep *crawler.Image
	gallery := make([]crawler.Image, 0, len(images))
	for i := range images {
		if rep == nil && images[i].Role == crawler.RoleHead {
			rep = &images[i]
			continue
		}
		gallery = append(gallery, images[i])
	}
	if rep == nil && len(gallery) > 0 {
		first := gallery[0]
		rep = &first
		gallery = gallery[1:]
	}
	if len(gallery) > maxGallery {
		gallery = gallery[:maxGallery]
	}
	out := make([]crawler.Image, 0, len(gallery)+1)
	if rep != nil {
		out = append(out, *rep)
	}
	return append(out, gallery...)
}
