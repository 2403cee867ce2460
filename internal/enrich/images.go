package enrich

import "github.com/JakeFAU/popup-crawler/internal/crawler"

// Selection rules recorded in crawler.ImageMeta.
const (
	SelectionHeadImage    = "headImage"
	SelectionFirstContent = "firstContentImage"
	roleUnknown           = "unknown"
)

// ComputeImageMeta describes the final image list.
func ComputeImageMeta(images []crawler.Image) crawler.ImageMeta {
	meta := crawler.ImageMeta{
		Total:              len(images),
		SelectionRule:      SelectionFirstContent,
		RepresentativeRole: roleUnknown,
	}
	if meta.Total > 1 {
		meta.Gallery = meta.Total - 1
	}
	if len(images) > 0 {
		if images[0].Role == crawler.RoleHead {
			meta.SelectionRule = SelectionHeadImage
		}
		if images[0].Role != "" {
			meta.RepresentativeRole = images[0].Role
		}
	}
	return meta
}

// ApplyImageMeta stores the image metadata on rec.
func ApplyImageMeta(rec *crawler.Record) {
	meta := ComputeImageMeta(rec.Images)
	rec.Meta.Images = &meta
}
