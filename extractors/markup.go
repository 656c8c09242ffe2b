package extractors

import (
	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/util"
	"golang.org/x/net/html"
)

// Markup extracts asset URLs from HTML elements: <video>/<source> sources,
// player containers carrying a data-video-url attribute, and direct links to
// files with a video extension. Relative URLs are resolved against the block's
// source URL.
func Markup() course_archiver.Strategy {
	return course_archiver.Strategy{Name: "markup", Extract: extractMarkup}
}

func extractMarkup(block *course_archiver.BlockContent) (course_archiver.ExtractionResult, error) {
	root, err := parseMarkup(block)
	if err != nil || root == nil {
		return course_archiver.ExtractionResult{}, err
	}
	var urls []string
	add := func(raw string) {
		if raw == "" {
			return
		}
		urls = append(urls, util.ResolveReference(block.SourceURL, raw))
	}
	walk(root, func(n *html.Node) {
		switch n.Data {
		case "video":
			add(attr(n, "src"))
		case "source":
			if n.Parent != nil && n.Parent.Data == "video" {
				add(attr(n, "src"))
			}
		case "a":
			if href := attr(n, "href"); util.HasVideoExtension(href) {
				add(href)
			}
		default:
			// Player containers used by various course platforms.
			add(attr(n, "data-video-url"))
			add(attr(n, "data-mp4-source"))
		}
	})
	return course_archiver.ExtractionResult{URLs: dedupe(urls)}, nil
}
