package extractors

import (
	"fmt"
	"regexp"
	"strings"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/util"
	youtube "github.com/kkdai/youtube/v2"
	"golang.org/x/net/html"
)

var vimeoPattern = regexp.MustCompile(`player\.vimeo\.com/video/(\d+)`)

// IFrame follows embedded player iframes: YouTube embeds are normalized to
// canonical watch URLs, Vimeo embeds to canonical video URLs, and any other
// iframe source with a video extension is passed through as-is. Runs last
// among the built-in strategies since embeds usually need a further
// site-specific downloader.
func IFrame() course_archiver.Strategy {
	return course_archiver.Strategy{Name: "iframe", Extract: extractIFrame}
}

func extractIFrame(block *course_archiver.BlockContent) (course_archiver.ExtractionResult, error) {
	root, err := parseMarkup(block)
	if err != nil || root == nil {
		return course_archiver.ExtractionResult{}, err
	}
	var urls []string
	walk(root, func(n *html.Node) {
		if n.Data != "iframe" {
			return
		}
		src := attr(n, "src")
		if src == "" {
			return
		}
		src = util.ResolveReference(block.SourceURL, src)
		switch {
		case strings.Contains(src, "youtube.com") || strings.Contains(src, "youtu.be"):
			if id, err := youtube.ExtractVideoID(src); err == nil {
				urls = append(urls, "https://www.youtube.com/watch?v="+id)
			}
		case strings.Contains(src, "vimeo.com"):
			if m := vimeoPattern.FindStringSubmatch(src); m != nil {
				urls = append(urls, fmt.Sprintf("https://vimeo.com/%s", m[1]))
			}
		case util.HasVideoExtension(src):
			urls = append(urls, src)
		}
	})
	return course_archiver.ExtractionResult{URLs: dedupe(urls)}, nil
}
