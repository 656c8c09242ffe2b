package extractors

import (
	"regexp"

	course_archiver "github.com/coursearc/course-archiver"
	"golang.org/x/net/html"
)

// Matches absolute video/streaming URLs inside script bodies, with or without
// surrounding quotes.
var scriptURLPattern = regexp.MustCompile(`https?://[^"'\s\\]+\.(?:mp4|webm|m4v|mov|mkv|flv|m3u8|mpd)(?:\?[^"'\s\\]*)?`)

// Script extracts asset URLs embedded in inline <script> bodies, where some
// platforms stash player configuration as javascript literals.
func Script() course_archiver.Strategy {
	return course_archiver.Strategy{Name: "script", Extract: extractScript}
}

func extractScript(block *course_archiver.BlockContent) (course_archiver.ExtractionResult, error) {
	root, err := parseMarkup(block)
	if err != nil || root == nil {
		return course_archiver.ExtractionResult{}, err
	}
	var urls []string
	walk(root, func(n *html.Node) {
		if n.Data != "script" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				urls = append(urls, scriptURLPattern.FindAllString(c.Data, -1)...)
			}
		}
	})
	return course_archiver.ExtractionResult{URLs: dedupe(urls)}, nil
}
