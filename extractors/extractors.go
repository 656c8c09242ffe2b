// Package extractors provides the built-in extraction strategies and registers
// them with course_archiver.DefaultStrategyChain. Priorities reflect
// reliability and cost: structured API data first, raw markup element scanning
// last. Import for side effects, or call the individual Strategy constructors
// to assemble a custom chain.
package extractors

import (
	"strings"

	course_archiver "github.com/coursearc/course-archiver"
	"golang.org/x/net/html"
)

func init() {
	course_archiver.DefaultStrategyChain.MustAdd(APIData().WithPriority(-30))
	course_archiver.DefaultStrategyChain.MustAdd(Script().WithPriority(-20))
	course_archiver.DefaultStrategyChain.MustAdd(Markup().WithPriority(-10))
	course_archiver.DefaultStrategyChain.MustAdd(IFrame().WithPriority(course_archiver.PriorityDefault))
}

// markupOf returns the markup content of a block: the HTML field if set,
// otherwise the "content" field of the structured payload.
func markupOf(block *course_archiver.BlockContent) string {
	if block.HTML != "" {
		return block.HTML
	}
	if len(block.Payload) > 0 {
		if content, ok := payloadField(block.Payload, "content"); ok {
			return content
		}
	}
	return ""
}

func parseMarkup(block *course_archiver.BlockContent) (*html.Node, error) {
	markup := markupOf(block)
	if markup == "" {
		return nil, nil
	}
	return html.Parse(strings.NewReader(markup))
}

// walk calls f for every element node in the tree rooted at n.
func walk(n *html.Node, f func(*html.Node)) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode {
		f(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, f)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// dedupe preserves first-seen order.
func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
