package extractors

import (
	"encoding/json"
	"sort"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/util"
)

// qualityRank orders encoded-video variants from most to least desirable.
// Unknown qualities sort after all known ones, in name order for stability.
var qualityRank = map[string]int{
	"2160p":       0,
	"1440p":       1,
	"1080p":       2,
	"720p":        3,
	"480p":        4,
	"360p":        5,
	"desktop_mp4": 6,
	"mobile_high": 7,
	"mobile_low":  8,
	"240p":        9,
	"144p":        10,
}

// APIData extracts asset URLs from the structured form of a block: the
// quality-keyed "encoded_videos" map (directly or under "student_view_data"),
// direct "video"/"download_url" fields, and finally a generic scan of string
// values for video URLs.
func APIData() course_archiver.Strategy {
	return course_archiver.Strategy{Name: "api-data", Extract: extractAPIData}
}

func extractAPIData(block *course_archiver.BlockContent) (course_archiver.ExtractionResult, error) {
	if len(block.Payload) == 0 {
		return course_archiver.ExtractionResult{}, nil
	}
	var data map[string]any
	if err := json.Unmarshal(block.Payload, &data); err != nil {
		return course_archiver.ExtractionResult{}, err
	}

	var urls []string
	urls = append(urls, encodedVideoURLs(data["encoded_videos"])...)
	if svd, ok := data["student_view_data"].(map[string]any); ok {
		urls = append(urls, encodedVideoURLs(svd["encoded_videos"])...)
		if u, ok := svd["download_url"].(string); ok {
			urls = append(urls, u)
		}
	}
	if video, ok := data["video"].(map[string]any); ok {
		for _, key := range []string{"url", "download_url", "source"} {
			if u, ok := video[key].(string); ok {
				urls = append(urls, u)
			}
		}
	}
	if u, ok := data["download_url"].(string); ok {
		urls = append(urls, u)
	}

	// Last resort within this strategy: any string value that looks like a
	// video URL, anywhere in the payload.
	if len(urls) == 0 {
		urls = scanStrings(data, urls)
	}

	return course_archiver.ExtractionResult{URLs: dedupe(urls)}, nil
}

// encodedVideoURLs flattens a quality-keyed {"720p": {"url": ...}, ...} map
// (values may also be plain URL strings) into a quality-ordered URL list.
func encodedVideoURLs(v any) []string {
	encoded, ok := v.(map[string]any)
	if !ok || len(encoded) == 0 {
		return nil
	}
	type variant struct {
		quality string
		url     string
	}
	variants := make([]variant, 0, len(encoded))
	for quality, value := range encoded {
		switch value := value.(type) {
		case string:
			variants = append(variants, variant{quality, value})
		case map[string]any:
			if u, ok := value["url"].(string); ok {
				variants = append(variants, variant{quality, u})
			}
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		ri, iKnown := qualityRank[variants[i].quality]
		rj, jKnown := qualityRank[variants[j].quality]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return variants[i].quality < variants[j].quality
		}
	})
	urls := make([]string, len(variants))
	for i, v := range variants {
		urls[i] = v.url
	}
	return urls
}

// scanStrings walks arbitrarily nested JSON values collecting video URLs.
func scanStrings(v any, urls []string) []string {
	switch v := v.(type) {
	case string:
		if util.HasVideoExtension(v) && isHTTP(v) {
			urls = append(urls, v)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			urls = scanStrings(v[k], urls)
		}
	case []any:
		for _, item := range v {
			urls = scanStrings(item, urls)
		}
	}
	return urls
}

func isHTTP(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}

// payloadField extracts a single top-level string field from a JSON payload.
func payloadField(payload json.RawMessage, name string) (string, bool) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", false
	}
	raw, ok := data[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
