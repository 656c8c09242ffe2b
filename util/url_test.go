package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasVideoExtension(t *testing.T) {
	assert.True(t, HasVideoExtension("https://cdn.example.com/course/lecture.mp4"))
	assert.True(t, HasVideoExtension("https://cdn.example.com/lecture.MP4?sig=abc"))
	assert.True(t, HasVideoExtension("/relative/video.webm"))
	assert.True(t, HasVideoExtension("https://cdn.example.com/stream/index.m3u8"))
	assert.False(t, HasVideoExtension("https://cdn.example.com/lecture.html"))
	assert.False(t, HasVideoExtension("https://cdn.example.com/lecture"))
}

func TestHost(t *testing.T) {
	host, err := Host("https://CDN.Example.COM:8443/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "cdn.example.com", host)

	_, err = Host("not a url")
	assert.Error(t, err)
}

func TestResolveReference(t *testing.T) {
	base := "https://courses.example.com/block/7/"
	assert.Equal(t, "https://courses.example.com/media/v.mp4",
		ResolveReference(base, "/media/v.mp4"))
	assert.Equal(t, "https://courses.example.com/block/7/v.mp4",
		ResolveReference(base, "v.mp4"))
	assert.Equal(t, "https://cdn.example.com/v.mp4",
		ResolveReference(base, "https://cdn.example.com/v.mp4"))
	assert.Equal(t, "v.mp4", ResolveReference("::bad base::", "v.mp4"))
}

func TestFilenameFromURLString(t *testing.T) {
	name, err := FilenameFromURLString("https://cdn.example.com/course/Week 1: intro.mp4?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "Week 1_ intro.mp4", name)

	for _, s := range []string{
		"https://cdn.example.com/",
		"https://cdn.example.com",
		"https://cdn.example.com/..",
	} {
		_, err := FilenameFromURLString(s)
		assert.ErrorIs(t, err, ErrNoFilename, s)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename("a/b\\c"))
	assert.Equal(t, "trimmed", SanitizeFilename("  trimmed.. "))
	assert.Equal(t, "tab_sep", SanitizeFilename("tab\tsep"))
}
