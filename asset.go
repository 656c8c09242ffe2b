package course_archiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrMissingAssetID = errors.New("asset descriptor has no ID")
	ErrMissingSource  = errors.New("asset descriptor has neither a URL nor a block reference")
)

// An AssetDescriptor identifies one remote video asset to be downloaded. It is
// supplied by the course/API collaborator and is immutable once created.
type AssetDescriptor struct {
	// ID is the caller-supplied stable identity of the asset, used to key the
	// resume manifest across process restarts.
	ID string `json:"id"`
	// BlockID references the course block the asset belongs to. Required when
	// URL is empty, so the block content can be fetched and run through the
	// extraction chain.
	BlockID string `json:"block_id,omitempty"`
	// URL is the pre-resolved download URL, if the caller already knows it.
	URL string `json:"url,omitempty"`
	// ExpectedSize in bytes; 0 means unknown.
	ExpectedSize int64 `json:"expected_size,omitempty"`
	// Checksum in "<algo>:<hex>" form (see ParseChecksum); empty means unknown.
	Checksum string `json:"checksum,omitempty"`
	// TargetPath is the destination path relative to the configured target
	// directory. If empty, a filename is derived from the resolved URL.
	TargetPath string `json:"target_path,omitempty"`
}

func (a *AssetDescriptor) Validate() error {
	if a.ID == "" {
		return ErrMissingAssetID
	}
	if a.URL == "" && a.BlockID == "" {
		return fmt.Errorf("%w: %v", ErrMissingSource, a.ID)
	}
	if a.URL != "" {
		if u, err := url.Parse(a.URL); err != nil {
			return fmt.Errorf("asset %v has invalid URL: %w", a.ID, err)
		} else if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("asset %v has invalid URL %q", a.ID, a.URL)
		}
	}
	if a.ExpectedSize < 0 {
		return fmt.Errorf("asset %v has negative expected size", a.ID)
	}
	if a.Checksum != "" {
		if _, err := ParseChecksum(a.Checksum); err != nil {
			return fmt.Errorf("asset %v: %w", a.ID, err)
		}
	}
	return nil
}

// BlockContent is the raw content of a single course block, fetched by the
// external API-client collaborator and handed to the extraction chain. All
// fields are optional; strategies use whichever parts they understand.
type BlockContent struct {
	BlockID string
	// SourceURL is the URL the content was fetched from; used to resolve
	// relative asset URLs found in markup.
	SourceURL string
	// Payload is the structured (JSON) form of the block, if any.
	Payload json.RawMessage
	// HTML is the rendered markup of the block, if any.
	HTML string
	// Sidecar carries optional side-channel context, e.g. a pre-fetched
	// analytics payload, keyed by name.
	Sidecar map[string]any
}
