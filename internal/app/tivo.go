package app

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/tivotools/tivofetch/internal/domain"
)

// The device authenticates every request with HTTP digest, username fixed
// to "tivo" and the media access key as password.
const tivoDigestUser = "tivo"

// Appended to the content link to select the standard streaming format.
const tivoFormatSuffix = "&Format=video/x-tivo-mpeg"

const tivoListingTimeout = 60 * time.Second

// TivoIndex queries the device's recursive NowPlaying listing with
// offset-based pagination and yields recordings matching a requested title
// and, optionally, episode title.
type TivoIndex struct {
	logger  zerolog.Logger
	gateway *Gateway
	baseURL string
	mak     string
}

func NewTivoIndex(logger zerolog.Logger, gateway *Gateway, hostname, mak string) *TivoIndex {
	return &TivoIndex{
		logger:  logger,
		gateway: gateway,
		baseURL: "https://" + hostname,
		mak:     mak,
	}
}

// WithBaseURL overrides the device base URL, mainly for tests.
func (ti *TivoIndex) WithBaseURL(u string) *TivoIndex {
	if u != "" {
		ti.baseURL = u
	}
	return ti
}

type tivoContainer struct {
	XMLName   xml.Name   `xml:"TiVoContainer"`
	ItemCount int        `xml:"ItemCount"`
	Items     []tivoItem `xml:"Item"`
}

type tivoItem struct {
	// Items without Details are containers, not recordings.
	Details    *tivoDetails `xml:"Details"`
	ContentURL string       `xml:"Links>Content>Url"`
}

type tivoDetails struct {
	Title string `xml:"Title"`
	// Pointer so that a recording with no episode concept (movie/one-off)
	// is distinguishable from one with an empty episode title.
	EpisodeTitle *string `xml:"EpisodeTitle"`
}

// The listing carries a single default namespace declaration; strip it once
// so unqualified element names resolve during decoding.
var reDefaultXMLNS = regexp.MustCompile(` xmlns="[^"]+"`)

func stripDefaultNamespace(doc []byte) []byte {
	loc := reDefaultXMLNS.FindIndex(doc)
	if loc == nil {
		return doc
	}
	out := make([]byte, 0, len(doc)-(loc[1]-loc[0]))
	out = append(out, doc[:loc[0]]...)
	out = append(out, doc[loc[1]:]...)
	return out
}

// Find walks the listing in increasing-offset order. A page reporting zero
// items terminates the walk. Matching follows the device semantics:
//   - titles compare exact and case-sensitive;
//   - when an episode title is requested, the first equal-title episode wins
//     and the walk stops (episode titles are assumed unique per series);
//   - a non-episodic title with no episode requested has exactly one
//     recording, so the walk stops at the first hit.
func (ti *TivoIndex) Find(ctx context.Context, title, episode string) ([]domain.RecordingMatch, error) {
	var matches []domain.RecordingMatch

	offset := 0
	for {
		page, err := ti.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		if page.ItemCount == 0 {
			break
		}

		for _, item := range page.Items {
			if item.Details == nil {
				continue
			}
			if item.Details.Title != title {
				continue
			}

			if item.Details.EpisodeTitle != nil {
				if episode != "" && episode != *item.Details.EpisodeTitle {
					continue
				}
				match, err := ti.newMatch(title, *item.Details.EpisodeTitle, item)
				if err != nil {
					return nil, err
				}
				matches = append(matches, match)
				if episode != "" {
					return matches, nil
				}
			} else if episode == "" {
				match, err := ti.newMatch(title, "", item)
				if err != nil {
					return nil, err
				}
				matches = append(matches, match)
				return matches, nil
			}
		}

		offset += page.ItemCount
	}

	return matches, nil
}

func (ti *TivoIndex) fetchPage(ctx context.Context, offset int) (*tivoContainer, error) {
	url := fmt.Sprintf(
		"%s/TiVoConnect?Command=QueryContainer&Container=%%2FNowPlaying&Recurse=Yes&AnchorOffset=%d",
		ti.baseURL, offset)

	ti.logger.Debug().Int("offset", offset).Msg("fetching device listing page")
	resp, err := ti.gateway.Send(ctx, VerbGet, url, RequestOptions{
		Timeout:     tivoListingTimeout,
		DigestUser:  tivoDigestUser,
		DigestPass:  ti.mak,
		InsecureTLS: true,
		FailOnError: true,
		ErrorMsg:    "The request to get the recordings from Tivo failed.",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CodedError{Code: "network_error", Message: "The request to get the recordings from Tivo failed.", Err: err}
	}

	var page tivoContainer
	if err := xml.Unmarshal(stripDefaultNamespace(raw), &page); err != nil {
		return nil, &CodedError{Code: "malformed_response", Message: "The data received from Tivo was in an unexpected format", Err: err}
	}
	return &page, nil
}

func (ti *TivoIndex) newMatch(title, episode string, item tivoItem) (domain.RecordingMatch, error) {
	if item.ContentURL == "" {
		return domain.RecordingMatch{}, &CodedError{
			Code:    "malformed_response",
			Message: fmt.Sprintf("The device response for %q was missing Links>Content>Url", title),
		}
	}
	return domain.RecordingMatch{
		Title:        title,
		EpisodeTitle: episode,
		Link:         item.ContentURL + tivoFormatSuffix,
	}, nil
}
