package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const tvdbTimeout = 30 * time.Second

// TVDBCredentials are the three values required to authenticate to The TVDB.
// Enrichment is attempted only when all three are supplied.
type TVDBCredentials struct {
	APIKey   string
	UserKey  string
	Username string
}

func (c TVDBCredentials) Complete() bool {
	return c.APIKey != "" && c.UserKey != "" && c.Username != ""
}

// TVDBClient resolves a (series, episode title) pair to season and episode
// numbers via The TVDB's login + paginated episode search.
//
// In tolerant mode (failOnError=false) every failure, including an episode
// missing from the catalog, degrades to (0, 0, nil) so the caller proceeds
// with unknown numbers instead of aborting the run.
type TVDBClient struct {
	logger      zerolog.Logger
	gateway     *Gateway
	endpoint    string
	creds       TVDBCredentials
	failOnError bool
}

func NewTVDBClient(logger zerolog.Logger, gateway *Gateway, creds TVDBCredentials, failOnError bool) *TVDBClient {
	return &TVDBClient{
		logger:      logger,
		gateway:     gateway,
		endpoint:    "https://api.thetvdb.com",
		creds:       creds,
		failOnError: failOnError,
	}
}

// WithEndpoint overrides the service endpoint, mainly for tests.
func (c *TVDBClient) WithEndpoint(endpoint string) *TVDBClient {
	if strings.TrimSpace(endpoint) != "" {
		c.endpoint = strings.TrimSpace(endpoint)
	}
	return c
}

type tvdbLoginRequest struct {
	APIKey   string `json:"apikey"`
	UserKey  string `json:"userkey"`
	Username string `json:"username"`
}

type tvdbLoginResponse struct {
	Token string `json:"token"`
}

type tvdbSeriesSearchResponse struct {
	Data []struct {
		ID int `json:"id"`
	} `json:"data"`
}

type tvdbEpisodesResponse struct {
	Data []struct {
		EpisodeName        string `json:"episodeName"`
		AiredSeason        int    `json:"airedSeason"`
		AiredEpisodeNumber int    `json:"airedEpisodeNumber"`
	} `json:"data"`
	Links struct {
		Next *int `json:"next"`
	} `json:"links"`
}

// Resolve runs the two-phase lookup: authenticate, find the series, then
// page through its episode list until the episode title matches.
//
// Episode titles compare case-insensitively after trimming: they are free
// text and the device and catalog capitalize them differently often enough
// to matter.
func (c *TVDBClient) Resolve(ctx context.Context, series, episode string) (int, int, error) {
	token, ok, err := c.login(ctx)
	if err != nil || !ok {
		return 0, 0, err
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	seriesID, ok, err := c.seriesID(ctx, headers, series)
	if err != nil || !ok {
		return 0, 0, err
	}

	return c.findEpisode(ctx, headers, seriesID, series, episode)
}

func (c *TVDBClient) login(ctx context.Context) (token string, ok bool, err error) {
	resp, err := c.gateway.Send(ctx, VerbPost, c.endpoint+"/login", RequestOptions{
		JSONBody: tvdbLoginRequest{
			APIKey:   c.creds.APIKey,
			UserKey:  c.creds.UserKey,
			Username: c.creds.Username,
		},
		Timeout:     tvdbTimeout,
		FailOnError: c.failOnError,
		ErrorMsg:    "The request failed attempting to login to The TVDB",
	})
	if err != nil {
		return "", false, err
	}
	if resp == nil {
		return "", false, nil
	}
	defer resp.Body.Close()

	var out tvdbLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, &CodedError{Code: "malformed_response", Message: "The TVDB login response was in an unexpected format", Err: err}
	}
	return out.Token, true, nil
}

// seriesID takes the first search result. Ties between series sharing a
// name are not broken; first result wins.
func (c *TVDBClient) seriesID(ctx context.Context, headers map[string]string, series string) (int, bool, error) {
	searchURL := c.endpoint + "/search/series?" + url.Values{"name": {series}}.Encode()
	resp, err := c.gateway.Send(ctx, VerbGet, searchURL, RequestOptions{
		Headers:     headers,
		Timeout:     tvdbTimeout,
		FailOnError: c.failOnError,
		ErrorMsg:    fmt.Sprintf("The request failed while getting the series %q in The TVDB", series),
	})
	if err != nil {
		return 0, false, err
	}
	if resp == nil {
		return 0, false, nil
	}
	defer resp.Body.Close()

	var out tvdbSeriesSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, false, &CodedError{Code: "malformed_response", Message: "The TVDB series search response was in an unexpected format", Err: err}
	}
	if len(out.Data) == 0 {
		if c.failOnError {
			return 0, false, &CodedError{
				Code:    "not_found",
				Message: fmt.Sprintf("The series %q could not be found on The TVDB", series),
			}
		}
		return 0, false, nil
	}
	return out.Data[0].ID, true, nil
}

func (c *TVDBClient) findEpisode(ctx context.Context, headers map[string]string, seriesID int, series, episode string) (int, int, error) {
	errorMsg := fmt.Sprintf("The request failed getting the episodes in the series %q from The TVDB", series)

	page := 1
	for {
		pageURL := fmt.Sprintf("%s/series/%d/episodes?%s",
			c.endpoint, seriesID, url.Values{"page": {fmt.Sprint(page)}}.Encode())
		resp, err := c.gateway.Send(ctx, VerbGet, pageURL, RequestOptions{
			Headers:     headers,
			Timeout:     tvdbTimeout,
			FailOnError: c.failOnError,
			ErrorMsg:    errorMsg,
		})
		if err != nil {
			return 0, 0, err
		}
		if resp == nil {
			return 0, 0, nil
		}

		var out tvdbEpisodesResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		_ = resp.Body.Close()
		if err != nil {
			return 0, 0, &CodedError{Code: "malformed_response", Message: "The TVDB episodes response was in an unexpected format", Err: err}
		}

		for _, ep := range out.Data {
			if strings.EqualFold(strings.TrimSpace(ep.EpisodeName), episode) {
				c.logger.Debug().
					Str("episode", episode).
					Int("season", ep.AiredSeason).
					Int("number", ep.AiredEpisodeNumber).
					Msg("episode resolved")
				return ep.AiredSeason, ep.AiredEpisodeNumber, nil
			}
		}

		if out.Links.Next == nil {
			if c.failOnError {
				return 0, 0, &CodedError{
					Code:    "not_found",
					Message: fmt.Sprintf("The episode %q could not be found on The TVDB", episode),
				}
			}
			return 0, 0, nil
		}
		page = *out.Links.Next
	}
}
