package omdb

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Wire discriminant values carried in the "Response" field.
const (
	responseListing = "True"
	responseFailure = "False"
)

// ErrUnknownResponse is returned when a payload carries neither discriminant.
var ErrUnknownResponse = errors.New("unknown OMDb response discriminant")

type rawMovie struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

type rawResponse struct {
	Response     string     `json:"Response"`
	Search       []rawMovie `json:"Search"`
	TotalResults totalCount `json:"totalResults"`
	Error        string     `json:"Error"`
}

// totalCount accepts both "37" and 37; OMDb sends the former.
type totalCount int

func (t *totalCount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse totalResults %q: %w", s, err)
	}
	*t = totalCount(n)
	return nil
}

// Decode parses one OMDb search payload into a Listing or a Failure.
func Decode(data []byte) (PageResult, error) {
	var raw rawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	switch raw.Response {
	case responseListing:
		if raw.TotalResults < 0 {
			return nil, fmt.Errorf("decode search response: negative totalResults %d", raw.TotalResults)
		}
		movies := make([]Movie, 0, len(raw.Search))
		for _, m := range raw.Search {
			movies = append(movies, Movie{
				Title:  m.Title,
				Year:   m.Year,
				IMDbID: m.IMDbID,
				Type:   m.Type,
				Poster: parsePoster(m.Poster),
			})
		}
		return Listing{Movies: movies, TotalResults: int(raw.TotalResults)}, nil
	case responseFailure:
		return Failure{Message: raw.Error}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResponse, raw.Response)
	}
}

// parsePoster returns nil for "N/A" and anything that is not an absolute
// http(s) URL.
func parsePoster(s string) *url.URL {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil
	}
	return u
}
