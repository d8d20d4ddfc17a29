// Package ingest drives paginated fetches against the remote weibo API,
// normalizes raw JSON into storage rows, and schedules bounded-concurrency
// media downloads.
package ingest

import (
	"context"
	encjson "encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimelineFilter narrows a user timeline fetch to one media kind, mirroring
// the filter the remote's own timeline endpoint accepts.
type TimelineFilter string

const (
	FilterNormal  TimelineFilter = "normal"
	FilterOriginal TimelineFilter = "original"
	FilterPicture TimelineFilter = "picture"
	FilterVideo   TimelineFilter = "video"
	FilterArticle TimelineFilter = "article"
)

// RawPostsPage is one page of the remote's paginated post feed, still in
// its wire JSON form. Total is the remote's own reported total item count,
// when it supplies one — used only for progress heuristics.
type RawPostsPage struct {
	Posts []encjson.RawMessage
	Total *int
}

// ErrAlreadyUnfavorited is returned by Unfavorite when the remote reports
// the post was already off the favorites list — the Unfavorite job treats
// this the same as success.
var ErrAlreadyUnfavorited = errors.New("ingest: post was already unfavorited upstream")

// RemoteClient is the external, authenticated weibo API surface the core
// consumes but does not implement. Request signing, cookie handling and
// low-level transport retry all live on the other side of this interface.
type RemoteClient interface {
	FetchFavoritesPage(ctx context.Context, page int) (RawPostsPage, error)
	FetchUserTimelinePage(ctx context.Context, uid int64, page int, filter TimelineFilter) (RawPostsPage, error)
	FetchPost(ctx context.Context, id int64) (encjson.RawMessage, error)
	Unfavorite(ctx context.Context, id int64) error
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	SearchUsers(ctx context.Context, prefix string) (encjson.RawMessage, error)
}

// TransientError wraps a network-level failure (timeout, DNS, connection
// reset, 5xx) that is safe to retry.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError signals a 429 response. RetryAfter carries the
// upstream's Retry-After hint, if any.
type RateLimitedError struct {
	RetryAfter *time.Duration
}

func (e *RateLimitedError) Error() string { return "rate limited" }

// PermanentError wraps a non-retryable HTTP status (4xx other than 429).
type PermanentError struct{ Status int }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error, status %d", e.Status) }

// DecodeError wraps a JSON decode failure for a single record.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("decode error: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// classifyError sorts err into transient (retry with backoff), rate
// limited (a 429, retried after a pause) or permanent (fail the download
// immediately). Errors of no known kind count as permanent.
func classifyError(err error) (transient bool, rateLimited *RateLimitedError, permanent bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return true, nil, false
	}
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return false, rle, false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		if pe.Status == 429 {
			return false, &RateLimitedError{}, false
		}
		return false, nil, true
	}
	return false, nil, true
}
