package remoteapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/weibackapp/weiback/internal/ingest"
)

// Client is the thin, real network implementation of
// ingest.RemoteClient. It talks to the mobile web API surface over plain
// net/http, signing requests with whatever cookie the session file holds.
// It does not attempt to sign in or refresh an expired cookie itself —
// that belongs to the auth flow this program treats as an external
// collaborator.
type Client struct {
	base    string
	session func() string
	http    *http.Client
}

func NewClient(session func() string) *Client {
	return &Client{
		base:    "https://m.weibo.cn",
		session: session,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.base + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("User-Agent", "weiback/1.0")
	if s := c.session(); s != "" {
		req.Header.Set("Cookie", "SUB="+s)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ingest.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ingest.TransientError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter *time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				d := time.Duration(secs) * time.Second
				retryAfter = &d
			}
		}
		return nil, &ingest.RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return nil, &ingest.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ingest.PermanentError{Status: resp.StatusCode}
	}
	return body, nil
}

type cardsEnvelope struct {
	Data struct {
		Cards []struct {
			Mblog json.RawMessage `json:"mblog"`
		} `json:"cards"`
		TotalNumber *int `json:"total"`
	} `json:"data"`
}

func (c *Client) FetchFavoritesPage(ctx context.Context, page int) (ingest.RawPostsPage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/container/getIndex", url.Values{
		"containerid": {"230869"},
		"page":        {strconv.Itoa(page)},
	})
	if err != nil {
		return ingest.RawPostsPage{}, err
	}
	return decodeCards(body)
}

func (c *Client) FetchUserTimelinePage(ctx context.Context, uid int64, page int, filter ingest.TimelineFilter) (ingest.RawPostsPage, error) {
	containerID := "107603" + strconv.FormatInt(uid, 10)
	q := url.Values{
		"containerid": {containerID},
		"uid":         {strconv.FormatInt(uid, 10)},
		"page":        {strconv.Itoa(page)},
	}
	if filter != "" && filter != ingest.FilterNormal {
		q.Set("category", string(filter))
	}
	body, err := c.do(ctx, http.MethodGet, "/api/container/getIndex", q)
	if err != nil {
		return ingest.RawPostsPage{}, err
	}
	return decodeCards(body)
}

func decodeCards(body []byte) (ingest.RawPostsPage, error) {
	var env cardsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ingest.RawPostsPage{}, &ingest.DecodeError{Err: err}
	}
	page := ingest.RawPostsPage{Total: env.Data.TotalNumber}
	for _, card := range env.Data.Cards {
		if len(card.Mblog) > 0 {
			page.Posts = append(page.Posts, card.Mblog)
		}
	}
	return page, nil
}

func (c *Client) FetchPost(ctx context.Context, id int64) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/statuses/show", url.Values{
		"id": {strconv.FormatInt(id, 10)},
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) Unfavorite(ctx context.Context, id int64) error {
	body, err := c.do(ctx, http.MethodPost, "/api/favorites/destroy", url.Values{
		"id": {strconv.FormatInt(id, 10)},
	})
	if err != nil {
		var perm *ingest.PermanentError
		if asPermanent(err, &perm) && perm.Status == http.StatusNotFound {
			return ingest.ErrAlreadyUnfavorited
		}
		return err
	}
	var ack struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return &ingest.DecodeError{Err: err}
	}
	if !ack.Result {
		return ingest.ErrAlreadyUnfavorited
	}
	return nil
}

func asPermanent(err error, target **ingest.PermanentError) bool {
	pe, ok := err.(*ingest.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("User-Agent", "weiback/1.0")
	req.Header.Set("Referer", c.base+"/")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ingest.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(2+rand.Intn(3)) * time.Second
		return nil, &ingest.RateLimitedError{RetryAfter: &wait}
	case resp.StatusCode >= 500:
		return nil, &ingest.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &ingest.PermanentError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) SearchUsers(ctx context.Context, prefix string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/container/getIndex", url.Values{
		"containerid": {"100103type=3&q=" + prefix},
	})
	if err != nil {
		return nil, err
	}
	var env struct {
		Data struct {
			Cards []struct {
				CardGroup []struct {
					User json.RawMessage `json:"user"`
				} `json:"card_group"`
			} `json:"cards"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ingest.DecodeError{Err: err}
	}
	var users []json.RawMessage
	for _, card := range env.Data.Cards {
		for _, group := range card.CardGroup {
			if len(group.User) > 0 {
				users = append(users, group.User)
			}
		}
	}
	return json.Marshal(users)
}
