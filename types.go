package weiback

import (
	"context"
	"errors"
)

// ErrAuthRequired is returned by any command that needs a live session
// when no session file exists yet.
var ErrAuthRequired = errors.New("weiback: authentication required")

// AuthClient is the narrow external collaborator that owns login and the
// SMS code exchange. WeiBack's core consumes it but never implements the
// actual signing/cookie-jar logic behind it.
type AuthClient interface {
	LoginState(ctx context.Context) (bool, error)
	RequestSMSCode(ctx context.Context, phone string) error
	Login(ctx context.Context, phone, code string) (session string, err error)
}

// User is the public form of a weibo account.
type User struct {
	ID          int64  `json:"id"`
	ScreenName  string `json:"screen_name"`
	AvatarLarge string `json:"avatar_large"`
}

// Post is the public form of one backed-up microblog entry.
type Post struct {
	ID             int64  `json:"id"`
	Mblogid        string `json:"mblogid"`
	Owner          User   `json:"owner"`
	Text           string `json:"text"`
	CreatedAt      int64  `json:"created_at"`
	Favorited      bool   `json:"favorited"`
	RetweetedID    *int64 `json:"retweeted_id,omitempty"`
	AttitudesCount int    `json:"attitudes_count"`
	CommentsCount  int    `json:"comments_count"`
	RepostsCount   int    `json:"reposts_count"`
}

// TimelineFilter selects which media kind of a user's timeline to back
// up, mirroring the enum the remote API accepts.
type TimelineFilter string

const (
	TimelineNormal   TimelineFilter = "normal"
	TimelineOriginal TimelineFilter = "original"
	TimelinePicture  TimelineFilter = "picture"
	TimelineVideo    TimelineFilter = "video"
	TimelineArticle  TimelineFilter = "article"
)

// Query is the public shape of a local-posts query, matching spec.md
// §4.6 field-for-field.
type Query struct {
	UserID       *int64 `json:"user_id,omitempty"`
	StartDate    *int64 `json:"start_date,omitempty"`
	EndDate      *int64 `json:"end_date,omitempty"`
	IsFavorited  bool   `json:"is_favorited"`
	SearchTerm   string `json:"search_term,omitempty"`
	ReverseOrder bool   `json:"reverse_order"`
	Page         int    `json:"page"`
	PostsPerPage int    `json:"posts_per_page"`
}

// QueryResult pairs the matching page of posts with the unpaginated
// total, for pagination UIs.
type QueryResult struct {
	Posts      []Post `json:"posts"`
	TotalItems int    `json:"total_items"`
}

// ExportOptions names where and under what name an export lands.
type ExportOptions struct {
	TaskName  string `json:"task_name"`
	ExportDir string `json:"export_dir"`
}

// ExportResult reports what an export produced.
type ExportResult struct {
	TotalPosts int    `json:"total_posts"`
	Batches    int    `json:"batches"`
	OutputDir  string `json:"output_dir"`
}

// CleanupPolicy selects which resolution variant CleanupPictures keeps.
type CleanupPolicy string

const (
	CleanupKeepHighest CleanupPolicy = "highest"
	CleanupKeepLowest  CleanupPolicy = "lowest"
)

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	GroupsProcessed int `json:"groups_processed"`
	VariantsRemoved int `json:"variants_removed"`
}

// TaskStatus is the public form of the currently active (or most
// recently finished) job's state.
type TaskStatus struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Error    string `json:"error,omitempty"`
}

// SubTaskError is one non-fatal, record- or file-scoped failure surfaced
// from the drain-on-read buffer.
type SubTaskError struct {
	At      int64  `json:"at"`
	Context string `json:"context"`
	Error   string `json:"error"`
}
