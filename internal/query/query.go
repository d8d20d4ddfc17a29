// Package query compiles a typed Filter into the parameterized SQL that
// internal/storage's raw QueryPosts/CountPosts entry points execute.
package query

import (
	"fmt"
	"strings"
)

// SortOrder controls the direction posts are returned in.
type SortOrder string

const (
	SortNewestFirst SortOrder = "newest_first"
	SortOldestFirst SortOrder = "oldest_first"
)

// Filter describes which posts to select, optionally full-text searched.
type Filter struct {
	UID          *int64
	OnlyFavorite bool
	SearchTerm   string
	Since        *int64
	Until        *int64
	Sort         SortOrder
	Limit        int
	Offset       int
}

// Compile builds the SELECT (and its accompanying COUNT) for a Filter.
// The FTS bridge join against posts_fts only appears when SearchTerm is
// non-empty, keeping the common unfiltered case a plain indexed scan.
func (f Filter) Compile() (selectSQL string, countSQL string, args []any) {
	var where []string
	var whereArgs []any

	base := "FROM posts"
	if f.OnlyFavorite {
		base += " JOIN favorited_posts ON favorited_posts.id = posts.id"
	}
	if f.SearchTerm != "" {
		base += " JOIN posts_fts ON posts_fts.rowid = posts.id"
		where = append(where, "posts_fts MATCH ?")
		whereArgs = append(whereArgs, f.SearchTerm)
	}
	if f.UID != nil {
		where = append(where, "posts.uid = ?")
		whereArgs = append(whereArgs, *f.UID)
	}
	if f.OnlyFavorite {
		where = append(where, "favorited_posts.unfavorited = 0")
	}
	if f.Since != nil {
		where = append(where, "posts.created_at >= ?")
		whereArgs = append(whereArgs, *f.Since)
	}
	if f.Until != nil {
		where = append(where, "posts.created_at <= ?")
		whereArgs = append(whereArgs, *f.Until)
	}
	where = append(where, "posts.deleted = 0")

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	order := "posts.created_at DESC, posts.id DESC"
	if f.Sort == SortOldestFirst {
		order = "posts.created_at ASC, posts.id ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	selectSQL = fmt.Sprintf(`
		SELECT posts.id, posts.mblogid, posts.uid, posts.text, posts.created_at,
			posts.favorited, posts.retweeted_id, posts.pic_ids, posts.pic_infos,
			posts.mix_media_info, posts.url_struct, posts.region_name, posts.source,
			posts.attitudes_count, posts.comments_count, posts.reposts_count, posts.deleted
		%s%s ORDER BY %s LIMIT ? OFFSET ?`, base, whereClause, order)
	countSQL = fmt.Sprintf(`SELECT COUNT(*) %s%s`, base, whereClause)

	selectArgs := append(append([]any{}, whereArgs...), limit, f.Offset)
	return selectSQL, countSQL, selectArgs
}

// CountArgs returns just the WHERE-clause arguments, for use with the
// countSQL returned by Compile (which has no LIMIT/OFFSET placeholders).
func (f Filter) CountArgs(selectArgs []any) []any {
	return selectArgs[:len(selectArgs)-2]
}
