// Package storage implements WeiBack's single-file embedded relational
// store: schema migrations, transactional upserts for posts/users/media,
// and the raw query primitives the query package compiles filters into.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// User mirrors a weibo account as far as WeiBack needs to render and
// attribute posts.
type User struct {
	ID              int64
	ScreenName      string
	AvatarLarge     string
	ProfileImageURL string
	Domain          string
	Following       bool
	FollowMe        bool
}

// Post is one microblog entry, possibly retweeting another.
type Post struct {
	ID             int64
	Mblogid        string
	UID            int64
	Text           string
	CreatedAt      int64
	Favorited      bool
	RetweetedID    *int64
	PicIDs         string
	PicInfos       string
	MixMediaInfo   string
	URLStruct      string
	RegionName     string
	Source         string
	AttitudesCount int
	CommentsCount  int
	RepostsCount   int
	Deleted        bool
}

// FavoritedPost records that a post was ever seen in the favorites feed,
// independent of whether it has since been unfavorited upstream.
type FavoritedPost struct {
	ID          int64
	Unfavorited bool
}

// Picture is one resolution variant of a logical image, keyed by its own
// URL. Multiple rows can share ID (other resolutions of the same image).
type Picture struct {
	URL        string
	ID         string
	Definition Definition
	Path       *string
	PostID     *int64
	UserID     *int64
}

// Video is a post-attached video, keyed by its own URL.
type Video struct {
	URL    string
	Path   *string
	PostID int64
}

// ErrNotFound is returned by single-row lookups that find nothing. It is
// deliberately distinct from generic SQL errors so callers (e.g. the media
// blob endpoint) can render a "not found" state without logging noise, per
// the storage layer's Not Found error kind.
var ErrNotFound = errors.New("storage: not found")

// Store is WeiBack's embedded database. Writes are serialized through a
// single connection; reads use a small pool. Both point at the same file.
type Store struct {
	write *sql.DB
	read  *sql.DB
	log   *zap.Logger
}

// NewStore opens (creating if needed) the SQLite database at dbPath,
// applies the base schema and any pending migrations, and returns a Store
// ready for concurrent use.
func NewStore(dbPath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"

	write, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open write handle: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", dsn)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read handle: %w", err)
	}
	read.SetMaxOpenConns(4)

	if _, err := write.Exec(schema); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("apply base schema: %w", err)
	}
	if err := applyMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{write: write, read: read, log: log}, nil
}

// Close releases both underlying database handles.
func (s *Store) Close() error {
	err1 := s.write.Close()
	err2 := s.read.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// isUniqueViolation matches modernc.org/sqlite's constraint-violation error
// text. There is no typed sentinel exposed by the driver. Nothing in this
// package calls it; the upserts use ON CONFLICT clauses instead.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the same upsert
// helpers run standalone or as part of a larger transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertUser inserts or updates a user row.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	return s.upsertUserTx(ctx, s.write, u)
}

func (s *Store) upsertUserTx(ctx context.Context, ex execer, u User) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, screen_name, avatar_large, profile_image_url, domain, following, follow_me)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			screen_name = excluded.screen_name,
			avatar_large = excluded.avatar_large,
			profile_image_url = excluded.profile_image_url,
			domain = excluded.domain,
			following = excluded.following,
			follow_me = excluded.follow_me`,
		u.ID, u.ScreenName, u.AvatarLarge, u.ProfileImageURL, u.Domain, u.Following, u.FollowMe,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (s *Store) upsertPostTx(ctx context.Context, ex execer, p Post) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO posts (id, mblogid, uid, text, created_at, favorited, retweeted_id,
			pic_ids, pic_infos, mix_media_info, url_struct, region_name, source,
			attitudes_count, comments_count, reposts_count, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mblogid = excluded.mblogid,
			uid = excluded.uid,
			text = excluded.text,
			created_at = excluded.created_at,
			favorited = excluded.favorited OR posts.favorited,
			retweeted_id = excluded.retweeted_id,
			pic_ids = excluded.pic_ids,
			pic_infos = excluded.pic_infos,
			mix_media_info = excluded.mix_media_info,
			url_struct = excluded.url_struct,
			region_name = excluded.region_name,
			source = excluded.source,
			attitudes_count = excluded.attitudes_count,
			comments_count = excluded.comments_count,
			reposts_count = excluded.reposts_count,
			deleted = excluded.deleted`,
		p.ID, p.Mblogid, p.UID, p.Text, p.CreatedAt, p.Favorited, p.RetweetedID,
		p.PicIDs, p.PicInfos, p.MixMediaInfo, p.URLStruct, p.RegionName, p.Source,
		p.AttitudesCount, p.CommentsCount, p.RepostsCount, p.Deleted,
	)
	if err != nil {
		return fmt.Errorf("upsert post %d: %w", p.ID, err)
	}
	return nil
}

// UpsertPostWithRefs writes a post, its owner, and (if present) an embedded
// retweet plus its owner, all in one transaction. The retweet row is
// inserted before the parent so the parent's retweeted_id FK is always
// satisfiable, and never recurses beyond this single embedded level.
func (s *Store) UpsertPostWithRefs(ctx context.Context, post Post, owner User, retweet *Post, retweetOwner *User) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	if retweet != nil {
		if retweetOwner != nil {
			if err := s.upsertUserTx(ctx, tx, *retweetOwner); err != nil {
				return err
			}
		}
		if err := s.upsertPostTx(ctx, tx, *retweet); err != nil {
			return err
		}
	}
	if err := s.upsertUserTx(ctx, tx, owner); err != nil {
		return err
	}
	if err := s.upsertPostTx(ctx, tx, post); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkFavorited records id as favorited (idempotent).
func (s *Store) MarkFavorited(ctx context.Context, id int64) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO favorited_posts (id, unfavorited) VALUES (?, 0)
		ON CONFLICT(id) DO UPDATE SET unfavorited = 0`, id)
	if err != nil {
		return fmt.Errorf("mark favorited %d: %w", id, err)
	}
	return nil
}

// MarkUnfavorited flips a favorited_posts row to unfavorited.
func (s *Store) MarkUnfavorited(ctx context.Context, id int64) error {
	_, err := s.write.ExecContext(ctx, `
		UPDATE favorited_posts SET unfavorited = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark unfavorited %d: %w", id, err)
	}
	return nil
}

// ListFavoritedPosts returns every favorited_posts row.
func (s *Store) ListFavoritedPosts(ctx context.Context) ([]FavoritedPost, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id, unfavorited FROM favorited_posts`)
	if err != nil {
		return nil, fmt.Errorf("list favorited posts: %w", err)
	}
	defer rows.Close()

	var out []FavoritedPost
	for rows.Next() {
		var fp FavoritedPost
		if err := rows.Scan(&fp.ID, &fp.Unfavorited); err != nil {
			return nil, fmt.Errorf("scan favorited post: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// ListPendingUnfavorited returns ids still marked unfavorited=false,
// awaiting the Unfavorite job.
func (s *Store) ListPendingUnfavorited(ctx context.Context) ([]int64, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id FROM favorited_posts WHERE unfavorited = 0`)
	if err != nil {
		return nil, fmt.Errorf("list pending unfavorited: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending unfavorited: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertPictureIfAbsent registers a picture-variant URL. Already-present
// rows are left untouched (unique on url).
func (s *Store) InsertPictureIfAbsent(ctx context.Context, url, id string, definition Definition, postID, userID *int64) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT OR IGNORE INTO pictures (url, id, definition, post_id, user_id)
		VALUES (?, ?, ?, ?, ?)`, url, id, int(definition), postID, userID)
	if err != nil {
		return fmt.Errorf("insert picture %s: %w", url, err)
	}
	return nil
}

// SetPicturePath records the on-disk path for a downloaded picture.
func (s *Store) SetPicturePath(ctx context.Context, url, path string) error {
	_, err := s.write.ExecContext(ctx, `UPDATE pictures SET path = ? WHERE url = ?`, path, url)
	if err != nil {
		return fmt.Errorf("set picture path %s: %w", url, err)
	}
	return nil
}

// InsertVideoIfAbsent registers a video URL for a post.
func (s *Store) InsertVideoIfAbsent(ctx context.Context, url string, postID int64) error {
	_, err := s.write.ExecContext(ctx, `
		INSERT OR IGNORE INTO videos (url, post_id) VALUES (?, ?)`, url, postID)
	if err != nil {
		return fmt.Errorf("insert video %s: %w", url, err)
	}
	return nil
}

// SetVideoPath records the on-disk path for a downloaded video.
func (s *Store) SetVideoPath(ctx context.Context, url, path string) error {
	_, err := s.write.ExecContext(ctx, `UPDATE videos SET path = ? WHERE url = ?`, path, url)
	if err != nil {
		return fmt.Errorf("set video path %s: %w", url, err)
	}
	return nil
}

// DeletePostCascade removes a post and everything owned by it. It returns
// the relative media paths that existed on disk so the caller can delete
// the underlying files via MediaRepository — filesystem deletion is not
// transactional and happens outside the DB transaction. Posts that only
// reference the deleted post as a retweet parent are left in place with
// their retweeted_id cleared.
func (s *Store) DeletePostCascade(ctx context.Context, id int64) ([]string, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	var paths []string
	rows, err := tx.QueryContext(ctx, `SELECT path FROM pictures WHERE post_id = ? AND path IS NOT NULL`, id)
	if err != nil {
		return nil, fmt.Errorf("collect picture paths for %d: %w", id, err)
	}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := tx.QueryContext(ctx, `SELECT path FROM videos WHERE post_id = ? AND path IS NOT NULL`, id)
	if err != nil {
		return nil, fmt.Errorf("collect video paths for %d: %w", id, err)
	}
	for vrows.Next() {
		var p string
		if err := vrows.Scan(&p); err != nil {
			vrows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	vrows.Close()
	if err := vrows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE posts SET retweeted_id = NULL WHERE retweeted_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear retweet refs to %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete post %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete %d: %w", id, err)
	}
	return paths, nil
}

// GetPost returns a single post by id.
func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, mblogid, uid, text, created_at, favorited, retweeted_id,
			pic_ids, pic_infos, mix_media_info, url_struct, region_name, source,
			attitudes_count, comments_count, reposts_count, deleted
		FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %d: %w", id, err)
	}
	return p, nil
}

// GetUser returns a single user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.read.QueryRowContext(ctx, `
		SELECT id, screen_name, avatar_large, profile_image_url, domain, following, follow_me
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.ScreenName, &u.AvatarLarge, &u.ProfileImageURL, &u.Domain, &u.Following, &u.FollowMe)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// QueryUsersWithPrefix returns users whose screen name starts with prefix,
// backing search_id_by_username_prefix.
func (s *Store) QueryUsersWithPrefix(ctx context.Context, prefix string) ([]User, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, screen_name, avatar_large, profile_image_url, domain, following, follow_me
		FROM users WHERE screen_name LIKE ? ESCAPE '\' ORDER BY screen_name`,
		escapeLikePrefix(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("query users with prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ScreenName, &u.AvatarLarge, &u.ProfileImageURL, &u.Domain, &u.Following, &u.FollowMe); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func escapeLikePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// QueryPictureIDsByPost returns the distinct logical picture ids attached
// to a post. The order of the returned ids is not defined.
func (s *Store) QueryPictureIDsByPost(ctx context.Context, postID int64) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT DISTINCT id FROM pictures WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("query picture ids for post %d: %w", postID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QueryPicturesForPost returns every picture row (all resolution
// variants, all logical ids) attached to a post, for rendering.
func (s *Store) QueryPicturesForPost(ctx context.Context, postID int64) ([]Picture, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT url, id, definition, path, post_id, user_id FROM pictures WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("query pictures for post %d: %w", postID, err)
	}
	defer rows.Close()
	return scanPictures(rows)
}

// QueryVideosForPost returns every video row attached to a post.
func (s *Store) QueryVideosForPost(ctx context.Context, postID int64) ([]Video, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT url, path, post_id FROM videos WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("query videos for post %d: %w", postID, err)
	}
	defer rows.Close()

	var vids []Video
	for rows.Next() {
		var v Video
		var path sql.NullString
		if err := rows.Scan(&v.URL, &path, &v.PostID); err != nil {
			return nil, err
		}
		if path.Valid {
			p := path.String
			v.Path = &p
		}
		vids = append(vids, v)
	}
	return vids, rows.Err()
}

// QueryResolutionVariants returns every stored resolution variant of a
// logical picture id, unordered — callers pick the extremal one by policy.
func (s *Store) QueryResolutionVariants(ctx context.Context, pictureID string) ([]Picture, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT url, id, definition, path, post_id, user_id FROM pictures WHERE id = ?`, pictureID)
	if err != nil {
		return nil, fmt.Errorf("query resolution variants for %s: %w", pictureID, err)
	}
	defer rows.Close()
	return scanPictures(rows)
}

// CountPictureVariants returns how many resolution rows exist for a
// logical picture id.
func (s *Store) CountPictureVariants(ctx context.Context, pictureID string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM pictures WHERE id = ?`, pictureID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count picture variants for %s: %w", pictureID, err)
	}
	return n, nil
}

// ListDuplicatePictureIDs returns every logical picture id that has more
// than one stored resolution row, for CleanupPictures.
func (s *Store) ListDuplicatePictureIDs(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id FROM pictures GROUP BY id HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("list duplicate picture ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePicture removes a picture row and returns its stored path, if any,
// so the caller can remove the backing file.
func (s *Store) DeletePicture(ctx context.Context, url string) (*string, error) {
	var path sql.NullString
	err := s.write.QueryRowContext(ctx, `SELECT path FROM pictures WHERE url = ?`, url).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup picture %s: %w", url, err)
	}
	if _, err := s.write.ExecContext(ctx, `DELETE FROM pictures WHERE url = ?`, url); err != nil {
		return nil, fmt.Errorf("delete picture %s: %w", url, err)
	}
	if !path.Valid {
		return nil, nil
	}
	return &path.String, nil
}

// DeletePictures removes a group of picture rows (by url) in a single
// transaction, returning the stored paths (if any) of the rows removed,
// for the caller to delete outside the transaction. Used by Cleanup so
// one picture-id or user's discarded variants disappear atomically.
func (s *Store) DeletePictures(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete pictures tx: %w", err)
	}
	defer tx.Rollback()

	var paths []string
	for _, url := range urls {
		var path sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT path FROM pictures WHERE url = ?`, url).Scan(&path)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup picture %s: %w", url, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pictures WHERE url = ?`, url); err != nil {
			return nil, fmt.Errorf("delete picture %s: %w", url, err)
		}
		if path.Valid {
			paths = append(paths, path.String)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete pictures tx: %w", err)
	}
	return paths, nil
}

// ListAllUsers returns every user row, for CleanupAvatars.
func (s *Store) ListAllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, screen_name, avatar_large, profile_image_url, domain, following, follow_me FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list all users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.ScreenName, &u.AvatarLarge, &u.ProfileImageURL, &u.Domain, &u.Following, &u.FollowMe); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListAvatarPicturesForUser returns every picture row tagged with
// user_id = userID (i.e. every avatar ever downloaded for that user).
func (s *Store) ListAvatarPicturesForUser(ctx context.Context, userID int64) ([]Picture, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT url, id, definition, path, post_id, user_id FROM pictures WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list avatar pictures for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanPictures(rows)
}

// QueryPosts runs a caller-compiled SELECT (see the query package) and
// scans the results into Post values.
func (s *Store) QueryPosts(ctx context.Context, sqlSelect string, args []any) ([]Post, error) {
	rows, err := s.read.QueryContext(ctx, sqlSelect, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// CountPosts runs a caller-compiled COUNT(*) query with the same
// predicates as QueryPosts but no LIMIT/OFFSET.
func (s *Store) CountPosts(ctx context.Context, sqlCount string, args []any) (int, error) {
	var total int
	if err := s.read.QueryRowContext(ctx, sqlCount, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return total, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var retweetedID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Mblogid, &p.UID, &p.Text, &p.CreatedAt, &p.Favorited, &retweetedID,
		&p.PicIDs, &p.PicInfos, &p.MixMediaInfo, &p.URLStruct, &p.RegionName, &p.Source,
		&p.AttitudesCount, &p.CommentsCount, &p.RepostsCount, &p.Deleted); err != nil {
		return nil, err
	}
	if retweetedID.Valid {
		id := retweetedID.Int64
		p.RetweetedID = &id
	}
	return &p, nil
}

func scanPictures(rows *sql.Rows) ([]Picture, error) {
	var pics []Picture
	for rows.Next() {
		var pic Picture
		var def int
		var path sql.NullString
		var postID, userID sql.NullInt64
		if err := rows.Scan(&pic.URL, &pic.ID, &def, &path, &postID, &userID); err != nil {
			return nil, err
		}
		pic.Definition = Definition(def)
		if path.Valid {
			p := path.String
			pic.Path = &p
		}
		if postID.Valid {
			id := postID.Int64
			pic.PostID = &id
		}
		if userID.Valid {
			id := userID.Int64
			pic.UserID = &id
		}
		pics = append(pics, pic)
	}
	return pics, rows.Err()
}
