// Package weiback is the public API for WeiBack's archival core: the
// Engine facade wires storage, media, ingestion, export, cleanup and
// task tracking behind the command surface listed in spec.md §6.
package weiback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/weibackapp/weiback/internal/cleanup"
	"github.com/weibackapp/weiback/internal/config"
	"github.com/weibackapp/weiback/internal/export"
	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/query"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
	"github.com/weibackapp/weiback/internal/unfavorite"
)

// Engine is the public API for WeiBack's archival pipeline. It wraps the
// embedded database, the content-addressed media repository, the
// ingestion pipeline, the exporter, the two cleanup jobs and the single
// active-job task manager.
type Engine struct {
	store      *storage.Store
	media      *media.Repository
	cache      *media.Cache
	downloader *ingest.Downloader
	pipeline   *ingest.Pipeline
	exporter   *export.Exporter
	tasks      *task.Manager
	cfg        *config.Store
	remote     ingest.RemoteClient
	auth       AuthClient
	log        *zap.Logger
}

// NewEngine opens (or creates) the database and media repository named by
// cfg and wires every collaborator an Engine command needs. remote and
// auth are external collaborators supplied by the adapter (CLI/MCP).
func NewEngine(cfg *config.Config, remote ingest.RemoteClient, auth AuthClient, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := storage.NewStore(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo, err := media.NewRepository(cfg.PicturePath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open media repository: %w", err)
	}

	cache, err := media.NewCache(media.DefaultCacheCapacity)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create media cache: %w", err)
	}

	downloader := ingest.NewDownloader(remote, repo, store, 8, log)
	tasks := task.NewManager()
	pipeline := ingest.NewPipeline(remote, store, downloader, tasks, log)
	exporter := export.NewExporter(store, repo, downloader, tasks, cfg.PostsPerHTML, log)

	return &Engine{
		store:      store,
		media:      repo,
		cache:      cache,
		downloader: downloader,
		pipeline:   pipeline,
		exporter:   exporter,
		tasks:      tasks,
		cfg:        config.NewStore(cfg),
		remote:     remote,
		auth:       auth,
		log:        log,
	}, nil
}

// Close releases the database handles held by the engine.
func (e *Engine) Close() error {
	return e.store.Close()
}

// --- auth ---

// LoginState reports whether a usable session exists.
func (e *Engine) LoginState(ctx context.Context) (bool, error) {
	if e.auth == nil {
		return false, ErrAuthRequired
	}
	return e.auth.LoginState(ctx)
}

// GetSMSCode requests a login SMS code be sent to phone.
func (e *Engine) GetSMSCode(ctx context.Context, phone string) error {
	if e.auth == nil {
		return ErrAuthRequired
	}
	return e.auth.RequestSMSCode(ctx, phone)
}

// Login exchanges a phone/code pair for a session and persists it to the
// configured session_path.
func (e *Engine) Login(ctx context.Context, phone, code string) error {
	if e.auth == nil {
		return ErrAuthRequired
	}
	session, err := e.auth.Login(ctx, phone, code)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	cfg := e.cfg.Snapshot()
	if err := os.WriteFile(cfg.SessionPath, []byte(session), 0o600); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// --- backup jobs ---

// BackupUser starts a job backing up uid's timeline, up to numPages
// pages, filtered to the given media kind.
func (e *Engine) BackupUser(ctx context.Context, uid int64, numPages int, filter TimelineFilter) (string, error) {
	jobCtx, id, err := e.tasks.StartJob(ctx, "backup_user")
	if err != nil {
		return "", err
	}
	cfg := e.cfg.Snapshot()
	go func() {
		err := e.pipeline.BackupUser(jobCtx, cfg, id, uid, numPages, ingest.TimelineFilter(filter))
		e.tasks.Finish(id, err)
	}()
	return id, nil
}

// BackupFavorites starts a job backing up the logged-in user's favorites,
// up to numPages pages.
func (e *Engine) BackupFavorites(ctx context.Context, numPages int) (string, error) {
	jobCtx, id, err := e.tasks.StartJob(ctx, "backup_favorites")
	if err != nil {
		return "", err
	}
	cfg := e.cfg.Snapshot()
	go func() {
		err := e.pipeline.BackupFavorites(jobCtx, cfg, id, numPages)
		e.tasks.Finish(id, err)
	}()
	return id, nil
}

// RebackupPost re-fetches and upserts a single post by id.
func (e *Engine) RebackupPost(ctx context.Context, id int64) (string, error) {
	jobCtx, taskID, err := e.tasks.StartJob(ctx, "rebackup_post")
	if err != nil {
		return "", err
	}
	cfg := e.cfg.Snapshot()
	go func() {
		err := e.pipeline.RebackupPost(jobCtx, cfg, taskID, id)
		e.tasks.Finish(taskID, err)
	}()
	return taskID, nil
}

// UnfavoritePosts starts a job unfavoriting every locally pending
// FavoritedPost row.
func (e *Engine) UnfavoritePosts(ctx context.Context) (string, error) {
	jobCtx, taskID, err := e.tasks.StartJob(ctx, "unfavorite_posts")
	if err != nil {
		return "", err
	}
	cfg := e.cfg.Snapshot()
	job := unfavorite.NewJob(e.remote, e.store, e.tasks, e.log)
	go func() {
		err := job.Run(jobCtx, cfg, taskID)
		e.tasks.Finish(taskID, err)
	}()
	return taskID, nil
}

// --- posts ---

// QueryLocalPosts compiles q and returns the matching page plus the
// unpaginated total.
func (e *Engine) QueryLocalPosts(ctx context.Context, q Query) (*QueryResult, error) {
	filter := query.Filter{
		UID:          q.UserID,
		OnlyFavorite: q.IsFavorited,
		SearchTerm:   q.SearchTerm,
		Since:        q.StartDate,
		Until:        q.EndDate,
	}
	if q.ReverseOrder {
		filter.Sort = query.SortOldestFirst
	} else {
		filter.Sort = query.SortNewestFirst
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	perPage := q.PostsPerPage
	if perPage <= 0 {
		perPage = 50
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	selectSQL, countSQL, args := filter.Compile()
	rows, err := e.store.QueryPosts(ctx, selectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("query local posts: %w", err)
	}
	total, err := e.store.CountPosts(ctx, countSQL, filter.CountArgs(args))
	if err != nil {
		return nil, fmt.Errorf("count local posts: %w", err)
	}

	posts := make([]Post, 0, len(rows))
	for _, p := range rows {
		owner, err := e.store.GetUser(ctx, p.UID)
		if err != nil {
			return nil, fmt.Errorf("load owner for post %d: %w", p.ID, err)
		}
		posts = append(posts, postFromInternal(p, *owner))
	}

	return &QueryResult{Posts: posts, TotalItems: total}, nil
}

// DeletePost removes a post and its associated pictures/videos/favorite
// record, deleting the backing files outside the DB transaction.
func (e *Engine) DeletePost(ctx context.Context, id int64) error {
	paths, err := e.store.DeletePostCascade(ctx, id)
	if err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	for _, path := range paths {
		if err := e.media.Delete(path); err != nil {
			e.tasks.ReportSubTaskError(fmt.Sprintf("remove media file %s", path), err, time.Now())
		}
	}
	return nil
}

// GetUsernameByID returns the screen name stored for a user.
func (e *Engine) GetUsernameByID(ctx context.Context, id int64) (string, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return "", err
	}
	return u.ScreenName, nil
}

// SearchIDByUsernamePrefix returns every locally known user whose screen
// name starts with prefix.
func (e *Engine) SearchIDByUsernamePrefix(ctx context.Context, prefix string) ([]User, error) {
	users, err := e.store.QueryUsersWithPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = userFromInternal(u)
	}
	return out, nil
}

// GetPictureBlob returns the bytes of a stored picture by its logical id
// (the highest resolution variant available), reading through the LRU
// cache.
func (e *Engine) GetPictureBlob(ctx context.Context, pictureID string) ([]byte, error) {
	variants, err := e.store.QueryResolutionVariants(ctx, pictureID)
	if err != nil {
		return nil, err
	}
	var best *storage.Picture
	for i, v := range variants {
		if v.Path == nil {
			continue
		}
		if best == nil || v.Definition > best.Definition {
			best = &variants[i]
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return e.media.Open(e.cache, *best.Path)
}

// --- export & cleanup ---

// ExportPosts renders q's matching posts into a self-contained HTML
// bundle under opts.ExportDir/opts.TaskName.
func (e *Engine) ExportPosts(ctx context.Context, q Query, opts ExportOptions) (*ExportResult, error) {
	jobCtx, taskID, err := e.tasks.StartJob(ctx, "export_posts")
	if err != nil {
		return nil, err
	}

	filter := query.Filter{
		UID:          q.UserID,
		OnlyFavorite: q.IsFavorited,
		SearchTerm:   q.SearchTerm,
		Since:        q.StartDate,
		Until:        q.EndDate,
	}
	if q.ReverseOrder {
		filter.Sort = query.SortOldestFirst
	} else {
		filter.Sort = query.SortNewestFirst
	}

	summary, err := e.exporter.Export(jobCtx, filter, export.ExportOutputConfig{
		TaskName:  opts.TaskName,
		ExportDir: opts.ExportDir,
	}, taskID)
	e.tasks.Finish(taskID, err)
	if err != nil {
		return nil, err
	}
	return &ExportResult{TotalPosts: summary.TotalPosts, Batches: summary.Batches, OutputDir: summary.OutputDir}, nil
}

// CleanupPictures keeps one resolution variant per logical picture id per
// policy, removing the rest.
func (e *Engine) CleanupPictures(ctx context.Context, policy CleanupPolicy) (*CleanupResult, error) {
	jobCtx, taskID, err := e.tasks.StartJob(ctx, "cleanup_pictures")
	if err != nil {
		return nil, err
	}
	p := cleanup.Highest
	if policy == CleanupKeepLowest {
		p = cleanup.Lowest
	}
	summary, err := cleanup.CleanupPictures(jobCtx, e.store, e.media, e.tasks, taskID, p)
	e.tasks.Finish(taskID, err)
	if err != nil {
		return nil, err
	}
	return &CleanupResult{GroupsProcessed: summary.GroupsProcessed, VariantsRemoved: summary.VariantsRemoved}, nil
}

// CleanupInvalidAvatars keeps only each user's current avatar snapshot.
func (e *Engine) CleanupInvalidAvatars(ctx context.Context) (*CleanupResult, error) {
	jobCtx, taskID, err := e.tasks.StartJob(ctx, "cleanup_invalid_avatars")
	if err != nil {
		return nil, err
	}
	summary, err := cleanup.CleanupAvatars(jobCtx, e.store, e.media, e.tasks, taskID)
	e.tasks.Finish(taskID, err)
	if err != nil {
		return nil, err
	}
	return &CleanupResult{GroupsProcessed: summary.GroupsProcessed, VariantsRemoved: summary.VariantsRemoved}, nil
}

// --- task control ---

// GetCurrentTaskStatus returns the state of the currently active (or most
// recently finished) job, if any.
func (e *Engine) GetCurrentTaskStatus() (*TaskStatus, error) {
	snap, ok := e.tasks.Current()
	if !ok {
		return nil, errors.New("weiback: no task has run yet")
	}
	status := TaskStatus{
		ID:       snap.ID,
		Kind:     snap.Kind,
		Status:   string(snap.Status),
		Progress: snap.Progress,
		Total:    snap.Total,
	}
	if snap.Err != nil {
		status.Error = snap.Err.Error()
	}
	return &status, nil
}

// CancelCurrentTask cancels the active job, if any.
func (e *Engine) CancelCurrentTask() {
	e.tasks.Cancel()
}

// GetAndClearSubTaskErrors drains the non-fatal subtask error buffer.
func (e *Engine) GetAndClearSubTaskErrors() []SubTaskError {
	raw := e.tasks.TakeSubTaskErrors()
	out := make([]SubTaskError, len(raw))
	for i, se := range raw {
		out[i] = SubTaskError{At: se.At.Unix(), Context: se.Context, Error: se.Err.Error()}
	}
	return out
}

// --- config ---

// GetConfig returns the configuration currently in effect.
func (e *Engine) GetConfig() config.Config {
	return e.cfg.Snapshot()
}

// SetConfig replaces the configuration in effect for future jobs.
// In-flight jobs keep the snapshot they captured at start.
func (e *Engine) SetConfig(cfg config.Config) {
	e.cfg.Set(&cfg)
}

func userFromInternal(u storage.User) User {
	return User{ID: u.ID, ScreenName: u.ScreenName, AvatarLarge: u.AvatarLarge}
}

func postFromInternal(p storage.Post, owner storage.User) Post {
	return Post{
		ID:             p.ID,
		Mblogid:        p.Mblogid,
		Owner:          userFromInternal(owner),
		Text:           p.Text,
		CreatedAt:      p.CreatedAt,
		Favorited:      p.Favorited,
		RetweetedID:    p.RetweetedID,
		AttitudesCount: p.AttitudesCount,
		CommentsCount:  p.CommentsCount,
		RepostsCount:   p.RepostsCount,
	}
}
