package export

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/weibackapp/weiback/internal/ingest"
	"github.com/weibackapp/weiback/internal/media"
	"github.com/weibackapp/weiback/internal/query"
	"github.com/weibackapp/weiback/internal/storage"
	"github.com/weibackapp/weiback/internal/task"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var batchTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html.tmpl"))

// ExportOutputConfig names where and under what name an export lands.
type ExportOutputConfig struct {
	TaskName  string
	ExportDir string
}

// ExportSummary reports what an Export call produced.
type ExportSummary struct {
	TotalPosts int
	Batches    int
	OutputDir  string
}

// Exporter renders a query's matching posts into batched, self-contained
// HTML files with co-located media.
type Exporter struct {
	store        *storage.Store
	media        *media.Repository
	downloader   *ingest.Downloader
	tasks        *task.Manager
	postsPerHTML int
	policy       *bluemonday.Policy
	log          *zap.Logger
}

// NewExporter wires the collaborators one export needs. postsPerHTML must
// be positive; NewExporter defaults it to 50 otherwise.
func NewExporter(store *storage.Store, repo *media.Repository, downloader *ingest.Downloader, tasks *task.Manager, postsPerHTML int, log *zap.Logger) *Exporter {
	if postsPerHTML <= 0 {
		postsPerHTML = 50
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{
		store:        store,
		media:        repo,
		downloader:   downloader,
		tasks:        tasks,
		postsPerHTML: postsPerHTML,
		policy:       sanitizePolicy(),
		log:          log,
	}
}

type batchData struct {
	TaskName   string
	BatchIndex int
	Posts      []PostView
}

// Export implements the batched render-and-place pipeline: count, page,
// ensure media, render, write files. Exporting the same query into the
// same TaskName again overwrites the HTML and reuses existing media.
func (e *Exporter) Export(ctx context.Context, filter query.Filter, cfg ExportOutputConfig, taskID string) (*ExportSummary, error) {
	_, countSQL, args := filter.Compile()
	total, err := e.store.CountPosts(ctx, countSQL, filter.CountArgs(args))
	if err != nil {
		return nil, fmt.Errorf("count matching posts: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("export: no posts match the given query")
	}

	outDir := filepath.Join(cfg.ExportDir, cfg.TaskName)
	mediaDir := filepath.Join(outDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	batches := (total + e.postsPerHTML - 1) / e.postsPerHTML
	rendered := 0

	for batch := 0; batch < batches; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageFilter := filter
		pageFilter.Limit = e.postsPerHTML
		pageFilter.Offset = batch * e.postsPerHTML
		pageSelect, _, pageArgs := pageFilter.Compile()
		posts, err := e.store.QueryPosts(ctx, pageSelect, pageArgs)
		if err != nil {
			return nil, fmt.Errorf("query batch %d: %w", batch, err)
		}

		views, err := e.renderBatch(ctx, posts, mediaDir)
		if err != nil {
			return nil, fmt.Errorf("render batch %d: %w", batch, err)
		}

		outPath := filepath.Join(outDir, fmt.Sprintf("posts_%d.html", batch))
		f, err := os.Create(outPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", outPath, err)
		}
		err = batchTemplate.ExecuteTemplate(f, "batch.html.tmpl", batchData{
			TaskName:   cfg.TaskName,
			BatchIndex: batch,
			Posts:      views,
		})
		closeErr := f.Close()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", outPath, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close %s: %w", outPath, closeErr)
		}

		rendered += len(posts)
		if e.tasks != nil {
			e.tasks.SetProgress(taskID, rendered, total)
		}
	}

	return &ExportSummary{TotalPosts: total, Batches: batches, OutputDir: outDir}, nil
}

// renderBatch ensures every referenced picture/video for the given posts
// has a local file (scheduling downloads for anything missing, waiting for
// them to settle), then builds the PostView list the template renders.
func (e *Exporter) renderBatch(ctx context.Context, posts []storage.Post, mediaDir string) ([]PostView, error) {
	var pending []ingest.DownloadTask
	for _, p := range posts {
		pics, err := e.store.QueryPicturesForPost(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, pic := range pics {
			if pic.Path == nil {
				pid := p.ID
				pending = append(pending, ingest.DownloadTask{URL: pic.URL, Kind: ingest.KindPicture, PostID: &pid})
			}
		}
		vids, err := e.store.QueryVideosForPost(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range vids {
			if v.Path == nil {
				pid := p.ID
				pending = append(pending, ingest.DownloadTask{URL: v.URL, Kind: ingest.KindVideo, PostID: &pid})
			}
		}
	}
	if len(pending) > 0 && e.downloader != nil {
		e.downloader.Run(ctx, pending, func(context string, err error) {
			if e.tasks != nil {
				e.tasks.ReportSubTaskError(context, err, time.Now())
			}
		})
	}

	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		view, err := e.renderPost(ctx, p, mediaDir, true)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// renderPost builds one PostView, recursing into its retweet exactly one
// level (retweets never carry their own retweeted_status by construction).
func (e *Exporter) renderPost(ctx context.Context, p storage.Post, mediaDir string, includeRetweet bool) (PostView, error) {
	owner, err := e.store.GetUser(ctx, p.UID)
	if err != nil {
		return PostView{}, fmt.Errorf("load owner for post %d: %w", p.ID, err)
	}

	avatarPath, err := e.placeAvatar(ctx, *owner, mediaDir)
	if err != nil {
		return PostView{}, err
	}

	pics, err := e.store.QueryPicturesForPost(ctx, p.ID)
	if err != nil {
		return PostView{}, err
	}
	pictureViews, err := e.placePictures(pics, mediaDir)
	if err != nil {
		return PostView{}, err
	}

	vids, err := e.store.QueryVideosForPost(ctx, p.ID)
	if err != nil {
		return PostView{}, err
	}
	videoViews, err := e.placeVideos(vids, mediaDir)
	if err != nil {
		return PostView{}, err
	}

	view := PostView{
		ID:        p.ID,
		Owner:     toUserView(*owner, avatarPath),
		Text:      transformText(e.policy, p.Text),
		CreatedAt: time.Unix(p.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05"),
		Pictures:  pictureViews,
		Videos:    videoViews,
	}

	if includeRetweet && p.RetweetedID != nil {
		rt, err := e.store.GetPost(ctx, *p.RetweetedID)
		if err == nil {
			rtView, err := e.renderPost(ctx, *rt, mediaDir, false)
			if err == nil {
				view.Retweet = &rtView
			} else {
				view.Retweet = &PostView{Text: template.HTML("[retweet unavailable]")}
			}
		} else {
			view.Retweet = &PostView{Text: template.HTML("[retweet unavailable]")}
		}
	}

	return view, nil
}

// placeAvatar links a user's avatar into mediaDir, returning "" (rendered
// as a broken-media placeholder by the browser) if it was never stored.
func (e *Exporter) placeAvatar(ctx context.Context, u storage.User, mediaDir string) (string, error) {
	if u.AvatarLarge == "" {
		return "", nil
	}
	pics, err := e.store.QueryResolutionVariants(ctx, "avatar-"+fmt.Sprint(u.ID))
	if err != nil {
		return "", nil
	}
	var path *string
	for _, pic := range pics {
		if pic.Path != nil && (path == nil || pic.URL == u.AvatarLarge) {
			path = pic.Path
		}
	}
	if path == nil {
		return "", nil
	}
	return e.linkMedia(*path, mediaDir)
}

func (e *Exporter) placePictures(pics []storage.Picture, mediaDir string) ([]PictureView, error) {
	byID := map[string][]storage.Picture{}
	order := []string{}
	for _, pic := range pics {
		if _, seen := byID[pic.ID]; !seen {
			order = append(order, pic.ID)
		}
		byID[pic.ID] = append(byID[pic.ID], pic)
	}

	var views []PictureView
	for _, id := range order {
		variants := byID[id]
		var thumb, full string
		var best storage.Definition = -1
		var worst storage.Definition = storage.RealOriginal + 1
		for _, v := range variants {
			if v.Path == nil {
				continue
			}
			relURL, err := e.linkMedia(*v.Path, mediaDir)
			if err != nil {
				return nil, err
			}
			if v.Definition > best {
				best = v.Definition
				full = relURL
			}
			if v.Definition < worst {
				worst = v.Definition
				thumb = relURL
			}
		}
		if full == "" {
			continue
		}
		if thumb == "" {
			thumb = full
		}
		views = append(views, PictureView{Thumb: thumb, Full: full})
	}
	return views, nil
}

func (e *Exporter) placeVideos(vids []storage.Video, mediaDir string) ([]VideoView, error) {
	var views []VideoView
	for _, v := range vids {
		if v.Path == nil {
			continue
		}
		relURL, err := e.linkMedia(*v.Path, mediaDir)
		if err != nil {
			return nil, err
		}
		views = append(views, VideoView{Src: relURL})
	}
	return views, nil
}

// linkMedia hardlinks (falling back to copy) a stored media file into
// mediaDir and returns the path relative to the batch HTML file.
func (e *Exporter) linkMedia(relStoragePath, mediaDir string) (string, error) {
	basename := filepath.Base(relStoragePath)
	dest := filepath.Join(mediaDir, basename)
	if err := e.media.Link(relStoragePath, dest); err != nil {
		return "", fmt.Errorf("place media %s: %w", relStoragePath, err)
	}
	return filepath.Join("media", basename), nil
}
