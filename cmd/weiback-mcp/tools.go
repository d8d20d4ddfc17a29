package main

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/weibackapp/weiback"
	"github.com/weibackapp/weiback/internal/config"
)

func registerTools(server *mcp.Server, engine *weiback.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "login_state",
		Description: "Report whether a usable weibo session exists locally.",
	}, loginStateTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_sms_code",
		Description: "Request an SMS login code be sent to a phone number.",
	}, smsCodeTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Complete login with a phone number and the SMS code sent to it.",
	}, loginTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "backup_user",
		Description: "Back up a user's timeline, up to a page limit, optionally filtered to one media kind.",
	}, backupUserTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "backup_favorites",
		Description: "Back up the logged-in user's favorites, up to a page limit.",
	}, backupFavoritesTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "rebackup_post",
		Description: "Re-fetch a single post by id and upsert it.",
	}, rebackupPostTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "unfavorite_posts",
		Description: "Unfavorite every locally pending favorite upstream.",
	}, unfavoritePostsTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_local_posts",
		Description: "Query locally stored posts by owner, favorite state, date range or full-text search term.",
	}, queryLocalPostsTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_post",
		Description: "Delete a post and its associated media from local storage.",
	}, deletePostTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_username_by_id",
		Description: "Look up a user's locally stored screen name by id.",
	}, usernameTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_id_by_username_prefix",
		Description: "Find locally known users whose screen name starts with a prefix.",
	}, searchUsersTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_posts",
		Description: "Render posts matching a query into a self-contained HTML export bundle.",
	}, exportPostsTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_pictures",
		Description: "Drop duplicate resolution variants of stored pictures, keeping one per policy.",
	}, cleanupPicturesTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_invalid_avatars",
		Description: "Drop avatar snapshots superseded by each user's current avatar.",
	}, cleanupAvatarsTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_current_task_status",
		Description: "Report the state of the currently active (or most recently finished) job.",
	}, taskStatusTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_and_clear_sub_task_errors",
		Description: "Drain the buffer of non-fatal per-record and per-file errors from the last job.",
	}, subTaskErrorsTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_picture_blob",
		Description: "Fetch the raw bytes of a locally stored picture by id, base64-encoded.",
	}, pictureBlobTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_config_command",
		Description: "Read the currently active configuration.",
	}, getConfigTool(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_config_command",
		Description: "Replace the currently active configuration.",
	}, setConfigTool(engine))
}

type emptyArgs struct{}

func loginStateTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		ok, err := engine.LoginState(ctx)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("logged_in=%v", ok)), map[string]bool{"logged_in": ok}, nil
	}
}

type smsCodeArgs struct {
	Phone string `json:"phone" jsonschema:"the phone number to send a login code to"`
}

func smsCodeTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, smsCodeArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args smsCodeArgs) (*mcp.CallToolResult, any, error) {
		if err := engine.GetSMSCode(ctx, args.Phone); err != nil {
			return errResult(err), nil, nil
		}
		return textResult("SMS code requested"), nil, nil
	}
}

type loginArgs struct {
	Phone string `json:"phone" jsonschema:"the phone number the code was sent to"`
	Code  string `json:"code" jsonschema:"the SMS code received"`
}

func loginTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, loginArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args loginArgs) (*mcp.CallToolResult, any, error) {
		if err := engine.Login(ctx, args.Phone, args.Code); err != nil {
			return errResult(err), nil, nil
		}
		return textResult("logged in"), nil, nil
	}
}

type backupUserArgs struct {
	UID      int64  `json:"uid" jsonschema:"the numeric weibo user id to back up"`
	NumPages int    `json:"num_pages" jsonschema:"maximum number of timeline pages to fetch"`
	Filter   string `json:"filter,omitempty" jsonschema:"timeline filter: normal, original, picture, video or article"`
}

func backupUserTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, backupUserArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args backupUserArgs) (*mcp.CallToolResult, any, error) {
		filter := weiback.TimelineNormal
		if args.Filter != "" {
			filter = weiback.TimelineFilter(args.Filter)
		}
		taskID, err := engine.BackupUser(ctx, args.UID, args.NumPages, filter)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("started job %s", taskID)), map[string]string{"task_id": taskID}, nil
	}
}

type backupFavoritesArgs struct {
	NumPages int `json:"num_pages" jsonschema:"maximum number of favorites pages to fetch"`
}

func backupFavoritesTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, backupFavoritesArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args backupFavoritesArgs) (*mcp.CallToolResult, any, error) {
		taskID, err := engine.BackupFavorites(ctx, args.NumPages)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("started job %s", taskID)), map[string]string{"task_id": taskID}, nil
	}
}

type postIDArgs struct {
	ID int64 `json:"id" jsonschema:"the post id"`
}

func rebackupPostTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, postIDArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args postIDArgs) (*mcp.CallToolResult, any, error) {
		taskID, err := engine.RebackupPost(ctx, args.ID)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("started job %s", taskID)), map[string]string{"task_id": taskID}, nil
	}
}

func unfavoritePostsTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		taskID, err := engine.UnfavoritePosts(ctx)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("started job %s", taskID)), map[string]string{"task_id": taskID}, nil
	}
}

type queryArgs struct {
	UID          int64  `json:"uid,omitempty" jsonschema:"restrict to this owner id"`
	IsFavorited  bool   `json:"is_favorited,omitempty" jsonschema:"only currently-favorited posts"`
	SearchTerm   string `json:"search_term,omitempty" jsonschema:"full-text search term"`
	ReverseOrder bool   `json:"reverse_order,omitempty" jsonschema:"oldest first instead of newest first"`
	Page         int    `json:"page,omitempty" jsonschema:"1-indexed page number, defaults to 1"`
	PostsPerPage int    `json:"posts_per_page,omitempty" jsonschema:"posts per page, defaults to 50"`
}

func queryLocalPostsTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, queryArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args queryArgs) (*mcp.CallToolResult, any, error) {
		q := weiback.Query{
			IsFavorited:  args.IsFavorited,
			SearchTerm:   args.SearchTerm,
			ReverseOrder: args.ReverseOrder,
			Page:         args.Page,
			PostsPerPage: args.PostsPerPage,
		}
		if args.UID != 0 {
			q.UserID = &args.UID
		}
		result, err := engine.QueryLocalPosts(ctx, q)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("%d posts (of %d total)", len(result.Posts), result.TotalItems)), result, nil
	}
}

func deletePostTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, postIDArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args postIDArgs) (*mcp.CallToolResult, any, error) {
		if err := engine.DeletePost(ctx, args.ID); err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("deleted post %d", args.ID)), nil, nil
	}
}

type userIDArgs struct {
	UID int64 `json:"uid" jsonschema:"the user id"`
}

func usernameTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, userIDArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args userIDArgs) (*mcp.CallToolResult, any, error) {
		name, err := engine.GetUsernameByID(ctx, args.UID)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(name), map[string]string{"screen_name": name}, nil
	}
}

type prefixArgs struct {
	Prefix string `json:"prefix" jsonschema:"the screen name prefix to search for"`
}

func searchUsersTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, prefixArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args prefixArgs) (*mcp.CallToolResult, any, error) {
		users, err := engine.SearchIDByUsernamePrefix(ctx, args.Prefix)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("%d matching users", len(users))), users, nil
	}
}

type exportArgs struct {
	UID         int64  `json:"uid,omitempty" jsonschema:"restrict to this owner id"`
	IsFavorited bool   `json:"is_favorited,omitempty" jsonschema:"only currently-favorited posts"`
	SearchTerm  string `json:"search_term,omitempty" jsonschema:"full-text search term"`
	TaskName    string `json:"task_name" jsonschema:"name of this export, used as its subdirectory"`
	ExportDir   string `json:"export_dir" jsonschema:"directory the export subdirectory is created under"`
}

func exportPostsTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, exportArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args exportArgs) (*mcp.CallToolResult, any, error) {
		q := weiback.Query{IsFavorited: args.IsFavorited, SearchTerm: args.SearchTerm}
		if args.UID != 0 {
			q.UserID = &args.UID
		}
		result, err := engine.ExportPosts(ctx, q, weiback.ExportOptions{TaskName: args.TaskName, ExportDir: args.ExportDir})
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("exported %d posts across %d files to %s", result.TotalPosts, result.Batches, result.OutputDir)), result, nil
	}
}

type cleanupPicturesArgs struct {
	Keep string `json:"keep,omitempty" jsonschema:"which resolution variant to keep: highest (default) or lowest"`
}

func cleanupPicturesTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, cleanupPicturesArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args cleanupPicturesArgs) (*mcp.CallToolResult, any, error) {
		policy := weiback.CleanupKeepHighest
		if args.Keep == "lowest" {
			policy = weiback.CleanupKeepLowest
		}
		result, err := engine.CleanupPictures(ctx, policy)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("removed %d variants across %d groups", result.VariantsRemoved, result.GroupsProcessed)), result, nil
	}
}

func cleanupAvatarsTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		result, err := engine.CleanupInvalidAvatars(ctx)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("removed %d stale avatars across %d users", result.VariantsRemoved, result.GroupsProcessed)), result, nil
	}
}

func taskStatusTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		status, err := engine.GetCurrentTaskStatus()
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(fmt.Sprintf("%s: %s (%d/%d)", status.Kind, status.Status, status.Progress, status.Total)), status, nil
	}
}

func subTaskErrorsTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		errs := engine.GetAndClearSubTaskErrors()
		return textResult(fmt.Sprintf("%d subtask errors", len(errs))), errs, nil
	}
}

type pictureIDArgs struct {
	PictureID string `json:"picture_id" jsonschema:"the stored picture id"`
}

func pictureBlobTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, pictureIDArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args pictureIDArgs) (*mcp.CallToolResult, any, error) {
		blob, err := engine.GetPictureBlob(ctx, args.PictureID)
		if err != nil {
			return errResult(err), nil, nil
		}
		encoded := base64.StdEncoding.EncodeToString(blob)
		return textResult(fmt.Sprintf("%d bytes", len(blob))), map[string]string{"base64": encoded}, nil
	}
}

func getConfigTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, emptyArgs) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args emptyArgs) (*mcp.CallToolResult, any, error) {
		cfg := engine.GetConfig()
		return textResult(fmt.Sprintf("db_path=%s", cfg.DBPath)), cfg, nil
	}
}

func setConfigTool(engine *weiback.Engine) func(context.Context, *mcp.CallToolRequest, config.Config) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args config.Config) (*mcp.CallToolResult, any, error) {
		engine.SetConfig(args)
		return textResult("config updated"), nil, nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
