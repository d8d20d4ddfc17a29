// Package export renders backed-up posts into standalone, browsable HTML
// bundles: batches of posts_<n>.html files with their referenced media
// co-located alongside them.
package export

import (
	"fmt"
	"html/template"
	"regexp"

	"github.com/microcosm-cc/bluemonday"

	"github.com/weibackapp/weiback/internal/storage"
)

var (
	mentionPattern = regexp.MustCompile(`@[\p{L}\p{N}_-]+`)
	topicPattern   = regexp.MustCompile(`#[^#\n]+#`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<]+`)
	emojiPattern   = regexp.MustCompile(`\[[\p{L}\p{N}]+\]`)
)

// sanitizePolicy allowlists exactly the tags the templates themselves
// emit, so a post's raw upstream text can never inject markup into the
// exported bundle.
func sanitizePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("controls", "src").OnElements("video")
	p.AllowAttrs("src", "type").OnElements("source")
	p.AllowElements("br", "span")
	p.AllowAttrs("class").OnElements("span")
	return p
}

// PictureView is one logical picture, ready for a template: Thumb points at a (typically smaller) file for inline
// display, Full at the highest resolution downloaded for the same post.
type PictureView struct {
	Thumb string
	Full  string
}

// VideoView is a post-attached video ready for a <video> tag.
type VideoView struct {
	Src string
}

// PostView is the fully rendered form of one post (and, if it retweets
// another, its retweet rendered the same way, one level deep).
type PostView struct {
	ID        int64
	Owner     UserView
	Text      template.HTML
	CreatedAt string
	Pictures  []PictureView
	Videos    []VideoView
	Retweet   *PostView
}

// UserView is the subset of a user rendered next to their posts.
type UserView struct {
	ID         int64
	ScreenName string
	Avatar     string
}

func toUserView(u storage.User, avatarPath string) UserView {
	return UserView{ID: u.ID, ScreenName: u.ScreenName, Avatar: avatarPath}
}

// transformText expands @mentions, #topics#, bare URLs and [emoji]
// shortcodes into anchors/spans, then sanitizes the result so upstream
// text can never carry live markup into the bundle.
func transformText(policy *bluemonday.Policy, raw string) template.HTML {
	escaped := template.HTMLEscapeString(raw)

	escaped = urlPattern.ReplaceAllStringFunc(escaped, func(u string) string {
		return fmt.Sprintf(`<a href="%s">%s</a>`, u, u)
	})
	escaped = mentionPattern.ReplaceAllStringFunc(escaped, func(m string) string {
		return fmt.Sprintf(`<span class="mention">%s</span>`, m)
	})
	escaped = topicPattern.ReplaceAllStringFunc(escaped, func(t string) string {
		return fmt.Sprintf(`<span class="topic">%s</span>`, t)
	})
	escaped = emojiPattern.ReplaceAllStringFunc(escaped, func(e string) string {
		return fmt.Sprintf(`<span class="emoji">%s</span>`, e)
	})

	return template.HTML(policy.Sanitize(escaped))
}
