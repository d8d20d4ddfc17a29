package ingest

import (
	"fmt"
	"strings"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"

	"github.com/weibackapp/weiback/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawUser is the duck-typed shape of an embedded user object. Only ID is
// truly required; everything else defaults to its zero value when absent.
type rawUser struct {
	ID              int64  `json:"id"`
	ScreenName      string `json:"screen_name"`
	AvatarLarge     string `json:"avatar_large"`
	ProfileImageURL string `json:"profile_image_url"`
	Domain          string `json:"domain"`
	Following       bool   `json:"following"`
	FollowMe        bool   `json:"follow_me"`
}

// rawPicVariant is one resolution entry inside a pic_infos map value.
type rawPicVariant struct {
	URL string `json:"url"`
}

// rawPost is the duck-typed shape of a post as the remote sends it.
// id, mblogid, uid (via User.ID) and created_at are required; everything
// else is optional and defaults harmlessly.
type rawPost struct {
	ID              int64                              `json:"id"`
	Mblogid         string                             `json:"mblogid"`
	User            *rawUser                           `json:"user"`
	Text            string                             `json:"text"`
	CreatedAt       string                             `json:"created_at"`
	Favorited       bool                               `json:"favorited"`
	RetweetedStatus jsoniter.RawMessage                `json:"retweeted_status"`
	PicIDs          []string                           `json:"pic_ids"`
	PicInfos        map[string]map[string]rawPicVariant `json:"pic_infos"`
	MixMediaInfo    jsoniter.RawMessage                `json:"mix_media_info"`
	URLStruct       jsoniter.RawMessage                `json:"url_struct"`
	RegionName      string                             `json:"region_name"`
	Source          string                             `json:"source"`
	AttitudesCount  int                                `json:"attitudes_count"`
	CommentsCount   int                                `json:"comments_count"`
	RepostsCount    int                                `json:"reposts_count"`
}

// definitionKeys maps the JSON key a resolution variant is nested under to
// its Definition enum value. Unrecognized keys are ignored rather than
// rejected — the remote occasionally adds new resolution tiers.
var definitionKeys = map[string]storage.Definition{
	"thumbnail":     storage.Thumbnail,
	"bmiddle":       storage.Bmiddle,
	"large":         storage.Large,
	"original":      storage.Original,
	"mw2000":        storage.Mw2000,
	"largest":       storage.Largest,
	"real_original": storage.RealOriginal,
}

// PictureRef is one resolution variant discovered while normalizing a
// post, ready to be inserted and optionally scheduled for download.
// PostID is the id of the post this variant actually belongs to — the
// retweeted post's id for a picture found inside retweeted_status, never
// the id of whatever post embeds it.
type PictureRef struct {
	URL        string
	LogicalID  string
	Definition storage.Definition
	Download   bool
	PostID     int64
}

// NormalizedPost is the typed result of decoding one raw post, including
// at most one level of embedded retweet per the "never recurse beyond one
// level" rule.
type NormalizedPost struct {
	Post         storage.Post
	Owner        storage.User
	Retweet      *storage.Post
	RetweetOwner *storage.User
	Pictures     []PictureRef
}

func joinPicIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func toStorageUser(u *rawUser) (storage.User, error) {
	if u == nil || u.ID == 0 {
		return storage.User{}, fmt.Errorf("missing required user id")
	}
	return storage.User{
		ID:              u.ID,
		ScreenName:      u.ScreenName,
		AvatarLarge:     u.AvatarLarge,
		ProfileImageURL: u.ProfileImageURL,
		Domain:          u.Domain,
		Following:       u.Following,
		FollowMe:        u.FollowMe,
	}, nil
}

// normalizeScalar decodes one rawPost into a storage.Post plus its owner
// and picture references, without touching retweeted_status. It's used
// both for the top-level post and for its single allowed embedded child.
func normalizeScalar(rp rawPost, preferred storage.Definition) (storage.Post, storage.User, []PictureRef, error) {
	if rp.ID == 0 {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("missing required field: id")
	}
	if rp.Mblogid == "" {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("missing required field: mblogid")
	}
	owner, err := toStorageUser(rp.User)
	if err != nil {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("post %d: %w", rp.ID, err)
	}
	if rp.CreatedAt == "" {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("post %d: missing required field: created_at", rp.ID)
	}
	createdAt, err := dateparse.ParseAny(rp.CreatedAt)
	if err != nil {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("post %d: parse created_at %q: %w", rp.ID, rp.CreatedAt, err)
	}

	var pics []PictureRef
	for logicalID, variants := range rp.PicInfos {
		for key, v := range variants {
			def, ok := definitionKeys[key]
			if !ok || v.URL == "" {
				continue
			}
			pics = append(pics, PictureRef{
				URL:        v.URL,
				LogicalID:  logicalID,
				Definition: def,
				Download:   def == preferred,
				PostID:     rp.ID,
			})
		}
	}

	picInfosJSON, err := json.Marshal(rp.PicInfos)
	if err != nil {
		return storage.Post{}, storage.User{}, nil, fmt.Errorf("post %d: re-encode pic_infos: %w", rp.ID, err)
	}

	post := storage.Post{
		ID:             rp.ID,
		Mblogid:        rp.Mblogid,
		UID:            owner.ID,
		Text:           rp.Text,
		CreatedAt:      createdAt.Unix(),
		Favorited:      rp.Favorited,
		PicIDs:         joinPicIDs(rp.PicIDs),
		PicInfos:       string(picInfosJSON),
		MixMediaInfo:   string(rp.MixMediaInfo),
		URLStruct:      string(rp.URLStruct),
		RegionName:     rp.RegionName,
		Source:         rp.Source,
		AttitudesCount: rp.AttitudesCount,
		CommentsCount:  rp.CommentsCount,
		RepostsCount:   rp.RepostsCount,
	}
	return post, owner, pics, nil
}

// NormalizePost decodes one raw post JSON object, recursing exactly one
// level into retweeted_status. A malformed record returns an error the
// caller should turn into a SubTaskError and skip — it must never abort
// the whole page.
func NormalizePost(raw []byte, preferred storage.Definition) (NormalizedPost, error) {
	var rp rawPost
	if err := json.Unmarshal(raw, &rp); err != nil {
		return NormalizedPost{}, &DecodeError{Err: err}
	}

	post, owner, pics, err := normalizeScalar(rp, preferred)
	if err != nil {
		return NormalizedPost{}, &DecodeError{Err: err}
	}

	var retweet *storage.Post
	var retweetOwner *storage.User
	var retweetPics []PictureRef
	if len(rp.RetweetedStatus) > 0 && string(rp.RetweetedStatus) != "null" {
		var rrp rawPost
		if err := json.Unmarshal(rp.RetweetedStatus, &rrp); err != nil {
			return NormalizedPost{}, &DecodeError{Err: fmt.Errorf("post %d retweeted_status: %w", rp.ID, err)}
		}
		rPost, rOwner, rPics, err := normalizeScalar(rrp, preferred)
		if err != nil {
			return NormalizedPost{}, &DecodeError{Err: fmt.Errorf("post %d retweeted_status: %w", rp.ID, err)}
		}
		retweet = &rPost
		retweetOwner = &rOwner
		retweetPics = rPics
		rid := rPost.ID
		post.RetweetedID = &rid
	}

	return NormalizedPost{
		Post:         post,
		Owner:        owner,
		Retweet:      retweet,
		RetweetOwner: retweetOwner,
		Pictures:     append(pics, retweetPics...),
	}, nil
}

// NormalizeUsers decodes a raw JSON array of user objects, as returned by
// SearchUsers, skipping any entry missing its required id.
func NormalizeUsers(raw []byte) ([]storage.User, error) {
	var rawUsers []rawUser
	if err := json.Unmarshal(raw, &rawUsers); err != nil {
		return nil, &DecodeError{Err: err}
	}
	users := make([]storage.User, 0, len(rawUsers))
	for _, ru := range rawUsers {
		u, err := toStorageUser(&ru)
		if err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
