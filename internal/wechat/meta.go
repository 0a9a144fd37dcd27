package wechat

import (
	"strings"

	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/parser"
)

// Frontmatter keys, canonical name first.
var (
	TitleKeys       = []string{"标题", "title"}
	AuthorKeys      = []string{"作者", "author"}
	DigestKeys      = []string{"摘要", "digest", "description", "summary"}
	SourceURLKeys   = []string{"原文链接", "content_source_url", "source_url"}
	CoverKeys       = []string{"封面图", "封面", "cover", "thumbnail", "inkwell_cover"}
	OpenCommentKeys = []string{"开启评论", "need_open_comment", "open_comment"}
	OnlyFansKeys    = []string{"仅粉丝可评论", "only_fans_can_comment"}
	ArticleURLKeys  = []string{"公众号链接", "公众号文章链接", "wechat_url", "wechat_article_url", "mp_url", "mp_article_url", "mp_link"}
)

var (
	trueWords  = map[string]bool{"1": true, "true": true, "yes": true, "y": true, "on": true, "是": true, "开启": true, "开": true}
	falseWords = map[string]bool{"0": true, "false": true, "no": true, "n": true, "off": true, "否": true, "关闭": true, "关": true}
)

// Flag reads the first recognisable boolean among keys as 1 or 0. ok is
// false when none of the keys holds one.
func Flag(fm map[string]any, keys ...string) (v int, ok bool) {
	for _, k := range keys {
		switch t := fm[k].(type) {
		case bool:
			if t {
				return 1, true
			}
			return 0, true
		case int:
			if t > 0 {
				return 1, true
			}
			return 0, true
		case float64:
			if t > 0 {
				return 1, true
			}
			return 0, true
		case string:
			s := strings.ToLower(strings.TrimSpace(t))
			if trueWords[s] {
				return 1, true
			}
			if falseWords[s] {
				return 0, true
			}
		}
	}
	return 0, false
}

// Meta is the article metadata a note's frontmatter carries.
type Meta struct {
	Title       string
	Author      string
	Digest      string
	SourceURL   string
	Cover       string
	OpenComment *int
	OnlyFans    *int
}

// MetaFromFrontmatter reads article metadata. fallbackTitle is used when
// no title key is set.
func MetaFromFrontmatter(fm map[string]any, fallbackTitle string) Meta {
	m := Meta{
		Title:     parser.String(fm, TitleKeys...),
		Author:    parser.String(fm, AuthorKeys...),
		Digest:    parser.String(fm, DigestKeys...),
		SourceURL: parser.String(fm, SourceURLKeys...),
		Cover:     parser.String(fm, CoverKeys...),
	}
	if m.Title == "" {
		m.Title = fallbackTitle
	}
	if v, ok := Flag(fm, OpenCommentKeys...); ok {
		m.OpenComment = &v
	}
	if v, ok := Flag(fm, OnlyFansKeys...); ok {
		m.OnlyFans = &v
	}
	return m
}

// Sync copies meta onto the draft. Comment flags keep the draft's value
// when the frontmatter is silent; a fresh draft opens comments for
// everyone. A changed cover resets the crop state.
func (m Meta) Sync(d *models.Draft, isNew bool) {
	if m.Title != "" {
		d.Title = m.Title
	}
	d.Author = m.Author
	d.Digest = m.Digest
	d.ContentSourceURL = m.SourceURL

	switch {
	case m.OpenComment != nil:
		d.NeedOpenComment = *m.OpenComment
	case isNew:
		d.NeedOpenComment = 1
	}
	switch {
	case m.OnlyFans != nil:
		d.OnlyFansCanComment = *m.OnlyFans
	case isNew:
		d.OnlyFansCanComment = 0
	}

	cover := m.Cover
	if cover == "" {
		cover = d.CoverImageURL
	}
	if cover != d.CoverImageURL {
		d.ThumbMediaID = ""
	}
	d.CoverImageURL = cover
	if d.CoverCropRef != cover {
		d.ClearCoverCrop(cover)
	}
}

// ArticleFromDraft builds the draft/add entry for d with the given content.
func ArticleFromDraft(d *models.Draft, content string) Article {
	return Article{
		Title:              d.Title,
		Author:             d.Author,
		Digest:             d.Digest,
		Content:            content,
		ContentSourceURL:   d.ContentSourceURL,
		ThumbMediaID:       d.ThumbMediaID,
		ShowCoverPic:       d.ShowCoverPic,
		NeedOpenComment:    d.NeedOpenComment,
		OnlyFansCanComment: d.OnlyFansCanComment,
		PicCrop235x1:       d.PicCrop235x1,
		PicCrop1x1:         d.PicCrop1x1,
	}
}
