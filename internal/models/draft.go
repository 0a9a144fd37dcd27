// Package models defines the domain types shared by inkwell components.
package models

// Draft is the locally cached publishing metadata for one note under one
// WeChat account. ID is always AccountName + NotePath.
type Draft struct {
	ID          string `json:"_id,omitempty"`
	Rev         int    `json:"_rev,omitempty"`
	AccountName string `json:"accountName,omitempty"`
	NotePath    string `json:"notePath,omitempty"`
	Theme       string `json:"theme,omitempty"`

	// CoverImageURL is a vault path or a remote URL.
	CoverImageURL string `json:"cover_image_url,omitempty"`

	Title              string `json:"title"`
	Author             string `json:"author,omitempty"`
	Digest             string `json:"digest,omitempty"`
	Content            string `json:"content,omitempty"`
	ContentSourceURL   string `json:"content_source_url,omitempty"`
	ThumbMediaID       string `json:"thumb_media_id,omitempty"`
	ShowCoverPic       int    `json:"show_cover_pic,omitempty"`
	NeedOpenComment    int    `json:"need_open_comment,omitempty"`
	OnlyFansCanComment int    `json:"only_fans_can_comment,omitempty"`

	// Crop rectangles are X1_Y1_X2_Y2.
	PicCrop235x1     string   `json:"pic_crop_235_1,omitempty"`
	PicCrop1x1       string   `json:"pic_crop_1_1,omitempty"`
	CoverCropScale   *float64 `json:"cover_crop_scale,omitempty"`
	CoverCropOffsetX *float64 `json:"cover_crop_offset_x,omitempty"`
	CoverCropOffsetY *float64 `json:"cover_crop_offset_y,omitempty"`
	CoverCropRef     string   `json:"cover_crop_ref,omitempty"`

	LastDraftURL string `json:"last_draft_url,omitempty"`
	LastDraftID  string `json:"last_draft_id,omitempty"`
}

// DraftID returns the composite identity of a draft.
func DraftID(accountName, notePath string) string {
	return accountName + notePath
}

// ClearCoverCrop drops every crop parameter, keeping ref when non-empty.
func (d *Draft) ClearCoverCrop(ref string) {
	d.CoverCropScale = nil
	d.CoverCropOffsetX = nil
	d.CoverCropOffsetY = nil
	d.PicCrop235x1 = ""
	d.PicCrop1x1 = ""
	d.CoverCropRef = ref
}
