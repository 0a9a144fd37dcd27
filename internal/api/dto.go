package api

import "github.com/starford/inkwell/internal/models"

// SendWeChatRequest is the optional body of POST /api/wechat/drafts/{path}.
type SendWeChatRequest struct {
	Account string `json:"account,omitempty" example:"main"`
	Theme   string `json:"theme,omitempty" example:"Minimal"`
}

// PublishHaloRequest is the optional body of POST /api/halo/posts/{path}.
// Publish overrides the frontmatter when set.
type PublishHaloRequest struct {
	Site    string `json:"site,omitempty" example:"blog"`
	Publish *bool  `json:"publish,omitempty"`
}

// ActiveFileRequest is the body of PUT /api/active.
type ActiveFileRequest struct {
	Path string `json:"path" example:"posts/hello.md" validate:"required"`
}

// PutDraftResponse reports whether a draft write happened.
type PutDraftResponse struct {
	Written bool          `json:"written"`
	Draft   *models.Draft `json:"draft"`
}

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	Path string `json:"path" example:"attachments/cover.png" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
	URL  string `json:"url" example:"/api/assets/attachments/cover.png" validate:"required"`
}
