package api

import (
	"context"

	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/publish"
	"github.com/starford/inkwell/internal/redbook"
	"github.com/starford/inkwell/internal/theme"
)

// Service is what the handlers need from the publishing layer.
// *publish.Service implements it.
type Service interface {
	RenderNote(ctx context.Context, notePath, themeRef string) (*publish.Preview, error)
	SendWeChat(ctx context.Context, notePath, account, themeRef string) (*publish.WeChatResult, error)
	ExportRedBook(ctx context.Context, notePath string) (*redbook.Result, error)
	PublishHalo(ctx context.Context, notePath, site string, publishFlag *bool) (*halo.Result, error)
	GetDraft(account, notePath string) (*models.Draft, error)
	PutDraft(account, notePath string, d *models.Draft) (bool, error)
	ListThemes() ([]theme.Theme, error)
	SetActiveFile(notePath string) error
}

var _ Service = (*publish.Service)(nil)
