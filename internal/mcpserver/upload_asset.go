package mcpserver

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/inkwell/internal/fetch"
)

const maxAssetSize = 10 << 20

var allowedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".webp": true, ".svg": true,
}

type uploadResult struct {
	SavedPath     string `json:"savedPath"`
	MarkdownImage string `json:"markdownImage"`
}

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !strings.HasPrefix(rawURL, "data:") && !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return mcp.NewToolResultError("unsupported scheme (only http, https and data)"), nil
	}

	asset, err := s.assets.Fetcher.Fetch(ctx, rawURL, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(asset.Data) > maxAssetSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(asset.Data), maxAssetSize)), nil
	}

	filename := req.GetString("filename", "")
	if filename == "" {
		filename = fetch.FilenameFromURL(rawURL, asset.Ext)
	}
	filename = fetch.SanitizeFilename(filename)

	ext := strings.ToLower(path.Ext(filename))
	if !allowedExtensions[ext] {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension: %s (allowed: png, jpg, jpeg, gif, webp, svg)", ext)), nil
	}
	if !sameKind(ext, asset.Ext) {
		return mcp.NewToolResultError(fmt.Sprintf("content does not match extension %s (detected: %s)", ext, asset.MIME)), nil
	}

	savePath := path.Join(s.assets.Folder, filename)
	if s.assets.Writer.Exists(savePath) {
		return mcp.NewToolResultError(fmt.Sprintf("file already exists: %s", savePath)), nil
	}
	if err := s.assets.Writer.Write(savePath, asset.Data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save attachment: %v", err)), nil
	}
	if s.assets.Invalidate != nil {
		s.assets.Invalidate()
	}

	embed := fmt.Sprintf("![%s](%s)", filename, savePath)
	if s.assets.WikiEmbeds {
		embed = "![[" + filename + "]]"
	}
	return jsonResult(uploadResult{SavedPath: savePath, MarkdownImage: embed})
}

// sameKind reports whether the requested extension matches the sniffed one.
func sameKind(want, detected string) bool {
	norm := func(e string) string {
		if e == ".jpeg" {
			return ".jpg"
		}
		return e
	}
	return norm(want) == norm(strings.ToLower(detected))
}
