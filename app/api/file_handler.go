package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"docqa/ingest"
	"docqa/types"
)

// PageLoader extracts one SourceUnit per page of a stored file.
type PageLoader interface {
	LoadPages(ctx context.Context, path, documentID string) ([]types.SourceUnit, error)
}

type Ingester interface {
	IngestDocument(ctx context.Context, documentID string, pages []types.SourceUnit) (ingest.Report, error)
}

type FileHandler struct {
	loader   PageLoader
	ingester Ingester
	logger   zerolog.Logger
}

func NewFileHandler(loader PageLoader, ingester Ingester, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		loader:   loader,
		ingester: ingester,
		logger:   logger,
	}
}

// HandleUpload indexes an uploaded PDF. Uploading a file with the same name
// again replaces the earlier version.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrMissingFile("file")
	}

	documentID := filepath.Base(fileHeader.Filename)
	if !strings.EqualFold(filepath.Ext(documentID), ".pdf") {
		return ErrUnsupportedMedia(documentID)
	}

	dir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, documentID)
	if err := c.SaveFile(fileHeader, path); err != nil {
		return err
	}
	h.logger.Info().Str("stage", "loader").Str("doc_id", documentID).Int64("bytes", fileHeader.Size).Msg("file uploaded")

	ctx := c.UserContext()
	pages, err := h.loader.LoadPages(ctx, path, documentID)
	if err != nil {
		return NewError(fiber.StatusUnprocessableEntity, fmt.Sprintf("cannot read %s: %v", documentID, err))
	}

	report, err := h.ingester.IngestDocument(ctx, documentID, pages)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(&types.IngestResponse{
		DocumentID: report.DocumentID,
		Pages:      report.Pages,
		Chunks:     report.Chunks,
		Replaced:   report.Replaced,
	})
}
