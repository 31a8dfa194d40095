package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tsawler/tabula"

	"docqa/types"
)

// Document is a file from the source directory after text extraction.
type Document struct {
	Path  string
	ID    string
	Pages []types.SourceUnit
	Err   error
}

type PDFLoader struct {
	cfg    types.LoaderConfig
	logger zerolog.Logger

	FileMutex       sync.Mutex
	FileFirstSeen   map[string]time.Time
	FilesProcessing map[string]bool
}

func NewPDFLoader(cfg types.LoaderConfig, logger zerolog.Logger) (*PDFLoader, error) {
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, fmt.Errorf("create loader directories: %w", err)
	}
	return &PDFLoader{
		cfg:             cfg,
		logger:          logger.With().Str("stage", "loader").Logger(),
		FileFirstSeen:   make(map[string]time.Time),
		FilesProcessing: make(map[string]bool),
	}, nil
}

// WatchFile polls the source directory and sends a file once it has stayed in
// place for MonitoringTime. It returns when ctx is cancelled.
func (l *PDFLoader) WatchFile(ctx context.Context, fileChan chan<- string) {
	l.logger.Info().Str("dir", l.cfg.SourceDir).Msg("start monitoring folder")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer l.logger.Info().Msg("file watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.scan(ctx, fileChan) {
				return
			}
		}
	}
}

func (l *PDFLoader) scan(ctx context.Context, fileChan chan<- string) bool {
	files, err := os.ReadDir(l.cfg.SourceDir)
	if err != nil {
		l.logger.Error().Err(err).Msg("error while reading source directory")
		return true
	}

	currentFiles := make(map[string]bool)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		filePath := filepath.Join(l.cfg.SourceDir, file.Name())
		currentFiles[filePath] = true

		l.FileMutex.Lock()
		// Проверяем, не находится ли файл в обработке
		if l.FilesProcessing[filePath] {
			l.FileMutex.Unlock()
			continue
		}

		// Если файл новый, добавляем его в отслеживание
		firstSeen, exists := l.FileFirstSeen[filePath]
		if !exists {
			l.FileFirstSeen[filePath] = time.Now()
			l.FileMutex.Unlock()
			l.logger.Info().Str("file", filePath).Msg("new file detected")
			continue
		}

		if time.Since(firstSeen) <= l.cfg.MonitoringTime {
			l.FileMutex.Unlock()
			continue
		}
		l.FilesProcessing[filePath] = true
		l.FileMutex.Unlock()

		l.logger.Info().Str("file", filePath).Dur("stable_for", time.Since(firstSeen)).Msg("file is ready for processing")
		select {
		case fileChan <- filePath:
		case <-ctx.Done():
			return false
		}
	}

	// Удаляем из карты файлы, которых больше нет в директории
	l.FileMutex.Lock()
	for filePath := range l.FileFirstSeen {
		if !currentFiles[filePath] {
			delete(l.FileFirstSeen, filePath)
			delete(l.FilesProcessing, filePath)
		}
	}
	l.FileMutex.Unlock()
	return true
}

// Release stops tracking filePath so a new file with the same name is picked up again.
func (l *PDFLoader) Release(filePath string) {
	l.FileMutex.Lock()
	delete(l.FilesProcessing, filePath)
	delete(l.FileFirstSeen, filePath)
	l.FileMutex.Unlock()
}

// ProcessFile extracts the pages of every file received on fileChan. Failed
// extractions are forwarded with Err set.
func (l *PDFLoader) ProcessFile(ctx context.Context, fileChan <-chan string, docChan chan<- Document) {
	defer l.logger.Info().Msg("file processor stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case filePath, ok := <-fileChan:
			if !ok {
				return
			}

			doc := Document{Path: filePath, ID: DocumentID(filePath)}
			doc.Pages, doc.Err = l.LoadPages(ctx, filePath, doc.ID)
			if ctx.Err() != nil {
				// файл останется в source и будет обработан при следующем запуске
				l.Release(filePath)
				return
			}

			select {
			case docChan <- doc:
			case <-ctx.Done():
				l.Release(filePath)
				return
			}
		}
	}
}

// LoadPages returns one SourceUnit per page in page order. Page text has its
// line breaks replaced by spaces.
func (l *PDFLoader) LoadPages(ctx context.Context, path, documentID string) ([]types.SourceUnit, error) {
	if err := ValidatePDF(path); err != nil {
		return nil, err
	}

	src := path
	if l.cfg.CropTop > 0 || l.cfg.CropBottom > 0 {
		cropped, cleanup, err := cropCopy(path, l.cfg.CropTop, l.cfg.CropBottom)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		src = cropped
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Файл разбирается один раз для всех страниц
	doc, warnings, err := tabula.Open(src).Document()
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", documentID, err)
	}
	if len(warnings) > 0 {
		l.logger.Debug().Str("doc_id", documentID).Int("warnings", len(warnings)).Msg("extraction warnings")
	}

	units := make([]types.SourceUnit, 0, len(doc.Pages))
	for i, page := range doc.Pages {
		units = append(units, types.SourceUnit{
			DocumentID: documentID,
			PageIndex:  i,
			RawText:    NormalizeText(page.ExtractText()),
		})
	}

	l.logger.Info().Str("doc_id", documentID).Int("pages", len(units)).Msg("pages extracted")
	return units, nil
}

func cropCopy(path string, top, bottom float64) (string, func(), error) {
	dir, err := os.MkdirTemp("", "crop-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	out := filepath.Join(dir, filepath.Base(path))
	if err := RemoveHeaderFooterCrop(path, out, top, bottom); err != nil {
		cleanup()
		return "", nil, err
	}
	return out, cleanup, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func NormalizeText(s string) string {
	return lineBreaks.Replace(s)
}

// DocumentID is the file name, which stays stable across re-uploads.
func DocumentID(filePath string) string {
	return filepath.Base(filePath)
}

// MoveToArchive moves filePath into a dated folder of the archive directory,
// or of the bad directory when failed is set. Name conflicts get a numeric suffix.
func (l *PDFLoader) MoveToArchive(filePath string, failed bool) (string, error) {
	root := l.cfg.ArchiveDir
	if failed {
		root = l.cfg.BadDir
	}
	return moveDated(filePath, root, time.Now())
}

func moveDated(filePath, root string, now time.Time) (string, error) {
	destDir := filepath.Join(root, now.Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))

	// Обработка конфликтов имен файлов
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err == nil {
		return destPath, nil
	}

	// rename fails across devices
	if err := copyFile(filePath, destPath); err != nil {
		return "", fmt.Errorf("error moving file to archive: %w", err)
	}
	return destPath, os.Remove(filePath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
