// Package service runs the watch-folder ingestion loop on top of the PDF loader.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docqa/ingest"
	"docqa/loader/internal"
	"docqa/types"
)

// Ingester indexes the pages of one document, replacing any earlier version.
type Ingester interface {
	IngestDocument(ctx context.Context, documentID string, pages []types.SourceUnit) (ingest.Report, error)
}

// Loader extracts page text from PDF files.
type Loader struct {
	pdf *internal.PDFLoader
}

func NewLoader(cfg types.LoaderConfig, logger zerolog.Logger) (*Loader, error) {
	pdf, err := internal.NewPDFLoader(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Loader{pdf: pdf}, nil
}

func (l *Loader) LoadPages(ctx context.Context, path, documentID string) ([]types.SourceUnit, error) {
	return l.pdf.LoadPages(ctx, path, documentID)
}

type Service struct {
	logger   zerolog.Logger
	loader   *internal.PDFLoader
	ingester Ingester
	// afterIngest runs once a document is indexed, e.g. to persist the index.
	afterIngest func() error
}

func New(loader *Loader, ingester Ingester, afterIngest func() error, logger zerolog.Logger) *Service {
	if afterIngest == nil {
		afterIngest = func() error { return nil }
	}
	return &Service{
		logger:      logger.With().Str("stage", "watch").Logger(),
		loader:      loader.pdf,
		ingester:    ingester,
		afterIngest: afterIngest,
	}
}

// Run watches the source folder until ctx is cancelled. Indexed files go to
// the archive folder, files that fail go to the bad folder.
func (s *Service) Run(ctx context.Context) error {
	fileChan := make(chan string, 10) // Буферизованный канал для предотвращения блокировок
	docChan := make(chan internal.Document)
	var wg sync.WaitGroup

	// Запуск горутины для мониторинга файлов
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan) // Закрываем канал при завершении watchFile
		s.loader.WatchFile(ctx, fileChan)
	}()

	// Запуск горутины для обработки файлов
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(docChan)
		s.loader.ProcessFile(ctx, fileChan, docChan)
	}()

	// Запуск горутины для сохранения документа
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.DocumentSave(ctx, docChan)
	}()

	<-ctx.Done()
	s.logger.Info().Msg("shutting down loader service")

	// Ждем завершения всех горутин с таймаутом
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("loader service stopped")
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("timeout waiting for loader goroutines to stop")
	}
}

// DocumentSave indexes every document received on docChan and files it away.
func (s *Service) DocumentSave(ctx context.Context, docChan <-chan internal.Document) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-docChan:
			if !ok {
				return
			}
			if !s.save(ctx, doc) {
				return
			}
		}
	}
}

// save reports false when ctx was cancelled mid-document.
func (s *Service) save(ctx context.Context, doc internal.Document) bool {
	defer s.loader.Release(doc.Path)
	log := s.logger.With().Str("doc_id", doc.ID).Logger()

	err := doc.Err
	if err == nil {
		var report ingest.Report
		report, err = s.ingester.IngestDocument(ctx, doc.ID, doc.Pages)
		if err == nil {
			log.Info().Int("pages", report.Pages).Int("chunks", report.Chunks).Int("replaced", report.Replaced).Msg("document indexed")
			if perr := s.afterIngest(); perr != nil {
				log.Error().Err(perr).Msg("persist index")
			}
		}
	}
	if ctx.Err() != nil {
		// файл остается в source до следующего запуска
		return false
	}

	failed := err != nil
	if failed {
		log.Error().Err(err).Str("file", doc.Path).Msg("document rejected")
	}
	dest, merr := s.loader.MoveToArchive(doc.Path, failed)
	if merr != nil {
		log.Error().Err(merr).Str("file", doc.Path).Msg("move processed file")
		return true
	}
	log.Debug().Str("dest", dest).Msg("file moved")
	return true
}

// IngestFiles loads and indexes paths one by one. Files stay where they are.
func (s *Service) IngestFiles(ctx context.Context, paths []string) ([]ingest.Report, error) {
	reports := make([]ingest.Report, 0, len(paths))
	for _, path := range paths {
		id := internal.DocumentID(path)
		pages, err := s.loader.LoadPages(ctx, path, id)
		if err != nil {
			return reports, fmt.Errorf("load %s: %w", path, err)
		}
		report, err := s.ingester.IngestDocument(ctx, id, pages)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	if len(reports) > 0 {
		if err := s.afterIngest(); err != nil {
			return reports, fmt.Errorf("persist index: %w", err)
		}
	}
	return reports, nil
}
