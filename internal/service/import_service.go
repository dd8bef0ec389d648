package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portal-service/internal/events"
	"portal-service/internal/importer"
	"portal-service/internal/models"
	"portal-service/internal/repository"
)

const defaultImportConcurrency = 8

// ImportSummary reports the outcome of one CSV import.
type ImportSummary struct {
	Mapping  importer.Mapping     `json:"mapping"`
	Rows     int                  `json:"rows"`
	Imported int                  `json:"imported"`
	Phones   int                  `json:"phones"`
	DryRun   bool                 `json:"dry_run"`
	Errors   []importer.RowError  `json:"errors,omitempty"`
	Warnings []importer.RowError  `json:"warnings,omitempty"`
	Accounts []ImportedAccountRef `json:"accounts,omitempty"`
}

type ImportedAccountRef struct {
	Row           int    `json:"row"`
	AccountID     string `json:"account_id"`
	AccountNumber string `json:"account_number"`
}

// ImportService loads account batches from CSV files.
type ImportService struct {
	accounts    repository.AccountRepository
	publisher   events.Publisher
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

func NewImportService(accounts repository.AccountRepository, publisher events.Publisher, concurrency int, logger *zap.Logger) *ImportService {
	if concurrency <= 0 {
		concurrency = defaultImportConcurrency
	}
	return &ImportService{
		accounts:    accounts,
		publisher:   publisher,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Preview returns the headers, suggested mapping and first rows of a file.
func (s *ImportService) Preview(r io.Reader) (*importer.Preview, error) {
	p, err := importer.PreviewFile(r)
	if err != nil {
		return nil, validationError("%v", err)
	}
	return p, nil
}

// Import parses the file with the suggested mapping merged with overrides
// and writes every valid row. Rows that fail to store are reported, not
// fatal.
func (s *ImportService) Import(ctx context.Context, r io.Reader, overrides importer.Mapping, dryRun bool) (*ImportSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", ErrValidation, err)
	}

	preview, err := importer.PreviewFile(bytes.NewReader(data))
	if err != nil {
		return nil, validationError("%v", err)
	}
	mapping := preview.Mapping.Merge(overrides)

	parsed, err := importer.Parse(bytes.NewReader(data), mapping)
	if err != nil {
		return nil, validationError("%v", err)
	}

	summary := &ImportSummary{
		Mapping: mapping,
		Rows:    len(parsed.Records) + len(parsed.Errors),
		DryRun:  dryRun,
		Errors:  append([]importer.RowError(nil), parsed.Errors...),
	}
	for _, rec := range parsed.Records {
		for _, w := range rec.Warnings {
			summary.Warnings = append(summary.Warnings, importer.RowError{Row: rec.Row, Message: w})
		}
	}

	if dryRun {
		summary.Imported = len(parsed.Records)
		for _, rec := range parsed.Records {
			summary.Phones += len(rec.Phones)
		}
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range parsed.Records {
		rec := parsed.Records[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ref, phones, err := s.storeRecord(gctx, &rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors = append(summary.Errors, importer.RowError{Row: rec.Row, Message: err.Error()})
				return nil
			}
			summary.Imported++
			summary.Phones += phones
			summary.Accounts = append(summary.Accounts, *ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("%w: import interrupted: %v", ErrPersistence, err)
	}

	sortRowErrors(summary.Errors)
	sortRefs(summary.Accounts)

	if err := s.publisher.Publish(ctx, events.NewEvent(events.TypeAccountsImported, "", "", map[string]string{
		"imported": strconv.Itoa(summary.Imported),
		"phones":   strconv.Itoa(summary.Phones),
		"errors":   strconv.Itoa(len(summary.Errors)),
	})); err != nil {
		s.logger.Warn("failed to publish import event", zap.Error(err))
	}

	s.logger.Info("account import finished",
		zap.Int("rows", summary.Rows),
		zap.Int("imported", summary.Imported),
		zap.Int("phones", summary.Phones),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

func (s *ImportService) storeRecord(ctx context.Context, rec *importer.Record) (*ImportedAccountRef, int, error) {
	now := s.now().UTC()
	account := rec.Account
	account.AccountID = uuid.New().String()
	if account.AccountNumber == "" {
		account.AccountNumber = newAccountNumber(now)
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.accounts.CreateAccount(ctx, &account); err != nil {
		return nil, 0, fmt.Errorf("failed to store account: %v", err)
	}

	stored := 0
	for _, number := range rec.Phones {
		phone := &models.PhoneNumber{
			PhoneID:    uuid.New().String(),
			AccountID:  account.AccountID,
			Number:     number,
			Status:     models.PhoneStatusUnknown,
			DebtorName: account.DebtorName,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.accounts.AddPhoneNumber(ctx, phone); err != nil {
			return nil, stored, fmt.Errorf("account stored but phone failed: %v", err)
		}
		stored++
	}

	return &ImportedAccountRef{Row: rec.Row, AccountID: account.AccountID, AccountNumber: account.AccountNumber}, stored, nil
}

// newAccountNumber returns ACC-<unix millis>-<random suffix>.
func newAccountNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("ACC-%d-%s", now.UnixMilli(), suffix)
}

func sortRowErrors(errs []importer.RowError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Row < errs[j].Row })
}

func sortRefs(refs []ImportedAccountRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Row < refs[j].Row })
}
