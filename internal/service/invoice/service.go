package invoice

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type Extractor interface {
	Extract(ctx context.Context, settings *model.ChannelSettings, pdf []byte, fileName string) ([]byte, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type Service interface {
	Calculate(extraction Extraction) NetInvoice
	ProcessOCR(ctx context.Context, invoiceID uuid.UUID) (*NetInvoice, error)
}

type service struct {
	invoices  repository.InvoiceRepository
	settings  settings.Resolver
	extractor Extractor
	fetcher   Fetcher
	logger    *logger.Logger
}

func NewService(
	invoices repository.InvoiceRepository,
	resolver settings.Resolver,
	extractor Extractor,
	fetcher Fetcher,
	log *logger.Logger,
) Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &service{
		invoices:  invoices,
		settings:  resolver,
		extractor: extractor,
		fetcher:   fetcher,
		logger:    log,
	}
}

func (s *service) Calculate(extraction Extraction) NetInvoice {
	return CalculateNetInvoice(extraction)
}

// ProcessOCR runs the invoice PDF through the OCR API and stores the
// extracted number, gross and net values on the invoice.
func (s *service) ProcessOCR(ctx context.Context, invoiceID uuid.UUID) (*NetInvoice, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, apperrors.NotFound("invoice", err)
		}
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv.FileURL == nil || *inv.FileURL == "" {
		return nil, apperrors.BadRequest("invoice has no file to process", nil)
	}

	cfg, err := s.settings.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	pdf, _, err := s.fetcher.Fetch(ctx, *inv.FileURL)
	if err != nil {
		return nil, apperrors.Delivery("failed to download invoice file", err)
	}

	fileName := "nota.pdf"
	if inv.FileName != nil && *inv.FileName != "" {
		fileName = *inv.FileName
	}

	raw, err := s.extractor.Extract(ctx, cfg, pdf, fileName)
	if err != nil {
		return nil, apperrors.Delivery("ocr extraction failed", err)
	}

	var extraction Extraction
	if err := json.Unmarshal(raw, &extraction); err != nil {
		return nil, apperrors.Delivery("ocr returned an unreadable extraction", err)
	}

	result := CalculateNetInvoice(extraction)

	inv.InvoiceNumber = result.InvoiceNumber
	inv.GrossValue = decimal.NullDecimal{Decimal: result.Gross, Valid: true}
	inv.NetValue = decimal.NullDecimal{Decimal: result.Net, Valid: true}
	inv.ISSRetained = result.ISSRetained
	if err := s.invoices.UpdateExtraction(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to store extraction: %w", err)
	}

	s.logger.Info("Processed invoice OCR",
		"invoice_id", inv.ID.String(),
		"gross", result.Gross.StringFixed(2),
		"net", result.Net.StringFixed(2),
		"iss_retained", result.ISSRetained)

	return &result, nil
}
