// Command ocrparse runs the verification pipeline on one local file and
// prints the resulting extraction record. Text files are used as transcripts
// directly; PDFs are read through their text layer unless --vision is set.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"docverify/internal/documents"
	"docverify/internal/drafts"
	"docverify/internal/ocr"
	"docverify/internal/ocr/compare"
	"docverify/internal/ocr/preprocess"
	"docverify/internal/pipeline"
	"docverify/internal/proposals"
	"docverify/internal/queue"
	"docverify/internal/shared/config"
	"docverify/internal/shared/ratelimit"
	localstore "docverify/internal/shared/storage/object/local"
	"docverify/internal/shared/util"
	"docverify/internal/textdetect"
	"docverify/internal/textdetect/vision"
)

const (
	draftID = "local-draft"
	fileID  = "local-file"
)

type options struct {
	path      string
	kind      string
	name      string
	cpf       string
	threshold string
	format    string
	useVision bool
}

func main() {
	var opts options
	pflag.StringVarP(&opts.path, "file", "f", "", "document to parse (image, pdf or txt transcript)")
	pflag.StringVarP(&opts.kind, "kind", "k", string(documents.KindIDFront), "declared document kind")
	pflag.StringVar(&opts.name, "name", "", "self-reported full name to compare against")
	pflag.StringVar(&opts.cpf, "cpf", "", "self-reported CPF to compare against")
	pflag.StringVar(&opts.threshold, "threshold", "", "name divergence threshold (ratio or percentage)")
	pflag.StringVarP(&opts.format, "format", "o", "json", "output format: json or yaml")
	pflag.BoolVar(&opts.useVision, "vision", false, "send images and scanned PDFs to Cloud Vision")
	pflag.Parse()

	if err := run(context.Background(), config.Load(), opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ocrparse:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, opts options, out io.Writer) error {
	if strings.TrimSpace(opts.path) == "" {
		return errors.New("--file is required")
	}
	kind := documents.Kind(strings.ToUpper(strings.TrimSpace(opts.kind)))
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", opts.kind)
	}
	data, err := os.ReadFile(opts.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	contentType := contentTypeFor(opts.path)

	detector, err := buildDetector(ctx, cfg, opts, data, contentType)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "ocrparse-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	store := localstore.New(dir)
	key := "documents/" + util.HashOwnerKey(draftID) + "/" + stagedName(opts.path)
	if _, err := store.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("stage file: %w", err)
	}

	docs := documents.NewMemoryRepo()
	if err := docs.Create(ctx, documents.DocumentFile{
		ID: fileID, DraftID: draftID, Kind: kind, FileName: filepath.Base(opts.path),
		StorageKey: key, ContentType: contentType, SizeBytes: int64(len(data)),
	}); err != nil {
		return err
	}
	draftRepo := drafts.NewMemoryRepo()
	if err := draftRepo.Create(ctx, drafts.Draft{ID: draftID, FullName: opts.name, CPF: opts.cpf}); err != nil {
		return err
	}
	results := ocr.NewMemoryRepo()

	threshold := cfg.OCR.NameThreshold
	if opts.threshold != "" {
		threshold = compare.ParseThreshold(opts.threshold)
	}
	secret := cfg.CPFHashSecret
	if secret == "" {
		secret = "ocrparse"
	}
	svc := pipeline.NewService(pipeline.Deps{
		Documents:  docs,
		Proposals:  proposals.NewMemoryRepo(),
		Drafts:     draftRepo,
		Results:    results,
		Store:      store,
		TextDetect: detector,
		HashCPF:    util.CPFHasher(secret),
	}, pipeline.Config{
		Legibility: preprocess.Thresholds{
			MinWidth:  cfg.OCR.MinWidth,
			MinHeight: cfg.OCR.MinHeight,
			MinBytes:  cfg.OCR.MinBytes,
		},
		MaxDimension:  cfg.OCR.MaxDimension,
		MaxPixels:     cfg.OCR.MaxPixels,
		MinTextLength: cfg.OCR.MinTextLength,
		NameThreshold: threshold,
	})

	outcome, err := svc.Process(ctx, queue.Job{DraftID: draftID, DocumentFileID: fileID, RequestID: "ocrparse"})
	if err != nil {
		return err
	}
	report := map[string]any{"outcome": string(outcome)}
	if all := results.All(); len(all) > 0 {
		report["result"] = all[0]
	}
	return write(out, opts.format, report)
}

func buildDetector(ctx context.Context, cfg config.Config, opts options, data []byte, contentType string) (textdetect.Client, error) {
	if contentType == "text/plain" {
		return staticText{text: string(data)}, nil
	}
	if !opts.useVision {
		return pdfTextOnly{}, nil
	}
	vc, err := vision.New(ctx, vision.Options{
		Endpoint:        cfg.Vision.Endpoint,
		APIKey:          cfg.Vision.APIKey,
		CredentialsFile: cfg.Vision.CredentialsFile,
		Timeout:         cfg.Vision.Timeout,
	})
	if err != nil {
		return nil, err
	}
	// No shared quota offline; the limiter layer passes every call through.
	return textdetect.Chain(vc, nil, ratelimit.Rule{}, max(cfg.OCR.MinTextLength, 1)), nil
}

// stagedName turns a local path into a storage-safe object name: the base
// name with everything outside [A-Za-z0-9._-] replaced by '_'.
func stagedName(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if strings.Trim(name, "._") == "" {
		return "document"
	}
	return name
}

// staticText serves a transcript read from disk.
type staticText struct{ text string }

func (staticText) Enabled() bool { return true }

func (s staticText) Detect(context.Context, []byte, string) (textdetect.Transcript, error) {
	return textdetect.Transcript{FullText: s.text, Source: "file"}, nil
}

// pdfTextOnly reads PDF text layers and refuses anything that needs OCR.
type pdfTextOnly struct{}

func (pdfTextOnly) Enabled() bool { return true }

func (pdfTextOnly) Detect(_ context.Context, data []byte, contentType string) (textdetect.Transcript, error) {
	if !textdetect.IsPDF(contentType) {
		return textdetect.Transcript{}, errors.New("images need --vision")
	}
	text, err := textdetect.ExtractPDFText(data)
	if err != nil {
		return textdetect.Transcript{}, err
	}
	return textdetect.Transcript{FullText: text, Source: textdetect.SourcePDFTextLayer}, nil
}

func write(out io.Writer, format string, report map[string]any) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "json", "":
		_, err = fmt.Fprintln(out, string(raw))
		return err
	case "yaml", "yml":
		// Round-trip through JSON so YAML keys follow the json tags.
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
