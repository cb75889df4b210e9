package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// OCRProcessor extracts text from contact images with Tesseract. The whole
// capability is optional: when tesseract is not installed every method
// returns empty results instead of failing the caller.
type OCRProcessor struct {
	enabled       bool
	engine        string
	maxSize       int
	timeout       time.Duration
	tesseractPath string
}

func NewOCRProcessor(enabled bool, engine string, maxSize int, timeoutSec int) *OCRProcessor {
	if maxSize <= 0 {
		maxSize = 5 << 20
	}
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &OCRProcessor{
		enabled:       enabled,
		engine:        engine,
		maxSize:       maxSize,
		timeout:       time.Duration(timeoutSec) * time.Second,
		tesseractPath: findTesseractPath(),
	}
}

// Available reports whether OCR can actually run in this environment.
func (ocr *OCRProcessor) Available() bool {
	return ocr != nil && ocr.enabled && ocr.engine != "none" && ocr.tesseractPath != ""
}

// findTesseractPath probes PATH and the usual install locations.
func findTesseractPath() string {
	if found, err := exec.LookPath("tesseract"); err == nil {
		return found
	}
	paths := []string{
		"/usr/bin/tesseract",
		"/usr/local/bin/tesseract",
		"/opt/homebrew/bin/tesseract",
		"C:\\Program Files\\Tesseract-OCR\\tesseract.exe",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ExtractText runs OCR over raw image bytes and returns the recognized text,
// or "" when the image cannot be decoded or OCR is unavailable.
func (ocr *OCRProcessor) ExtractText(ctx context.Context, imageData []byte) string {
	if !ocr.Available() || len(imageData) == 0 || len(imageData) > ocr.maxSize {
		return ""
	}
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return ""
	}
	text, err := ocr.performOCR(ctx, img, format)
	if err != nil {
		return ""
	}
	return text
}

// ExtractEmails runs OCR over image bytes and pulls addresses out of the
// recognized text, tolerating the usual character misreads.
func (ocr *OCRProcessor) ExtractEmails(ctx context.Context, imageData []byte) []string {
	text := ocr.ExtractText(ctx, imageData)
	if text == "" {
		return nil
	}
	emails := extractEmailsFromOCRText(cleanOCRText(text))
	if len(emails) == 0 {
		emails = extractEmailsFromOCRText(text)
	}
	return emails
}

func (ocr *OCRProcessor) performOCR(ctx context.Context, img image.Image, format string) (string, error) {
	tmpFile, err := writeTempImage(img, format)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpFile)

	ctx, cancel := context.WithTimeout(ctx, ocr.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ocr.tesseractPath, tmpFile, "stdout", "-l", "eng")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Retry without the language pack if only that is missing.
		if strings.Contains(stderr.String(), "lang") {
			stdout.Reset()
			stderr.Reset()
			cmd = exec.CommandContext(ctx, ocr.tesseractPath, tmpFile, "stdout")
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err = cmd.Run()
		}
		if err != nil {
			return "", fmt.Errorf("tesseract failed: %v (%s)", err, strings.TrimSpace(stderr.String()))
		}
	}
	return stdout.String(), nil
}

func writeTempImage(img image.Image, format string) (string, error) {
	tmpFile, err := os.CreateTemp("", "ocr-*.png")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		err = jpeg.Encode(tmpFile, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(tmpFile, img)
	}
	name := tmpFile.Name()
	tmpFile.Close()
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

var (
	ocrWhitespace  = regexp.MustCompile(`\s+`)
	ocrPipeRun     = regexp.MustCompile(`[|]{2,}`)
	ocrSpacedEmail = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9._%+\-]*\s*@\s*[a-zA-Z0-9][a-zA-Z0-9.\-]*\s*\.\s*[a-zA-Z]{2,}`)
	ocrPipeEmail   = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9._%+\-|]*@[a-zA-Z0-9][a-zA-Z0-9.\-|]*\.[a-zA-Z]{2,}`)
	ocrEdgeTrim    = regexp.MustCompile(`^[^a-zA-Z0-9]+|[^a-zA-Z0-9]+$`)
)

// cleanOCRText collapses whitespace and strips recognizer artifacts.
func cleanOCRText(text string) string {
	text = ocrWhitespace.ReplaceAllString(text, " ")
	text = ocrPipeRun.ReplaceAllString(text, "")
	return text
}

// extractEmailsFromOCRText matches addresses in recognizer output, including
// the two classic failure shapes: spaces inserted around '@' and '.', and
// 'l' misread as '|'.
func extractEmailsFromOCRText(text string) []string {
	var emails []string
	emails = append(emails, emailPattern.FindAllString(text, -1)...)
	for _, m := range ocrSpacedEmail.FindAllString(text, -1) {
		emails = append(emails, ocrWhitespace.ReplaceAllString(m, ""))
	}
	for _, m := range ocrPipeEmail.FindAllString(text, -1) {
		emails = append(emails, strings.ReplaceAll(m, "|", "l"))
	}

	seen := make(map[string]bool)
	var result []string
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		email = ocrEdgeTrim.ReplaceAllString(email, "")
		if len(email) < 6 || strings.Count(email, "@") != 1 || !strings.Contains(email, ".") {
			continue
		}
		email = fixOCREmailErrors(email)
		if !seen[email] {
			seen[email] = true
			result = append(result, email)
		}
	}
	return result
}

var ocrTripleRuns = []string{"u", "o", "r", "n", "a", "e", "i", "d"}

// fixOCREmailErrors repairs character runs Tesseract commonly duplicates.
func fixOCREmailErrors(email string) string {
	for _, ch := range ocrTripleRuns {
		re := regexp.MustCompile(regexp.QuoteMeta(ch) + "{3,}")
		email = re.ReplaceAllString(email, ch)
	}
	return email
}
