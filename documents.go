package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// DocumentTextExtractor converts fetched bytes of non-HTML documents into
// plain text for the extraction pipeline. Every branch is independently
// optional and total: a parse failure or missing capability yields "" rather
// than an error for the caller.
type DocumentTextExtractor struct {
	ocr *OCRProcessor
}

func NewDocumentTextExtractor(ocr *OCRProcessor) *DocumentTextExtractor {
	return &DocumentTextExtractor{ocr: ocr}
}

// Extract dispatches on the source URL's file extension.
func (d *DocumentTextExtractor) Extract(ctx context.Context, data []byte, sourceURL string) string {
	if len(data) == 0 {
		return ""
	}
	switch extensionOf(sourceURL) {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	case ".xlsx", ".xls":
		return spreadsheetText(data)
	case ".png", ".jpg", ".jpeg", ".gif":
		if d.ocr.Available() {
			return d.ocr.ExtractText(ctx, data)
		}
		return ""
	default:
		return bestEffortUTF8(data)
	}
}

func extensionOf(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return strings.ToLower(path.Ext(sourceURL))
	}
	return strings.ToLower(path.Ext(u.Path))
}

func pdfText(data []byte) (text string) {
	// The pdf package panics on some malformed files.
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return ""
	}
	return buf.String()
}

// docxText pulls the paragraph text out of word/document.xml. A docx is a
// zip container, the visible text lives in <w:t> elements.
func docxText(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		defer rc.Close()

		decoder := xml.NewDecoder(rc)
		var b strings.Builder
		var inText bool
		for {
			tok, err := decoder.Token()
			if err != nil {
				break
			}
			switch t := tok.(type) {
			case xml.StartElement:
				if t.Name.Local == "t" {
					inText = true
				} else if t.Name.Local == "p" && b.Len() > 0 {
					b.WriteByte('\n')
				}
			case xml.EndElement:
				if t.Name.Local == "t" {
					inText = false
				}
			case xml.CharData:
				if inText {
					b.Write(t)
				}
			}
		}
		return b.String()
	}
	return ""
}

// spreadsheetText concatenates every non-empty cell across all sheets.
func spreadsheetText(data []byte) string {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	defer wb.Close()

	var b strings.Builder
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					b.WriteString(cell)
					b.WriteByte(' ')
				}
			}
		}
	}
	return b.String()
}

func bestEffortUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}
