package knowledge

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const (
	maxTableRows      = 20
	maxSummaryColumns = 5
	maxPDFPages       = 10
	maxFetchedLines   = 100
	maxFetchBytes     = 4 << 20
	defaultFetchUA    = "Mozilla/5.0 (compatible; GuardNovaBot/1.0)"
)

// FetchConfig bounds the network behavior of the url normalizer.
type FetchConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// FetchConfigFromEnv reads CRAWL_TIMEOUT_SECONDS / CRAWL_USER_AGENT.
func FetchConfigFromEnv() FetchConfig {
	cfg := FetchConfig{Timeout: 10 * time.Second, UserAgent: defaultFetchUA}
	if raw := strings.TrimSpace(os.Getenv("CRAWL_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Timeout = time.Duration(parsed) * time.Second
		}
	}
	if ua := strings.TrimSpace(os.Getenv("CRAWL_USER_AGENT")); ua != "" {
		cfg.UserAgent = ua
	}
	return cfg
}

// Normalizer converts raw knowledge sources into a single text blob. All
// file and network I/O of the engine lives here.
type Normalizer struct {
	httpClient *http.Client
	userAgent  string
}

func NewNormalizer(cfg FetchConfig) *Normalizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultFetchUA
	}
	return &Normalizer{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// Normalize produces the indexable text for the given source. For KindText
// the payload is the text itself, for KindFile a path on disk, for KindURL
// the address to fetch. An empty result means the caller must substitute the
// description or reject the ingestion.
func (n *Normalizer) Normalize(ctx context.Context, kind, payload, description string) (string, error) {
	switch kind {
	case KindText:
		return strings.TrimSpace(payload), nil
	case KindFile:
		data, err := os.ReadFile(payload)
		if err != nil {
			log.Printf("knowledge: read source file %s failed: %v", payload, err)
			return filePlaceholder(payload, description), nil
		}
		return n.NormalizeFileBytes(filepath.Base(payload), data, description), nil
	case KindURL:
		return n.FetchURL(ctx, payload), nil
	default:
		return "", fmt.Errorf("knowledge: unsupported content kind %q", kind)
	}
}

// NormalizeFileBytes dispatches on the file name's declared format. Parse
// failures never propagate: they degrade to a placeholder so the item is
// still stored and lexically searchable.
func (n *Normalizer) NormalizeFileBytes(name string, data []byte, description string) string {
	ext := strings.ToLower(filepath.Ext(name))

	var (
		text string
		err  error
	)
	switch ext {
	case ".csv":
		text, err = renderCSV(data)
	case ".xlsx", ".xlsm", ".xls":
		text, err = renderWorkbook(data)
	case ".docx":
		text, err = extractDocx(data)
	case ".pdf":
		text, err = extractPDF(data)
	case ".txt", ".md", ".log":
		text = strings.TrimSpace(string(data))
	default:
		return filePlaceholder(name, description)
	}

	if err != nil {
		log.Printf("knowledge: parse %s failed: %v", name, err)
		return filePlaceholder(name, description)
	}
	if strings.TrimSpace(text) == "" {
		return filePlaceholder(name, description)
	}
	return text
}

func filePlaceholder(name, description string) string {
	if trimmed := strings.TrimSpace(description); trimmed != "" {
		return trimmed
	}
	return "File: " + filepath.Base(name)
}

func renderCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("knowledge: parse csv: %w", err)
	}
	return renderTable(rows), nil
}

func renderWorkbook(data []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("knowledge: open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("knowledge: workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("knowledge: read sheet %q: %w", sheets[0], err)
	}
	return renderTable(rows), nil
}

// renderTable writes a bounded Markdown-style table: header, first 20 data
// rows, per-column summaries for the first 5 columns, and a truncation
// footer.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	header := rows[0]
	body := rows[1:]
	shown := body
	if len(shown) > maxTableRows {
		shown = shown[:maxTableRows]
	}

	var builder strings.Builder
	writeTableRow(&builder, header)
	separator := make([]string, len(header))
	for i := range separator {
		separator[i] = "---"
	}
	writeTableRow(&builder, separator)
	for _, row := range shown {
		writeTableRow(&builder, row)
	}

	summaryCols := len(header)
	if summaryCols > maxSummaryColumns {
		summaryCols = maxSummaryColumns
	}
	if summaryCols > 0 && len(body) > 0 {
		builder.WriteString("\nColumn summary:\n")
		for col := 0; col < summaryCols; col++ {
			builder.WriteString("- ")
			builder.WriteString(strings.TrimSpace(header[col]))
			builder.WriteString(": ")
			builder.WriteString(summarizeColumn(body, col))
			builder.WriteString("\n")
		}
	}

	if len(body) > maxTableRows {
		builder.WriteString(fmt.Sprintf("\nShowing first %d of %d data rows.\n", maxTableRows, len(body)))
	}

	return strings.TrimSpace(builder.String())
}

func writeTableRow(builder *strings.Builder, cells []string) {
	builder.WriteString("|")
	for _, cell := range cells {
		builder.WriteString(" ")
		builder.WriteString(strings.ReplaceAll(strings.TrimSpace(cell), "|", "\\|"))
		builder.WriteString(" |")
	}
	builder.WriteString("\n")
}

func summarizeColumn(body [][]string, col int) string {
	var (
		numeric  = true
		min, max float64
		seen     = make(map[string]struct{})
		count    int
	)
	for _, row := range body {
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		count++
		seen[value] = struct{}{}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			numeric = false
			continue
		}
		if count == 1 || parsed < min {
			min = parsed
		}
		if count == 1 || parsed > max {
			max = parsed
		}
	}
	if count == 0 {
		return "empty"
	}
	if numeric {
		return fmt.Sprintf("numeric range %s to %s", formatNumber(min), formatNumber(max))
	}
	return fmt.Sprintf("%d distinct values", len(seen))
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// extractDocx reads the main document part of the OOXML package and joins
// non-empty paragraphs in order.
func extractDocx(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("knowledge: open docx package: %w", err)
	}

	var document *zip.File
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			document = file
			break
		}
	}
	if document == nil {
		return "", errors.New("knowledge: docx package has no document part")
	}

	reader, err := document.Open()
	if err != nil {
		return "", fmt.Errorf("knowledge: open docx document part: %w", err)
	}
	defer reader.Close()

	decoder := xml.NewDecoder(reader)
	var (
		paragraphs []string
		current    strings.Builder
		inRun      bool
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("knowledge: decode docx xml: %w", err)
		}
		switch node := token.(type) {
		case xml.StartElement:
			if node.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			switch node.Name.Local {
			case "t":
				inRun = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				current.Reset()
			}
		case xml.CharData:
			if inRun {
				current.Write(node)
			}
		}
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		paragraphs = append(paragraphs, text)
	}

	return strings.Join(paragraphs, "\n\n"), nil
}

// extractPDF pulls text from the first 10 pages, each behind a page marker,
// and notes when more pages exist.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("knowledge: open pdf: %w", err)
	}

	total := reader.NumPage()
	shown := total
	if shown > maxPDFPages {
		shown = maxPDFPages
	}

	var builder strings.Builder
	for number := 1; number <= shown; number++ {
		page := reader.Page(number)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("knowledge: extract pdf page %d failed: %v", number, err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		builder.WriteString(fmt.Sprintf("[Page %d]\n%s\n\n", number, text))
	}
	if total > maxPDFPages {
		builder.WriteString(fmt.Sprintf("(%d more pages not shown)\n", total-maxPDFPages))
	}

	return strings.TrimSpace(builder.String()), nil
}

// FetchURL downloads the page and reduces it to visible text: markup
// stripped, blank lines collapsed, capped at 100 lines. Any failure returns
// "" so the caller can fall back to the description or reject the add.
func (n *Normalizer) FetchURL(ctx context.Context, address string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		log.Printf("knowledge: build fetch request for %s failed: %v", address, err)
		return ""
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("knowledge: fetch %s failed: %v", address, err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("knowledge: fetch %s status %s", address, resp.Status)
		return ""
	}

	document, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		log.Printf("knowledge: parse %s failed: %v", address, err)
		return ""
	}

	document.Find("script, style, noscript").Remove()
	text := document.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = document.Text()
	}

	lines := make([]string, 0, maxFetchedLines)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
		if len(lines) >= maxFetchedLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// SupportedFileFormats reports which file formats the normalizer parses
// beyond the description fallback.
func SupportedFileFormats() []string {
	formats := []string{".csv", ".xlsx", ".xlsm", ".xls", ".docx", ".pdf", ".txt", ".md", ".log"}
	sort.Strings(formats)
	return formats
}
