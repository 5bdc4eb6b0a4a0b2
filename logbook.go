package main

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
)

// Logbook is an append-only ADIF 3.1.0 writer (§4.8), grounded on the
// mutex-protected append-mode file writer idiom the chat logger uses.
type Logbook struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

func NewLogbook(path string) (*Logbook, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open logbook %s: %w", path, err)
	}
	info, statErr := f.Stat()
	if statErr == nil && info.Size() == 0 {
		if _, err := f.WriteString(adifHeader()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write adif header: %w", err)
		}
	}
	return &Logbook{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func adifHeader() string {
	return fmt.Sprintf("ADIF export <adif_ver:5>3.1.0 <programid:9>FT8-MCP <eoh>\n")
}

// LogQSO appends one ADIF record and flushes immediately (§4.8 — every
// logged contact must be durable before the call returns). station
// supplies the operator's own callsign/grid for STATION_CALLSIGN and
// MY_GRIDSQUARE, since a QSORecord only describes the other side.
func (l *Logbook) LogQSO(rec QSORecord, station StationProfile) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := formatADIFRecord(rec, station)
	if _, err := l.w.WriteString(line); err != nil {
		return fmt.Errorf("append adif record: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush adif record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync logbook: %w", err)
	}
	return nil
}

// ClearLogbook truncates the logbook file back to a bare ADIF header
// (§4.8 "clear-logbook"). The in-memory worked-index is not touched
// here; callers must also call StateCore.ClearWorked.
func (l *Logbook) ClearLogbook() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate logbook: %w", err)
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek logbook: %w", err)
	}
	l.w = bufio.NewWriter(l.file)
	if _, err := l.w.WriteString(adifHeader()); err != nil {
		return fmt.Errorf("write adif header: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush adif header: %w", err)
	}
	return l.file.Sync()
}

// ExportToFile copies the current logbook verbatim to destPath (§4.8
// "export-to-file").
func (l *Logbook) ExportToFile(destPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush before export: %w", err)
	}

	src, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open logbook for export: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy logbook to export file: %w", err)
	}
	return nil
}

// ImportFromFile appends every record from an external ADIF file to
// the logbook (§4.8 "import-from-file"). The header of srcPath is
// skipped; srcPath's own records are trusted as-is.
func (l *Logbook) ImportFromFile(srcPath string) (int, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return 0, fmt.Errorf("read import file: %w", err)
	}

	text := string(data)
	if idx := strings.Index(strings.ToLower(text), "<eoh>"); idx >= 0 {
		text = text[idx+len("<eoh>"):]
	}
	records := strings.Split(text, "<eor>")
	l.mu.Lock()
	defer l.mu.Unlock()

	imported := 0
	for _, record := range records {
		fields := parseADIFFields(record)
		if fields["call"] == "" {
			continue
		}
		if _, err := l.w.WriteString(strings.TrimSpace(record) + "\n<eor>\n"); err != nil {
			return imported, fmt.Errorf("append imported record: %w", err)
		}
		imported++
	}
	if err := l.w.Flush(); err != nil {
		return imported, fmt.Errorf("flush imported records: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return imported, fmt.Errorf("sync logbook after import: %w", err)
	}
	return imported, nil
}


func (l *Logbook) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return l.file.Close()
}

func adifField(name string, value string) string {
	return fmt.Sprintf("<%s:%d>%s ", name, len(value), value)
}

func formatADIFRecord(rec QSORecord, station StationProfile) string {
	var b strings.Builder
	b.WriteString(adifField("call", strings.ToUpper(rec.Callsign)))
	b.WriteString(adifField("qso_date", rec.StartTime.Format("20060102")))
	b.WriteString(adifField("time_on", rec.StartTime.Format("150405")))
	b.WriteString(adifField("qso_date_off", rec.EndTime.Format("20060102")))
	b.WriteString(adifField("time_off", rec.EndTime.Format("150405")))
	b.WriteString(adifField("band", strings.ToLower(rec.Band)))
	b.WriteString(adifField("freq", formatMHz(rec.DialHz)))
	b.WriteString(adifField("mode", strings.ToUpper(rec.Mode)))
	if rec.Grid != "" {
		b.WriteString(adifField("gridsquare", rec.Grid))
	}
	if rec.ReportSent != "" {
		b.WriteString(adifField("rst_sent", rec.ReportSent))
	}
	if rec.ReportReceived != "" {
		b.WriteString(adifField("rst_rcvd", rec.ReportReceived))
	}
	if rec.TXPowerWatts != 0 {
		b.WriteString(adifField("tx_pwr", strconv.Itoa(rec.TXPowerWatts)))
	}
	if rec.Notes != "" {
		b.WriteString(adifField("comment", rec.Notes))
	}
	if station.Grid != "" {
		b.WriteString(adifField("my_gridsquare", station.Grid))
	}
	b.WriteString(adifField("station_callsign", strings.ToUpper(station.Callsign)))
	b.WriteString("<eor>\n")
	return b.String()
}

func formatMHz(hz uint64) string {
	return strconv.FormatFloat(float64(hz)/1_000_000, 'f', 6, 64)
}

var adifFieldRE = regexp.MustCompile(`<([a-zA-Z_]+):(\d+)(?::[^>]*)?>`)

// isCorruptADIF detects a logbook file too damaged to parse record-by-
// record (§4.8 "catastrophic parse failure"): invalid UTF-8, or a
// non-empty file with no recognizable "<eoh>"/"<eor>" ADIF markers at
// all. A merely truncated trailing record is not corruption — the
// split-on-"<eor>" scan in ScanWorked just drops that partial tail.
func isCorruptADIF(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if !utf8.Valid(data) {
		return true
	}
	return !strings.Contains(string(data), "<eoh>") && !strings.Contains(string(data), "<eor>")
}

// ScanWorked reads the existing logbook at startup and reports every
// (call, band, mode) triple it finds, for StateCore.MarkWorked (§4.8
// "startup scan").
func ScanWorked(path string) ([]WorkedIndexKey, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open logbook for scan: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read logbook: %w", err)
	}

	if corrupt := isCorruptADIF(data); corrupt {
		backupPath := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UTC().Unix())
		f.Close()
		if err := os.Rename(path, backupPath); err != nil {
			return nil, fmt.Errorf("back up corrupt logbook: %w", err)
		}
		if err := os.WriteFile(path, []byte(adifHeader()), 0644); err != nil {
			return nil, fmt.Errorf("reinit logbook after corruption: %w", err)
		}
		return nil, fmt.Errorf("logbook at %s was corrupt, backed up to %s and reinitialized", path, backupPath)
	}

	var keys []WorkedIndexKey
	for _, record := range strings.Split(string(data), "<eor>") {
		fields := parseADIFFields(record)
		call, band, mode := fields["call"], fields["band"], fields["mode"]
		if call == "" || mode == "" {
			continue
		}
		keys = append(keys, workedKey(call, band, mode))
	}
	return keys, nil
}

func parseADIFFields(record string) map[string]string {
	out := make(map[string]string)
	matches := adifFieldRE.FindAllStringSubmatchIndex(record, -1)
	for _, m := range matches {
		name := strings.ToLower(record[m[2]:m[3]])
		length, err := strconv.Atoi(record[m[4]:m[5]])
		if err != nil {
			continue
		}
		start := m[1]
		end := start + length
		if end > len(record) {
			continue
		}
		out[name] = record[start:end]
	}
	return out
}

// BackupCompressed writes a gzip- or zstd-compressed snapshot of the
// current logbook file (§4.8 "optional gzip backup"). preferZstd picks
// klauspost/compress's zstd encoder over the stdlib gzip codec for a
// smaller backup at comparable speed.
func (l *Logbook) BackupCompressed(destPath string, preferZstd bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush before backup: %w", err)
	}

	src, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open logbook for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer dst.Close()

	if preferZstd {
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			return fmt.Errorf("new zstd writer: %w", err)
		}
		defer enc.Close()
		_, err = io.Copy(enc, src)
		return err
	}

	gz := gzip.NewWriter(dst)
	defer gz.Close()
	_, err = io.Copy(gz, src)
	return err
}
