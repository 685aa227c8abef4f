// Package csvclean implements the CSV cleaning unit of work: a
// configurable pipeline of header normalization, whitespace trimming,
// null handling, row filtering and deduplication, producing a cleaned
// CSV plus a JSON report of what each step did.
package csvclean

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/worker/unitofwork"
)

// Cleaner is the csv_cleaning unit of work.
type Cleaner struct{}

func New() *Cleaner {
	return &Cleaner{}
}

// RemoveNullsPolicy controls the rows-with-nulls step.
// Mode is one of "any", "all", "threshold", "no"; Threshold is the
// minimum number of non-null cells a row must keep in threshold mode.
type RemoveNullsPolicy struct {
	Mode      string `json:"mode"`
	Threshold int    `json:"threshold"`
}

// Params is the normalized cleaning configuration.
type Params struct {
	Encoding             string            `json:"encoding"`
	ColumnNormalization  string            `json:"columnNameNormalization"`
	StripHeaderSpecial   bool              `json:"stripSpecialCharsFromHeaders"`
	InferTypes           bool              `json:"dataTypeInference"`
	TrimWhitespace       bool              `json:"whitespaceTrimming"`
	EmptyToNull          bool              `json:"emptyStringToNull"`
	DropLengthMismatch   bool              `json:"removeRowLengthMismatch"`
	RemoveNulls          RemoveNullsPolicy `json:"removeRowsWithNulls"`
	RemoveDuplicateRows  bool              `json:"duplicateRowsRemoval"`
}

// Report captures what the pipeline did, written next to the result.
type Report struct {
	StartTime         string            `json:"startTime"`
	EndTime           string            `json:"endTime"`
	ParametersUsed    Params            `json:"parametersUsed"`
	EncodingUsed      string            `json:"encodingUsed"`
	DelimiterUsed     string            `json:"delimiterUsed"`
	RowsIn            int               `json:"rowsIn"`
	RowsOut           int               `json:"rowsOut"`
	RemovedMismatch   int               `json:"removedRowLengthMismatch"`
	RemovedNullsCount int               `json:"removedNulls"`
	RemovedDuplicates int               `json:"removedDuplicates"`
	InferredTypes     map[string]string `json:"inferredTypes,omitempty"`
	StepsApplied      map[string]bool   `json:"stepsApplied"`
}

// rawParams is the wire shape of the parameters document: yes/no flags
// as strings, per the original submission schema.
type rawParams struct {
	Encoding            string          `json:"encoding"`
	ColumnNormalization string          `json:"columnNameNormalization"`
	StripHeaderSpecial  string          `json:"stripSpecialCharsFromHeaders"`
	TypeInference       string          `json:"dataTypeInference"`
	WhitespaceTrimming  string          `json:"whitespaceTrimming"`
	EmptyStringToNull   string          `json:"emptyStringToNull"`
	RemoveLenMismatch   string          `json:"removeRowLengthMismatch"`
	RemoveRowsWithNulls json.RawMessage `json:"removeRowsWithNulls"`
	DuplicateRemoval    string          `json:"duplicateRowsRemoval"`
}

func isYes(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	}
	return false
}

// ParseParams normalizes a raw parameters document, filling defaults for
// anything unspecified.
func ParseParams(raw string) (Params, error) {
	p := Params{
		Encoding:            "auto",
		ColumnNormalization: "none",
		InferTypes:          true,
		TrimWhitespace:      true,
		EmptyToNull:         true,
		RemoveNulls:         RemoveNullsPolicy{Mode: "no", Threshold: 1},
	}

	if strings.TrimSpace(raw) == "" {
		return p, nil
	}

	var rp rawParams
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		return Params{}, fmt.Errorf("invalid cleaning parameters: %w", err)
	}

	if rp.Encoding != "" {
		p.Encoding = strings.ToLower(strings.TrimSpace(rp.Encoding))
	}
	if rp.ColumnNormalization != "" {
		p.ColumnNormalization = strings.TrimSpace(rp.ColumnNormalization)
	}
	p.StripHeaderSpecial = isYes(rp.StripHeaderSpecial, false)
	if rp.TypeInference != "" {
		p.InferTypes = strings.EqualFold(strings.TrimSpace(rp.TypeInference), "auto")
	}
	p.TrimWhitespace = isYes(rp.WhitespaceTrimming, true)
	p.EmptyToNull = isYes(rp.EmptyStringToNull, true)
	p.DropLengthMismatch = isYes(rp.RemoveLenMismatch, false)
	p.RemoveDuplicateRows = isYes(rp.DuplicateRemoval, false)

	if len(rp.RemoveRowsWithNulls) > 0 {
		// Accepts either a bare mode string or a {mode, threshold} object.
		var mode string
		if err := json.Unmarshal(rp.RemoveRowsWithNulls, &mode); err == nil {
			p.RemoveNulls = RemoveNullsPolicy{Mode: strings.ToLower(mode), Threshold: 1}
		} else {
			var policy RemoveNullsPolicy
			if err := json.Unmarshal(rp.RemoveRowsWithNulls, &policy); err != nil {
				return Params{}, fmt.Errorf("invalid removeRowsWithNulls: %w", err)
			}
			policy.Mode = strings.ToLower(strings.TrimSpace(policy.Mode))
			if policy.Mode == "" {
				policy.Mode = "no"
			}
			if policy.Threshold <= 0 {
				policy.Threshold = 1
			}
			p.RemoveNulls = policy
		}
	}

	switch p.RemoveNulls.Mode {
	case "any", "all", "threshold", "no":
	default:
		return Params{}, fmt.Errorf("invalid removeRowsWithNulls mode: %q", p.RemoveNulls.Mode)
	}

	return p, nil
}

func (c *Cleaner) Execute(ctx context.Context, exec unitofwork.Execution) (*unitofwork.Result, error) {
	report := &Report{
		StartTime:    time.Now().UTC().Format(time.RFC3339Nano),
		StepsApplied: make(map[string]bool),
	}

	params, err := ParseParams(exec.Params)
	if err != nil {
		return nil, job.NewUnitOfWorkError("parameters", err)
	}
	report.ParametersUsed = params

	progress := exec.Progress
	if progress == nil {
		progress = func(float64) {}
	}

	// Encoding
	text, encodingUsed, err := decodeInput(exec.Input, params.Encoding)
	if err != nil {
		return nil, job.NewUnitOfWorkError("encoding", err)
	}
	report.EncodingUsed = encodingUsed
	report.StepsApplied["encodingDetection"] = true
	progress(0.1)

	// Delimiter
	delimiter := detectDelimiter(text)
	report.DelimiterUsed = string(delimiter)
	report.StepsApplied["delimiterDetection"] = true
	progress(0.2)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cleaning canceled: %w", err)
	}

	// Parse, optionally dropping rows whose cell count disagrees with
	// the header.
	header, rows, removedMismatch, err := readRecords(text, delimiter, params.DropLengthMismatch)
	if err != nil {
		return nil, job.NewUnitOfWorkError("parse", err)
	}
	report.RowsIn = len(rows)
	report.RemovedMismatch = removedMismatch
	report.StepsApplied["removeRowLengthMismatch"] = params.DropLengthMismatch
	progress(0.3)

	// Header normalization
	for i, name := range header {
		header[i] = normalizeHeader(name, params.ColumnNormalization, params.StripHeaderSpecial)
	}
	report.StepsApplied["columnNameNormalization"] = params.ColumnNormalization != "none"
	report.StepsApplied["stripSpecialCharsFromHeaders"] = params.StripHeaderSpecial
	progress(0.4)

	// Whitespace trimming
	if params.TrimWhitespace {
		for _, row := range rows {
			for i, cell := range row {
				row[i] = strings.TrimSpace(cell)
			}
		}
	}
	report.StepsApplied["whitespaceTrimming"] = params.TrimWhitespace
	progress(0.5)

	// Empty cells count as nulls once either null-producing step runs.
	nullable := params.EmptyToNull || params.InferTypes
	report.StepsApplied["emptyStringToNull"] = params.EmptyToNull

	// Type inference rewrites values into canonical forms per column.
	if params.InferTypes {
		report.InferredTypes = inferAndRewrite(header, rows)
	}
	report.StepsApplied["dataTypeInference"] = params.InferTypes
	progress(0.6)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cleaning canceled: %w", err)
	}

	// Rows with nulls
	before := len(rows)
	rows = removeNullRows(rows, params.RemoveNulls, nullable)
	report.RemovedNullsCount = before - len(rows)
	report.StepsApplied["removeRowsWithNulls"] = params.RemoveNulls.Mode != "no"
	progress(0.8)

	// Duplicates
	before = len(rows)
	if params.RemoveDuplicateRows {
		rows = dedupeRows(rows)
	}
	report.RemovedDuplicates = before - len(rows)
	report.StepsApplied["duplicateRowsRemoval"] = params.RemoveDuplicateRows
	progress(0.9)

	// Write outputs
	var out bytes.Buffer
	w := csv.NewWriter(&out)
	w.Comma = delimiter
	if err := w.Write(header); err != nil {
		return nil, job.NewUnitOfWorkError("write", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, job.NewUnitOfWorkError("write", err)
	}

	report.RowsOut = len(rows)
	report.EndTime = time.Now().UTC().Format(time.RFC3339Nano)

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, job.NewUnitOfWorkError("report", err)
	}

	return &unitofwork.Result{
		Output: out.Bytes(),
		Report: reportJSON,
	}, nil
}

// decodeInput strips a UTF-8 BOM and falls back to Latin-1 when the bytes
// are not valid UTF-8 (or when the caller forces latin-1).
func decodeInput(data []byte, encoding string) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("input CSV is empty")
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	switch encoding {
	case "utf-8":
		if !utf8.Valid(data) {
			return "", "", fmt.Errorf("input is not valid UTF-8")
		}
		return string(data), "utf-8", nil
	case "latin-1":
		return decodeLatin1(data), "latin-1", nil
	default: // auto
		if utf8.Valid(data) {
			return string(data), "utf-8", nil
		}
		return decodeLatin1(data), "latin-1", nil
	}
}

func decodeLatin1(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// detectDelimiter picks the candidate occurring most often in the first
// line, defaulting to comma.
func detectDelimiter(text string) rune {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}

	best := ','
	bestCount := strings.Count(line, ",")
	for _, cand := range []rune{';', '\t', '|'} {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best = cand
			bestCount = n
		}
	}
	return best
}

func readRecords(text string, delimiter rune, dropMismatch bool) (header []string, rows [][]string, removed int, err error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, 0, fmt.Errorf("input CSV has no rows")
	}

	header = records[0]
	want := len(header)

	for _, row := range records[1:] {
		if len(row) != want {
			if dropMismatch {
				removed++
				continue
			}
			// Pad or truncate so downstream steps see rectangular data.
			fixed := make([]string, want)
			copy(fixed, row)
			row = fixed
		}
		rows = append(rows, row)
	}

	return header, rows, removed, nil
}

var nonWordRe = regexp.MustCompile(`[^\w]`)
var spaceDashRe = regexp.MustCompile(`[\s\-]+`)
var multiUnderscoreRe = regexp.MustCompile(`_+`)

func normalizeHeader(name, mode string, stripSpecial bool) string {
	switch mode {
	case "lowercase":
		name = strings.ToLower(name)
	case "UPPERCASE":
		name = strings.ToUpper(name)
	case "snake_case":
		name = spaceDashRe.ReplaceAllString(name, "_")
		name = multiUnderscoreRe.ReplaceAllString(name, "_")
		name = strings.ToLower(name)
	}
	if stripSpecial {
		name = nonWordRe.ReplaceAllString(name, "")
	}
	return name
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var boolValues = map[string]string{
	"true": "true", "false": "false",
	"yes": "true", "no": "false",
	"1": "true", "0": "false",
}

// inferAndRewrite classifies each column as bool, int, float, date or
// string over its non-empty cells and rewrites values into a canonical
// form. Returns the inferred type per column name.
func inferAndRewrite(header []string, rows [][]string) map[string]string {
	types := make(map[string]string, len(header))

	for col, name := range header {
		kind := inferColumn(rows, col)
		types[name] = kind

		switch kind {
		case "bool":
			for _, row := range rows {
				if row[col] == "" {
					continue
				}
				row[col] = boolValues[strings.ToLower(strings.TrimSpace(row[col]))]
			}
		case "int":
			for _, row := range rows {
				if row[col] == "" {
					continue
				}
				v, _ := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
				row[col] = strconv.FormatInt(int64(v), 10)
			}
		case "float":
			for _, row := range rows {
				if row[col] == "" {
					continue
				}
				v, _ := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
				row[col] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
	}

	return types
}

func inferColumn(rows [][]string, col int) string {
	seen := 0
	isBool, isInt, isFloat, isDate := true, true, true, true

	for _, row := range rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		seen++

		if _, ok := boolValues[strings.ToLower(cell)]; !ok {
			isBool = false
		}
		if v, err := strconv.ParseFloat(cell, 64); err != nil {
			isInt = false
			isFloat = false
		} else if v != float64(int64(v)) {
			isInt = false
		}
		if !dateRe.MatchString(cell) {
			isDate = false
		} else if _, err := time.Parse("2006-01-02", cell); err != nil {
			isDate = false
		}
	}

	if seen == 0 {
		return "string"
	}
	switch {
	case isBool:
		return "bool"
	case isInt:
		return "int"
	case isFloat:
		return "float"
	case isDate:
		return "date"
	}
	return "string"
}

func removeNullRows(rows [][]string, policy RemoveNullsPolicy, nullable bool) [][]string {
	if policy.Mode == "no" || !nullable {
		return rows
	}

	kept := rows[:0]
	for _, row := range rows {
		nonNull := 0
		for _, cell := range row {
			if cell != "" {
				nonNull++
			}
		}

		keep := true
		switch policy.Mode {
		case "any":
			keep = nonNull == len(row)
		case "all":
			keep = nonNull > 0
		case "threshold":
			keep = nonNull >= policy.Threshold
		}

		if keep {
			kept = append(kept, row)
		}
	}
	return kept
}

func dedupeRows(rows [][]string) [][]string {
	seen := make(map[string]struct{}, len(rows))
	kept := rows[:0]
	for _, row := range rows {
		key := strings.Join(row, "\x1f")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept
}
