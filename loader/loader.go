package loader

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goavro "github.com/linkedin/goavro/v2"
	parquet "github.com/parquet-go/parquet-go"
	"github.com/razeghi71/dqflow/table"
	"golang.org/x/text/unicode/norm"
)

// Load reads a file and returns a Table.
func Load(filename string) (*table.Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".tsv":
		return loadDelimited(filename, '\t')
	case ".csv":
		return loadDelimited(filename, ',')
	case ".json":
		return loadJSON(filename)
	case ".jsonl":
		return loadJSONL(filename)
	case ".avro":
		return loadAvro(filename)
	case ".parquet":
		return loadParquet(filename)
	default:
		return nil, fmt.Errorf("unsupported file format %q (supported: .tsv, .csv, .json, .jsonl, .avro, .parquet)", ext)
	}
}

// columnName trims and NFC-normalizes a header so that visually identical
// names written with different code point sequences match workflow columns.
// A leading byte order mark is dropped.
func columnName(s string) string {
	return norm.NFC.String(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}

func loadDelimited(filename string, comma rune) (*table.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if comma != '\t' {
		reader.TrimLeadingSpace = true
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return table.NewTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read header from %s: %w", filename, err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = columnName(h)
	}

	t := table.NewTable(columns)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", filename, err)
		}

		vals := make([]table.Value, len(columns))
		for i := range columns {
			if i < len(record) {
				vals[i] = ParseValue(strings.TrimSpace(record[i]))
			} else {
				vals[i] = table.Null()
			}
		}
		t.AddRow(vals)
	}

	return t, nil
}

// ParseValue infers the type of a text cell. Empty cells and the tokens
// null, NA and NaN are null; anything ParseFloat accepts is a number.
func ParseValue(s string) table.Value {
	switch {
	case s == "", strings.EqualFold(s, "null"), s == "NA", s == "N/A", strings.EqualFold(s, "nan"):
		return table.Null()
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return table.Num(v)
	}

	return table.Str(s)
}

// record is a decoded JSON object that remembers key order.
type record struct {
	keys []string
	vals map[string]any
}

func decodeRecord(dec *json.Decoder) (record, error) {
	rec := record{vals: make(map[string]any)}
	tok, err := dec.Token()
	if err != nil {
		return rec, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return rec, fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return rec, err
		}
		key := columnName(tok.(string))
		var v any
		if err := dec.Decode(&v); err != nil {
			return rec, err
		}
		if _, seen := rec.vals[key]; !seen {
			rec.keys = append(rec.keys, key)
		}
		rec.vals[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return rec, err
	}
	return rec, nil
}

func loadJSON(filename string) (*table.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("cannot parse JSON from %s: %w", filename, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("cannot parse JSON from %s: expected array of objects", filename)
	}

	var records []record
	for dec.More() {
		rec, err := decodeRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("cannot parse JSON record %d from %s: %w", len(records), filename, err)
		}
		records = append(records, rec)
	}

	return buildTableFromRecords(records), nil
}

func loadJSONL(filename string) (*table.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var records []record
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := decodeRecord(json.NewDecoder(strings.NewReader(line)))
		if err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filename, err)
	}

	return buildTableFromRecords(records), nil
}

// buildTableFromRecords takes the union of keys in order of first appearance.
func buildTableFromRecords(records []record) *table.Table {
	colSet := make(map[string]bool)
	var columns []string
	for _, rec := range records {
		for _, k := range rec.keys {
			if !colSet[k] {
				colSet[k] = true
				columns = append(columns, k)
			}
		}
	}

	t := table.NewTable(columns)
	for _, rec := range records {
		vals := make([]table.Value, len(columns))
		for i, col := range columns {
			vals[i] = jsonValue(rec.vals[col])
		}
		t.AddRow(vals)
	}

	return t
}

func jsonValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case float64:
		return table.Num(val)
	case string:
		return table.Str(val)
	case bool:
		return table.Str(strconv.FormatBool(val))
	default:
		// nested objects and arrays are kept as their JSON text
		b, _ := json.Marshal(val)
		return table.Str(string(b))
	}
}

func loadAvro(filename string) (*table.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	ocfr, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("cannot read Avro OCF from %s: %w", filename, err)
	}

	var schemaDef struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal([]byte(ocfr.Codec().Schema()), &schemaDef); err != nil {
		return nil, fmt.Errorf("cannot parse Avro schema: %w", err)
	}

	fields := make([]string, len(schemaDef.Fields))
	columns := make([]string, len(schemaDef.Fields))
	for i, field := range schemaDef.Fields {
		fields[i] = field.Name
		columns[i] = columnName(field.Name)
	}
	if saved, ok := ocfr.MetaData()[columnsMetaKey]; ok {
		var names []string
		if err := json.Unmarshal(saved, &names); err == nil && len(names) == len(columns) {
			for i, name := range names {
				columns[i] = columnName(name)
			}
		}
	}

	t := table.NewTable(columns)

	for ocfr.Scan() {
		datum, err := ocfr.Read()
		if err != nil {
			return nil, fmt.Errorf("error reading Avro record: %w", err)
		}

		rec, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected Avro record type %T", datum)
		}

		vals := make([]table.Value, len(columns))
		for i, name := range fields {
			vals[i] = avroValue(rec[name])
		}
		t.AddRow(vals)
	}

	if err := ocfr.Err(); err != nil {
		return nil, fmt.Errorf("error reading Avro file: %w", err)
	}

	return t, nil
}

func avroValue(v any) table.Value {
	switch val := v.(type) {
	case nil:
		return table.Null()
	case int32:
		return table.Num(float64(val))
	case int64:
		return table.Num(float64(val))
	case float32:
		return table.Num(float64(val))
	case float64:
		return table.Num(val)
	case string:
		return table.Str(val)
	case bool:
		return table.Str(strconv.FormatBool(val))
	case []byte:
		return table.Str(string(val))
	case map[string]any:
		// unions decode as {"type": value}
		for _, inner := range val {
			return avroValue(inner)
		}
		return table.Null()
	default:
		return table.Str(fmt.Sprintf("%v", val))
	}
}

func loadParquet(filename string) (*table.Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", filename, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", filename, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("cannot read Parquet file %s: %w", filename, err)
	}

	r := parquet.NewReader(pf)
	defer r.Close()

	fields := r.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return nil, fmt.Errorf("%s: column %q is nested or repeated; only flat schemas are supported", filename, field.Name())
		}
		columns[i] = columnName(field.Name())
	}

	t := table.NewTable(columns)
	rows := make([]parquet.Row, 128)
	for {
		n, err := r.ReadRows(rows)
		for _, row := range rows[:n] {
			vals := make([]table.Value, len(columns))
			for i := range vals {
				vals[i] = table.Null()
			}
			for _, v := range row {
				if c := v.Column(); c >= 0 && c < len(vals) {
					vals[c] = parquetValue(v)
				}
			}
			t.AddRow(vals)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading Parquet file %s: %w", filename, err)
		}
	}

	return t, nil
}

func parquetValue(v parquet.Value) table.Value {
	if v.IsNull() {
		return table.Null()
	}
	switch v.Kind() {
	case parquet.Boolean:
		return table.Str(strconv.FormatBool(v.Boolean()))
	case parquet.Int32:
		return table.Num(float64(v.Int32()))
	case parquet.Int64:
		return table.Num(float64(v.Int64()))
	case parquet.Float:
		return table.Num(float64(v.Float()))
	case parquet.Double:
		return table.Num(v.Double())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return table.Str(string(v.ByteArray()))
	default:
		return table.Str(v.String())
	}
}
