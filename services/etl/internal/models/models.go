package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// RawPayload is a decoded upstream response. Tabular payloads carry Fields
// and positional Data rows; the alternate wire shape is a list of
// per-sensor Records.
type RawPayload struct {
	Fields  []string
	Data    [][]any
	Records []map[string]any
}

// Tabular reports whether the payload uses the fields/data shape.
func (p RawPayload) Tabular() bool {
	return p.Fields != nil && p.Data != nil
}

// Empty reports whether the payload has no rows in either shape.
func (p RawPayload) Empty() bool {
	return len(p.Data) == 0 && len(p.Records) == 0
}

// Len returns the number of rows in the payload.
func (p RawPayload) Len() int {
	if p.Tabular() {
		return len(p.Data)
	}
	return len(p.Records)
}

// Rows pairs each positional data row with Fields. Record payloads are
// returned as-is.
func (p RawPayload) Rows() ([]map[string]any, error) {
	if !p.Tabular() {
		return p.Records, nil
	}
	rows := make([]map[string]any, 0, len(p.Data))
	for i, values := range p.Data {
		if len(values) != len(p.Fields) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(values), len(p.Fields))
		}
		row := make(map[string]any, len(p.Fields))
		for j, field := range p.Fields {
			row[field] = values[j]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MarshalJSON writes the payload back in the shape it arrived in.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if p.Tabular() {
		return json.Marshal(struct {
			Fields []string `json:"fields"`
			Data   [][]any  `json:"data"`
		}{p.Fields, p.Data})
	}
	if p.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.Records)
}

// ParsePayload decodes a response body. An object must carry both "fields"
// and "data"; an array is read as a list of records. Numbers become int64
// when integral and float64 otherwise.
func ParsePayload(body []byte) (RawPayload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return RawPayload{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return RawPayload{}, fmt.Errorf("decode payload: %w", err)
	}

	switch v := decoded.(type) {
	case nil:
		return RawPayload{}, nil
	case map[string]any:
		return parseTabular(v)
	case []any:
		return parseRecords(v)
	default:
		return RawPayload{}, fmt.Errorf("unexpected payload type %T", decoded)
	}
}

func parseTabular(obj map[string]any) (RawPayload, error) {
	rawFields, hasFields := obj["fields"]
	rawData, hasData := obj["data"]
	if !hasFields || !hasData {
		return RawPayload{}, fmt.Errorf("payload object must contain fields and data")
	}

	fieldList, ok := rawFields.([]any)
	if !ok {
		return RawPayload{}, fmt.Errorf("fields: expected list, got %T", rawFields)
	}
	fields := make([]string, 0, len(fieldList))
	for i, f := range fieldList {
		name, ok := f.(string)
		if !ok {
			return RawPayload{}, fmt.Errorf("fields[%d]: expected string, got %T", i, f)
		}
		fields = append(fields, name)
	}

	dataList, ok := rawData.([]any)
	if !ok && rawData != nil {
		return RawPayload{}, fmt.Errorf("data: expected list, got %T", rawData)
	}
	data := make([][]any, 0, len(dataList))
	for i, r := range dataList {
		values, ok := r.([]any)
		if !ok {
			return RawPayload{}, fmt.Errorf("data[%d]: expected list, got %T", i, r)
		}
		row := make([]any, len(values))
		for j, value := range values {
			row[j] = NormalizeValue(value)
		}
		data = append(data, row)
	}

	return RawPayload{Fields: fields, Data: data}, nil
}

func parseRecords(list []any) (RawPayload, error) {
	records := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return RawPayload{}, fmt.Errorf("record %d: expected object, got %T", i, item)
		}
		record := make(map[string]any, len(obj))
		for k, value := range obj {
			record[k] = NormalizeValue(value)
		}
		records = append(records, record)
	}
	return RawPayload{Records: records}, nil
}

type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// NormalizeValue converts decoder numbers into int64 or float64. Other
// values pass through unchanged.
func NormalizeValue(v any) any {
	n, ok := v.(jsonNumber)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return fmt.Sprint(v)
}
