package modbus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Register table columns.
const (
	colTopic        = "topic"
	colRegister     = "register"
	colDomoticzIdx  = "domoticzidx"
	colUnit         = "unit"
	colIcon         = "icon"
	colSize         = "size"
	colDataFormat   = "dataformat"
	colMultiplier   = "multiplier"
	colOutputFormat = "outputformat"
	colFrequency    = "frequency"
	colSlave        = "slave"
	colFunctionCode = "functioncode"
)

// defaultRowTopic marks the row that supplies fallback values.
const defaultRowTopic = "DEFAULT"

// commentPrefix disables a row when its topic starts with it.
const commentPrefix = "#"

// builtinDefaults apply when neither the row nor the DEFAULT row sets a column.
var builtinDefaults = map[string]string{
	colSize:         "1",
	colDataFormat:   ">H",
	colMultiplier:   "1",
	colFrequency:    "60",
	colSlave:        "1",
	colFunctionCode: "3",
}

// LoadTable reads a CSV register table from path.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening register table: %w", ErrConfig, err)
	}
	defer f.Close()

	t, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTable reads a CSV register table.
//
// The first row names the columns (case-insensitive, any order); Topic and
// Register are required. A row whose Topic is DEFAULT supplies values for
// cells left empty in the rows that follow it. Rows with an empty Topic or a Topic
// starting with '#' are skipped.
func ParseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, configError("register table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrConfig, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[key] = i
	}
	for _, required := range []string{colTopic, colRegister} {
		if _, ok := columns[required]; !ok {
			return nil, configError("register table has no %q column", required)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading rows: %w", ErrConfig, err)
	}

	// A DEFAULT row applies to the rows after it, until the next DEFAULT row.
	regs := make([]Register, 0, len(records))
	defaults := tableRow{columns: columns}
	for i, record := range records {
		row := tableRow{columns: columns, record: record, line: i + 2}
		topic := row.cell(colTopic)
		switch {
		case topic == "" || strings.HasPrefix(topic, commentPrefix):
			continue
		case topic == defaultRowTopic:
			defaults = row
			continue
		}

		reg, err := row.register(defaults)
		if err == nil {
			err = reg.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", row.line, err)
		}
		regs = append(regs, reg)
	}

	return NewTable(regs)
}

type tableRow struct {
	columns map[string]int
	record  []string
	line    int
}

func (r tableRow) cell(column string) string {
	i, ok := r.columns[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// value resolves a column: row cell, then DEFAULT row, then built-in default.
func (r tableRow) value(column string, defaults tableRow) string {
	if v := r.cell(column); v != "" {
		return v
	}
	if v := defaults.cell(column); v != "" {
		return v
	}
	return builtinDefaults[column]
}

func (r tableRow) register(defaults tableRow) (Register, error) {
	reg := Register{
		Topic: r.cell(colTopic),
		Unit:  r.value(colUnit, defaults),
		Icon:  r.value(colIcon, defaults),
	}

	var err error
	if reg.Address, err = parseIntColumn(r.value(colRegister, defaults), colRegister); err != nil {
		return Register{}, err
	}
	if reg.Size, err = parseIntColumn(r.value(colSize, defaults), colSize); err != nil {
		return Register{}, err
	}
	if reg.SlaveID, err = parseIntColumn(r.value(colSlave, defaults), colSlave); err != nil {
		return Register{}, err
	}
	if reg.FunctionCode, err = parseIntColumn(r.value(colFunctionCode, defaults), colFunctionCode); err != nil {
		return Register{}, err
	}
	if idx := r.value(colDomoticzIdx, defaults); idx != "" {
		if reg.DomoticzIdx, err = parseIntColumn(idx, colDomoticzIdx); err != nil {
			return Register{}, err
		}
	}

	if reg.Multiplier, err = strconv.ParseFloat(r.value(colMultiplier, defaults), 64); err != nil {
		return Register{}, configError("invalid multiplier %q", r.value(colMultiplier, defaults))
	}

	seconds, err := strconv.ParseFloat(r.value(colFrequency, defaults), 64)
	if err != nil {
		return Register{}, configError("invalid frequency %q", r.value(colFrequency, defaults))
	}
	reg.PollFrequency = time.Duration(seconds * float64(time.Second))

	if reg.DataFormat, err = ParseDataFormat(r.value(colDataFormat, defaults)); err != nil {
		return Register{}, err
	}
	if reg.OutputFormat, err = ParseOutputFormat(r.value(colOutputFormat, defaults)); err != nil {
		return Register{}, err
	}

	return reg, nil
}

// parseIntColumn accepts decimal or 0x-prefixed hex. Leading zeros are
// decimal: "0100" is 100.
func parseIntColumn(s, column string) (int, error) {
	digits, base := s, 10
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		digits, base = s[2:], 16
	}
	v, err := strconv.ParseInt(digits, base, 32)
	if err != nil {
		return 0, configError("invalid %s %q", column, s)
	}
	return int(v), nil
}
