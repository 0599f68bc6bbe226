package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// valueKind is the interpretation of a register's raw bytes.
type valueKind int

const (
	kindSigned valueKind = iota
	kindUnsigned
	kindFloat
	kindString
)

// DataFormat describes how raw register bytes are decoded.
//
// Descriptors use struct-module notation: an optional byte order ('>' or
// '!' big-endian, the default, or '<' little-endian) followed by one type
// character:
//
//	h / H      16-bit signed / unsigned
//	i l / I L  32-bit signed / unsigned
//	q / Q      64-bit signed / unsigned
//	f / d      32-bit / 64-bit IEEE float
//	Ns         N-byte string, trailing NUL and space trimmed
//
// Little-endian reverses the whole byte sequence read from the bus, so
// "<i" over two registers [0x0102, 0x0304] decodes 0x04030201.
type DataFormat struct {
	text  string
	order binary.ByteOrder
	kind  valueKind
	width int // bytes
}

// ParseDataFormat parses a data format descriptor.
func ParseDataFormat(s string) (DataFormat, error) {
	text := strings.TrimSpace(s)
	body := text
	df := DataFormat{text: text, order: binary.BigEndian}

	if body != "" {
		switch body[0] {
		case '>', '!':
			body = body[1:]
		case '<':
			df.order = binary.LittleEndian
			body = body[1:]
		}
	}

	switch body {
	case "h":
		df.kind, df.width = kindSigned, 2
	case "H":
		df.kind, df.width = kindUnsigned, 2
	case "i", "l":
		df.kind, df.width = kindSigned, 4
	case "I", "L":
		df.kind, df.width = kindUnsigned, 4
	case "q":
		df.kind, df.width = kindSigned, 8
	case "Q":
		df.kind, df.width = kindUnsigned, 8
	case "f":
		df.kind, df.width = kindFloat, 4
	case "d":
		df.kind, df.width = kindFloat, 8
	default:
		if !strings.HasSuffix(body, "s") {
			return DataFormat{}, configError("unknown data format %q", s)
		}
		n := 1
		if digits := strings.TrimSuffix(body, "s"); digits != "" {
			v, err := strconv.Atoi(digits)
			if err != nil || v <= 0 {
				return DataFormat{}, configError("invalid string length in data format %q", s)
			}
			n = v
		}
		df.kind, df.width = kindString, n
	}

	return df, nil
}

// Words returns the number of 16-bit registers the format spans.
func (d DataFormat) Words() int {
	return (d.width + 1) / 2
}

// IsString reports whether values decode to text.
func (d DataFormat) IsString() bool {
	return d.kind == kindString
}

// String returns the descriptor as written in the register table.
func (d DataFormat) String() string {
	return d.text
}

// Value is a decoded register value.
type Value struct {
	Number float64
	Text   string
	IsText bool
}

// Decode interprets raw register bytes according to format and applies
// the multiplier to numeric results.
//
// Returns ErrDecode if len(raw) does not match the format's register span.
func Decode(raw []byte, format DataFormat, multiplier float64) (Value, error) {
	want := format.Words() * 2
	if len(raw) != want {
		return Value{}, fmt.Errorf("%w: format %q needs %d bytes, got %d", ErrDecode, format.text, want, len(raw))
	}

	b := raw[:format.width]
	var n float64

	switch format.kind {
	case kindString:
		return Value{Text: strings.TrimRight(string(b), "\x00 "), IsText: true}, nil
	case kindSigned:
		switch format.width {
		case 2:
			n = float64(int16(format.order.Uint16(b)))
		case 4:
			n = float64(int32(format.order.Uint32(b)))
		default:
			n = float64(int64(format.order.Uint64(b)))
		}
	case kindUnsigned:
		switch format.width {
		case 2:
			n = float64(format.order.Uint16(b))
		case 4:
			n = float64(format.order.Uint32(b))
		default:
			n = float64(format.order.Uint64(b))
		}
	case kindFloat:
		if format.width == 4 {
			n = float64(math.Float32frombits(format.order.Uint32(b)))
		} else {
			n = math.Float64frombits(format.order.Uint64(b))
		}
	}

	return Value{Number: n * multiplier}, nil
}

// OutputFormat renders a decoded value as the published string.
//
// Templates may use a single Go fmt verb ("%.1f", "%d") or the brace style
// found in existing register tables ("{:.1f}", "{}"). The zero value prints
// numbers in shortest decimal form.
type OutputFormat struct {
	text     string
	template string
	verb     byte
}

var bracePlaceholder = regexp.MustCompile(`\{[^{}:]*(?::([^{}]*))?\}`)

// ParseOutputFormat compiles an output template.
func ParseOutputFormat(s string) (OutputFormat, error) {
	if strings.TrimSpace(s) == "" {
		return OutputFormat{}, nil
	}

	template := s
	if bracePlaceholder.MatchString(s) {
		escaped := strings.ReplaceAll(s, "%", "%%")
		template = bracePlaceholder.ReplaceAllStringFunc(escaped, func(m string) string {
			flags := bracePlaceholder.FindStringSubmatch(m)[1]
			if flags == "" {
				return "%v"
			}
			return "%" + flags
		})
	}

	verbs := 0
	var verb byte
	for i := 0; i < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		if i+1 < len(template) && template[i+1] == '%' {
			i++
			continue
		}
		j := i + 1
		for j < len(template) && strings.IndexByte("+-# 0123456789.", template[j]) >= 0 {
			j++
		}
		if j == len(template) {
			return OutputFormat{}, configError("incomplete verb in output format %q", s)
		}
		verb = template[j]
		verbs++
		i = j
	}

	if verbs != 1 {
		return OutputFormat{}, configError("output format %q must contain exactly one placeholder", s)
	}
	if strings.IndexByte("vsdboxXeEfFgGq", verb) < 0 {
		return OutputFormat{}, configError("unsupported verb %%%c in output format %q", verb, s)
	}

	return OutputFormat{text: s, template: template, verb: verb}, nil
}

// String returns the template as written in the register table.
func (f OutputFormat) String() string {
	return f.text
}

// numeric reports whether the template needs a numeric operand.
func (f OutputFormat) numeric() bool {
	return f.template != "" && strings.IndexByte("dboxXeEfFgG", f.verb) >= 0
}

// FormatValue renders v using f.
func FormatValue(v Value, f OutputFormat) string {
	if f.template == "" {
		if v.IsText {
			return v.Text
		}
		return shortestDecimal(v.Number)
	}

	var operand any
	switch {
	case v.IsText:
		operand = v.Text
	case strings.IndexByte("dboxX", f.verb) >= 0:
		operand = int64(math.Round(v.Number))
	case strings.IndexByte("eEfFgG", f.verb) >= 0:
		operand = v.Number
	default:
		operand = shortestDecimal(v.Number)
	}

	return fmt.Sprintf(f.template, operand)
}

// shortestDecimal prints n without exponent and without the binary noise
// that scaling introduces (0.1*3 prints as 0.3).
func shortestDecimal(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(n, 'g', 12, 64), 64)
	if err != nil {
		rounded = n
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// EncodeCommandValue parses a command payload as a decimal integer.
// No scaling is applied: the integer is written as is.
func EncodeCommandValue(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, commandError("payload %q is not an integer", s)
	}
	return v, nil
}
