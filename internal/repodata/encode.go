package repodata

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators 是默认的逐项分隔符与键值分隔符。
const DefaultSeparators = ",:"

// Format 控制 repodata.json 的排版，取值含义与 Python json.dump 的 indent、separators 一致：
// Indent >= 0 时每个成员独占一行并缩进 Indent*层级 个空格，Indent < 0 时输出单行。
type Format struct {
	Indent        int
	ItemSeparator string
	KeySeparator  string
}

// DefaultFormat 返回 indent=0、separators=(",", ":") 的格式。
func DefaultFormat() Format {
	return Format{Indent: 0, ItemSeparator: ",", KeySeparator: ":"}
}

// NewFormat 由缩进和两个字符的分隔符串（如 ",:"）构造 Format。
func NewFormat(indent int, separators string) (Format, error) {
	item, key, err := ParseSeparators(separators)
	if err != nil {
		return Format{}, err
	}
	return Format{Indent: indent, ItemSeparator: item, KeySeparator: key}, nil
}

// ParseSeparators 把 ",:" 这样的两个字符拆成逐项分隔符与键值分隔符。
func ParseSeparators(s string) (item, key string, err error) {
	if utf8.RuneCountInString(s) != 2 {
		return "", "", fmt.Errorf("separators must be exactly two characters, got %q", s)
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return "", "", fmt.Errorf("separators %q: invalid utf-8", s)
	}
	return s[:size], s[size:], nil
}

// Separators 返回与 ParseSeparators 对应的两字符形式。
func (f Format) Separators() string {
	return f.ItemSeparator + f.KeySeparator
}

func (f Format) String() string {
	return fmt.Sprintf("indent=%d separators=%q", f.Indent, f.Separators())
}

// Encode 以排序后的键序列化文档，非 ASCII 字符转义为 \uXXXX，末尾不带换行。
// 输出与 Python json.dump(sort_keys=True) 在相同 indent/separators 下逐字节一致。
func Encode(w io.Writer, doc Document, format Format) error {
	e := &encoder{w: bufio.NewWriter(w), format: format}
	if err := e.value(doc, 0); err != nil {
		return fmt.Errorf("encode repodata: %w", err)
	}
	return e.w.Flush()
}

// encoder 依赖 bufio.Writer 的错误粘滞，写入错误统一在 Flush 时返回。
type encoder struct {
	w      *bufio.Writer
	format Format
}

func (e *encoder) value(v any, level int) error {
	switch v := v.(type) {
	case nil:
		e.w.WriteString("null")
	case bool:
		if v {
			e.w.WriteString("true")
		} else {
			e.w.WriteString("false")
		}
	case string:
		e.string(v)
	case json.Number:
		s, err := formatNumber(v)
		if err != nil {
			return err
		}
		e.w.WriteString(s)
	case float64:
		e.w.WriteString(formatFloat(v))
	case int:
		e.w.WriteString(strconv.Itoa(v))
	case int64:
		e.w.WriteString(strconv.FormatInt(v, 10))
	case Document:
		return e.object(v, level)
	case map[string]any:
		return e.object(v, level)
	case []any:
		return e.array(v, level)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func (e *encoder) object(m map[string]any, level int) error {
	if len(m) == 0 {
		e.w.WriteString("{}")
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.w.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.w.WriteString(e.format.ItemSeparator)
		}
		e.newline(level + 1)
		e.string(k)
		e.w.WriteString(e.format.KeySeparator)
		if err := e.value(m[k], level+1); err != nil {
			return err
		}
	}
	e.newline(level)
	e.w.WriteByte('}')
	return nil
}

func (e *encoder) array(a []any, level int) error {
	if len(a) == 0 {
		e.w.WriteString("[]")
		return nil
	}

	e.w.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			e.w.WriteString(e.format.ItemSeparator)
		}
		e.newline(level + 1)
		if err := e.value(v, level+1); err != nil {
			return err
		}
	}
	e.newline(level)
	e.w.WriteByte(']')
	return nil
}

func (e *encoder) newline(level int) {
	if e.format.Indent < 0 {
		return
	}
	e.w.WriteByte('\n')
	for i := 0; i < e.format.Indent*level; i++ {
		e.w.WriteByte(' ')
	}
}

const hexDigits = "0123456789abcdef"

// string 只输出可打印 ASCII，其余字符写成 \uXXXX，码点超过 U+FFFF 时写成代理对。
func (e *encoder) string(s string) {
	e.w.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			e.w.WriteString(`\"`)
		case '\\':
			e.w.WriteString(`\\`)
		case '\b':
			e.w.WriteString(`\b`)
		case '\f':
			e.w.WriteString(`\f`)
		case '\n':
			e.w.WriteString(`\n`)
		case '\r':
			e.w.WriteString(`\r`)
		case '\t':
			e.w.WriteString(`\t`)
		default:
			switch {
			case r >= ' ' && r <= '~':
				e.w.WriteByte(byte(r))
			case r > 0xFFFF:
				r -= 0x10000
				e.escape(0xD800 | (r>>10)&0x3FF)
				e.escape(0xDC00 | r&0x3FF)
			default:
				e.escape(r)
			}
		}
	}
	e.w.WriteByte('"')
}

func (e *encoder) escape(r rune) {
	e.w.WriteString(`\u`)
	e.w.WriteByte(hexDigits[(r>>12)&0xF])
	e.w.WriteByte(hexDigits[(r>>8)&0xF])
	e.w.WriteByte(hexDigits[(r>>4)&0xF])
	e.w.WriteByte(hexDigits[r&0xF])
}

// formatNumber 整数保留原始字面量，带小数点或指数的数按浮点数重新格式化。
func formatNumber(n json.Number) (string, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0", nil
		}
		return s, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	// 超出范围时 ParseFloat 返回 ±Inf 或 0，与 Python float() 的结果一致
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return "", fmt.Errorf("invalid number %q: %w", s, err)
	}
	return formatFloat(f), nil
}

// formatFloat 使用最短往返表示：十进制指数在 [-4, 16) 内用定点写法并至少保留一位小数，否则用科学计数法。
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}
