package encoding

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Closing markers that must always fit after a value is written.
// "...\n" for a message, "{...}\n" for a parameter.
const (
	messageReserve   = 4
	parameterReserve = 6
)

const ellipsis = "..."

// EncodeText writes text as UTF-8 at buf[pos:] and returns the new position.
//
// Empty text is a no-op. When isParameter is set the value is wrapped in
// braces. If the text does not fit, it is cut on a rune boundary and "..." is
// appended; if not even the closing marker fits, the value is dropped and pos
// is returned unchanged. The write never leaves less than one byte free for
// the trailing newline.
func EncodeText(text string, isParameter bool, buf []byte, pos int) int {
	return encodeText(text, isParameter, buf, pos)
}

// EncodeBytes is EncodeText for UTF-8 already held in a byte slice.
func EncodeBytes(text []byte, isParameter bool, buf []byte, pos int) int {
	return encodeText(text, isParameter, buf, pos)
}

func encodeText[T ~string | ~[]byte](text T, isParameter bool, buf []byte, pos int) int {
	if len(text) == 0 {
		return pos
	}

	reserve := messageReserve
	if isParameter {
		reserve = parameterReserve
	}

	budget := len(buf) - pos - reserve
	if budget < 0 {
		return pos
	}

	n := len(text)
	truncated := false
	if n > budget {
		n = budget
		// back up to the first byte of a rune so no partial sequence is written
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		truncated = true
	}

	if isParameter {
		buf[pos] = '{'
		pos++
	}

	pos += copy(buf[pos:], text[:n])

	if truncated {
		pos += copy(buf[pos:], ellipsis)
	}

	if isParameter {
		buf[pos] = '}'
		pos++
	}

	return pos
}

const nullText = "null"

// EncodeValue writes one event parameter in brace form. nil is written as
// "null"; scalars are formatted into a stack array so they never allocate.
func EncodeValue(v any, buf []byte, pos int) int {
	var scratch [64]byte
	num := scratch[:0]

	switch x := v.(type) {
	case nil:
		return encodeText(nullText, true, buf, pos)
	case string:
		return encodeText(x, true, buf, pos)
	case *string:
		if x == nil {
			return encodeText(nullText, true, buf, pos)
		}
		return encodeText(*x, true, buf, pos)
	case []byte:
		if x == nil {
			return encodeText(nullText, true, buf, pos)
		}
		return encodeText(x, true, buf, pos)
	case bool:
		num = strconv.AppendBool(num, x)
	case int:
		num = strconv.AppendInt(num, int64(x), 10)
	case int8:
		num = strconv.AppendInt(num, int64(x), 10)
	case int16:
		num = strconv.AppendInt(num, int64(x), 10)
	case int32:
		num = strconv.AppendInt(num, int64(x), 10)
	case int64:
		num = strconv.AppendInt(num, x, 10)
	case uint:
		num = strconv.AppendUint(num, uint64(x), 10)
	case uint8:
		num = strconv.AppendUint(num, uint64(x), 10)
	case uint16:
		num = strconv.AppendUint(num, uint64(x), 10)
	case uint32:
		num = strconv.AppendUint(num, uint64(x), 10)
	case uint64:
		num = strconv.AppendUint(num, x, 10)
	case float32:
		num = strconv.AppendFloat(num, float64(x), 'g', -1, 32)
	case float64:
		num = strconv.AppendFloat(num, x, 'g', -1, 64)
	case error:
		return encodeText(x.Error(), true, buf, pos)
	case fmt.Stringer:
		return encodeText(x.String(), true, buf, pos)
	default:
		return encodeText(fmt.Sprint(x), true, buf, pos)
	}

	return encodeText(num, true, buf, pos)
}
