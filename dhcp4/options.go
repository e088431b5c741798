package dhcp4

// Option is a single decoded TLV option. Data aliases the buffer the option
// was read from.
type Option struct {
	Code OptionCode
	Data []byte
}

// NextOption reads the option at position in buffer[:end].
//
// PAD bytes are skipped. ok is false when iteration is complete: position has
// reached end, an END option was found, or the next option is truncated (its
// length byte or part of its data lies at or beyond end). In that case next
// is the position iteration stopped at and no option is returned. end is
// clamped to len(buffer), so no combination of arguments reads out of bounds.
func NextOption(buffer []byte, position int, end int) (option Option, next int, ok bool) {
	if end > len(buffer) {
		end = len(buffer)
	}
	if position < 0 {
		return Option{}, position, false
	}

	for position < end {
		code := OptionCode(buffer[position])
		switch code {
		case OptionEnd:
			return Option{}, position, false
		case OptionPad:
			position++
			continue
		}

		if position+1 >= end {
			return Option{}, position, false // No room for the length byte.
		}
		length := int(buffer[position+1])
		dataStart := position + 2
		dataEnd := dataStart + length
		if dataEnd > end {
			return Option{}, position, false
		}

		return Option{Code: code, Data: buffer[dataStart:dataEnd:dataEnd]}, dataEnd, true
	}

	return Option{}, position, false
}

// OptionCursor iterates over an option region.
//
// A cursor is single-use: once Next has reported the end of the sequence it
// keeps doing so. Create a new cursor to iterate again.
type OptionCursor struct {
	buffer   []byte
	position int
	end      int
	done     bool
}

// NewOptionCursor creates a cursor over buffer[start:end].
func NewOptionCursor(buffer []byte, start int, end int) *OptionCursor {
	return &OptionCursor{
		buffer:   buffer,
		position: start,
		end:      end,
	}
}

// Next returns the next option, or false once the sequence is exhausted.
func (cursor *OptionCursor) Next() (Option, bool) {
	if cursor.done {
		return Option{}, false
	}

	option, next, ok := NextOption(cursor.buffer, cursor.position, cursor.end)
	cursor.position = next
	if !ok {
		cursor.done = true
	}

	return option, ok
}

// Position is the offset of the next byte the cursor will read.
func (cursor *OptionCursor) Position() int {
	return cursor.position
}
