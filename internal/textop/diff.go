package textop

// Diff derives the edit that turns before into after, assuming the edit is a
// single contiguous insertion or deletion. It scans the common prefix only;
// the divergence point becomes the position and the length difference
// decides the payload.
//
// Edits that are not a single contiguous insert or delete are approximated:
// a same-length replacement yields no operation at all, and a
// replace-selection yields one operation that does not reproduce after.
// Callers that need the exact value resync from the server instead.
//
// ok is false when no operation should be sent.
func Diff(before, after string) (op Operation, ok bool) {
	if before == after {
		return Operation{}, false
	}
	b, a := []rune(before), []rune(after)

	i := 0
	for i < len(b) && i < len(a) && b[i] == a[i] {
		i++
	}

	switch {
	case len(a) > len(b):
		return Operation{Type: Insert, Position: i, Text: string(a[i : i+len(a)-len(b)])}, true
	case len(b) > len(a):
		return Operation{Type: Delete, Position: i, Length: len(b) - len(a)}, true
	default:
		return Operation{}, false
	}
}
