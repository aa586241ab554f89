package pdfdoc

import (
	"bytes"
	"fmt"
)

// appendBeforeClose inserts text just inside the closing ">>" of a
// dictionary slice that still carries its own "<<"..">>" delimiters.
func appendBeforeClose(dict []byte, addition string) []byte {
	idx := bytes.LastIndex(dict, []byte(">>"))
	if idx == -1 {
		return dict
	}
	out := make([]byte, 0, len(dict)+len(addition)+1)
	out = append(out, dict[:idx]...)
	out = append(out, ' ')
	out = append(out, addition...)
	out = append(out, ' ')
	out = append(out, dict[idx:]...)
	return out
}

// hasKey reports whether dict directly carries the given name key.
func hasKey(dict []byte, key string) bool {
	return bytes.Contains(dict, []byte("/"+key))
}

// containsRef reports whether an int is present in a slice, used when
// checking "is this object already listed" before appending.
func containsRef(refs []int, num int) bool {
	for _, r := range refs {
		if r == num {
			return true
		}
	}
	return false
}

// withRefAppended returns a dict where key's array has num appended, or a
// freshly-created `/Key [num 0 R]` array when the key is absent.
func withRefAppended(dict []byte, key string, num int) []byte {
	existing, ok := refArray(dict, key)
	if !ok {
		return appendBeforeClose(dict, fmt.Sprintf("/%s [%d 0 R]", key, num))
	}
	if containsRef(existing, num) {
		return dict
	}
	idx := bytes.Index(dict, []byte("/"+key))
	start := bytes.IndexByte(dict[idx:], '[')
	start += idx
	end := bytes.IndexByte(dict[start:], ']')
	end += start

	out := make([]byte, 0, len(dict)+16)
	out = append(out, dict[:end]...)
	out = append(out, fmt.Sprintf(" %d 0 R", num)...)
	out = append(out, dict[end:]...)
	return out
}

// withRef returns a dict where /Key N 0 R is set, replacing an existing
// reference of the same key or appending a new one.
func withRef(dict []byte, key string, num int) []byte {
	needle := []byte("/" + key + " ")
	idx := bytes.Index(dict, needle)
	if idx == -1 {
		return appendBeforeClose(dict, fmt.Sprintf("/%s %d 0 R", key, num))
	}
	valStart := idx + len(needle)
	j := valStart
	for j < len(dict) && dict[j] >= '0' && dict[j] <= '9' {
		j++
	}
	// skip " G R"
	end := j
	for end < len(dict) && dict[end] != 'R' {
		end++
	}
	end++ // include 'R'

	out := make([]byte, 0, len(dict)+8)
	out = append(out, dict[:valStart]...)
	out = append(out, fmt.Sprintf("%d 0 R", num)...)
	out = append(out, dict[end:]...)
	return out
}

// withSigFlags returns a dict where /SigFlags is set to the bitwise OR of
// its current value (0 if absent) and flags.
func withSigFlags(dict []byte, flags int) []byte {
	current, ok := dictInt(dict, "SigFlags")
	if !ok {
		return appendBeforeClose(dict, fmt.Sprintf("/SigFlags %d", flags))
	}
	newVal := current | flags
	if newVal == current {
		return dict
	}
	needle := []byte("/SigFlags ")
	idx := bytes.Index(dict, needle)
	valStart := idx + len(needle)
	j := valStart
	for j < len(dict) && (dict[j] == '-' || (dict[j] >= '0' && dict[j] <= '9')) {
		j++
	}
	out := make([]byte, 0, len(dict)+4)
	out = append(out, dict[:valStart]...)
	out = append(out, fmt.Sprintf("%d", newVal)...)
	out = append(out, dict[j:]...)
	return out
}
