package order

import (
	"strconv"
	"strings"
)

// LookupReference points at another CRM record by its external id.
// It is never dereferenced locally.
type LookupReference struct {
	ExternalID string
}

// LookupFromString builds a reference from a raw key. Blank keys yield nil.
func LookupFromString(key string) *LookupReference {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return &LookupReference{ExternalID: key}
}

// LookupFromInt builds a reference from an integer key; ok=false yields nil
func LookupFromInt(key int, ok bool) *LookupReference {
	if !ok {
		return nil
	}
	return &LookupReference{ExternalID: strconv.Itoa(key)}
}

// lookupText resolves a truncated text column into a reference
func lookupText(r RawRecord, column string, limit int) *LookupReference {
	s, ok := r.Text(column, limit)
	if !ok {
		return nil
	}
	return LookupFromString(s)
}

// lookupInt resolves an integer column into a reference
func lookupInt(r RawRecord, column string) *LookupReference {
	return LookupFromInt(r.Int(column))
}
