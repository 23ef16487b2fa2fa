package notice

import "strings"

// Offices is the parsed form of an assigned_office value. A notice whose
// jurisdiction could not be resolved to one office carries several.
type Offices []string

// ParseOffices splits a slash-joined office value, dropping blank parts.
func ParseOffices(s string) Offices {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "/")
	out := make(Offices, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// String returns the storage encoding.
func (o Offices) String() string {
	return strings.Join(o, "/")
}

// Multi reports whether more than one office is listed.
func (o Offices) Multi() bool {
	return len(o) > 1
}

// unknownOfficeMarkers are substrings of office values that mean the
// jurisdiction is unresolved. Matched case-insensitively.
var unknownOfficeMarkers = []string{"불명", "미확인", "확인", "미정", "UNKNOWN"}

// UnknownOfficeMarkers returns the upper-cased unresolved-office markers.
func UnknownOfficeMarkers() []string {
	return append([]string(nil), unknownOfficeMarkers...)
}

// IsUnknownOffice reports whether the raw office value is ambiguous
// (multi-office) or unresolved.
func IsUnknownOffice(raw string) bool {
	if strings.Contains(raw, "/") {
		return true
	}
	upper := strings.ToUpper(raw)
	for _, m := range unknownOfficeMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// IsKnownOffice reports whether office is in the catalog.
func IsKnownOffice(office string) bool {
	for _, o := range OfficeCatalog {
		if o == office {
			return true
		}
	}
	return false
}
