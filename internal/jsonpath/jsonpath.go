// SPDX-License-Identifier: Apache-2.0

// Package jsonpath centralizes dynamic JSON payload access for rass's
// policy layer, per spec.md §9's design note: "centralize JSON access
// behind small helpers (get-list, get-object, get-optional-string) rather
// than modeling every LSP payload as a concrete type." It is a thin
// wrapper over gjson (read) and sjson (write).
package jsonpath

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetString returns the string at path, or "" if missing or not a string.
func GetString(json []byte, path string) string {
	r := gjson.GetBytes(json, path)
	if !r.Exists() || r.Type != gjson.String {
		return ""
	}
	return r.String()
}

// GetOptionalString returns the string at path and whether it was present
// at all (distinguishing absent from empty-string).
func GetOptionalString(json []byte, path string) (string, bool) {
	r := gjson.GetBytes(json, path)
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// GetBool returns the bool at path, defaulting to false.
func GetBool(json []byte, path string) bool {
	return gjson.GetBytes(json, path).Bool()
}

// GetInt returns the int at path, defaulting to 0.
func GetInt(json []byte, path string) int {
	return int(gjson.GetBytes(json, path).Int())
}

// Exists reports whether path resolves to any value, including null.
func Exists(json []byte, path string) bool {
	return gjson.GetBytes(json, path).Exists()
}

// IsObject reports whether path resolves to a JSON object.
func IsObject(json []byte, path string) bool {
	r := gjson.GetBytes(json, path)
	return r.Exists() && r.IsObject()
}

// GetList returns the array at path as raw gjson results, normalizing a
// bare object at path into a length-1 list and a missing/null value into
// an empty list, per spec.md §4.3 step 4 ("if a server returned a
// singleton object, treat as length-1 array; null treated as empty").
func GetList(json []byte, path string) []gjson.Result {
	r := gjson.GetBytes(json, path)
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil
	case r.IsArray():
		return r.Array()
	default:
		return []gjson.Result{r}
	}
}

// Raw returns the raw JSON bytes for the value at path, or nil if absent.
func Raw(json []byte, path string) []byte {
	r := gjson.GetBytes(json, path)
	if !r.Exists() {
		return nil
	}
	return []byte(r.Raw)
}

// Set returns json with path set to value, a Go value that sjson encodes
// as JSON, used when rewriting a payload in place (e.g. stamping a
// diagnostic's "source" field). SetRaw is the form for already-encoded JSON.
func Set(json []byte, path string, value any) ([]byte, error) {
	return sjson.SetBytes(json, path, value)
}

// SetRaw returns json with path set to the already-encoded JSON in raw.
func SetRaw(json []byte, path string, raw string) ([]byte, error) {
	return sjson.SetRawBytes(json, path, []byte(raw))
}

// Delete returns json with path removed.
func Delete(json []byte, path string) ([]byte, error) {
	return sjson.DeleteBytes(json, path)
}
