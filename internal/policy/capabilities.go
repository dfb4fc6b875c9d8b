// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rass-lsp/rass/internal/jsonpath"
)

// capabilityState tracks what's needed to answer IsCapable and to build
// the merged capabilities object sent back as part of initialize's
// result, per spec.md §4.4's capability-merging rules.
type capabilityState struct {
	// perServer holds each live server's raw "capabilities" sub-object, by
	// server index, exactly as that server returned it.
	perServer map[int]jsonRaw
}

type jsonRaw = []byte

func newCapabilityState() *capabilityState {
	return &capabilityState{perServer: make(map[int]jsonRaw)}
}

func (c *capabilityState) observe(serverIndex int, capabilities jsonRaw) {
	c.perServer[serverIndex] = capabilities
}

// isCapable reports whether serverIndex individually advertises field,
// treating presence as true unless the field is the literal boolean
// false.
func (c *capabilityState) isCapable(serverIndex int, field string) bool {
	caps, ok := c.perServer[serverIndex]
	if !ok {
		return false
	}
	if !jsonpath.Exists(caps, field) {
		return false
	}
	return string(jsonpath.Raw(caps, field)) != "false"
}

// merged builds the combined capabilities object per spec.md §4.4:
//   - boolean capabilities: OR
//   - textDocumentSync: MIN
//   - *Provider fields: union, preferring the primary's value/shape when
//     more than one server enables the same provider
//   - trigger-character arrays: union
//   - work-done progress support: OR
//
// Servers are folded in index order so primaryIndex's values are applied
// first and later non-primary servers only add what the primary lacks,
// except where a rule explicitly overrides that (sync MIN, trigger union).
func (c *capabilityState) merged(primaryIndex int) jsonRaw {
	indices := make([]int, 0, len(c.perServer))
	for idx := range c.perServer {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool {
		// Walk the primary first so its values seed the merge.
		if indices[i] == primaryIndex {
			return true
		}
		if indices[j] == primaryIndex {
			return false
		}
		return indices[i] < indices[j]
	})

	merged := jsonRaw("{}")
	for _, idx := range indices {
		merged = mergeOneServer(merged, c.perServer[idx])
	}
	return merged
}

func mergeOneServer(accum jsonRaw, caps jsonRaw) jsonRaw {
	gjson.ParseBytes(caps).ForEach(func(key, value gjson.Result) bool {
		field := key.String()
		var err error
		switch {
		case field == "textDocumentSync":
			accum, err = jsonpath.SetRaw(accum, field, mergeSync(jsonpath.Raw(accum, field), []byte(value.Raw)))
		case strings.HasSuffix(field, "Provider"):
			accum, err = mergeProvider(accum, field, value)
		default:
			existing := gjson.GetBytes(accum, field)
			switch {
			case !existing.Exists():
				accum, err = jsonpath.SetRaw(accum, field, value.Raw)
			case isBool(existing) && isBool(value):
				accum, err = jsonpath.Set(accum, field, existing.Bool() || value.Bool())
			}
		}
		return err == nil
	})
	return accum
}

func isBool(r gjson.Result) bool {
	return r.Type == gjson.True || r.Type == gjson.False
}

// mergeSync applies the MIN rule across two textDocumentSync values, each
// of which may be a bare TextDocumentSyncKind number or a
// TextDocumentSyncOptions object carrying .change.
func mergeSync(existing, incoming jsonRaw) string {
	if len(existing) == 0 {
		return string(incoming)
	}
	if len(incoming) == 0 {
		return string(existing)
	}
	a, b := syncKind(existing), syncKind(incoming)
	if a <= b {
		return string(existing)
	}
	return string(incoming)
}

func syncKind(raw jsonRaw) int64 {
	r := gjson.ParseBytes(raw)
	if r.IsObject() {
		return r.Get("change").Int()
	}
	return r.Int()
}

// mergeProvider applies the *Provider union rule: if any server
// advertises the field, the merged value is the union of its option
// fields, preferring the primary's value where they conflict but OR-ing
// any boolean sub-capability (e.g. workDoneProgress) rather than
// discarding whichever side didn't seed the object — plus
// trigger-character union for the two provider kinds that carry one.
func mergeProvider(accum jsonRaw, field string, incoming gjson.Result) (jsonRaw, error) {
	existing := gjson.GetBytes(accum, field)
	incomingTruthy := incoming.Raw != "false"

	if !existing.Exists() {
		if !incomingTruthy {
			return accum, nil
		}
		return jsonpath.SetRaw(accum, field, incoming.Raw)
	}

	existingTruthy := existing.Raw != "false"
	var out []byte
	var err error
	switch {
	case existingTruthy && incomingTruthy:
		out, err = mergeProviderObjects(accum, field, existing, incoming)
	case existingTruthy:
		out, err = accum, nil
	case incomingTruthy:
		out, err = jsonpath.SetRaw(accum, field, incoming.Raw)
	default:
		out, err = accum, nil
	}
	if err != nil {
		return accum, err
	}

	if field == "completionProvider" || field == "signatureHelpProvider" {
		out = mergeTriggerChars(out, field, existing, incoming)
	}
	return out, nil
}

// mergeProviderObjects folds incoming's option fields into the provider
// object already at field in accum: a field missing on the accumulated
// side is adopted outright, a boolean field present on both sides is
// OR'd (spec.md §4.4's "OR the boolean sub-capabilities", which covers
// workDoneProgress), and anything else keeps whichever side is already
// accumulated (primary-first, since the primary is always folded first).
// triggerCharacters is unioned separately by mergeTriggerChars.
func mergeProviderObjects(accum jsonRaw, field string, existing, incoming gjson.Result) (jsonRaw, error) {
	if !incoming.IsObject() {
		return accum, nil // bare `true` adds nothing beyond what's already set
	}
	if !existing.IsObject() {
		// existing is a bare `true`; adopt incoming's richer shape wholesale.
		return jsonpath.SetRaw(accum, field, incoming.Raw)
	}

	out := accum
	var err error
	incoming.ForEach(func(key, val gjson.Result) bool {
		k := key.String()
		if k == "triggerCharacters" {
			return true
		}
		sub := gjson.GetBytes(out, field+"."+k)
		switch {
		case !sub.Exists():
			out, err = jsonpath.SetRaw(out, field+"."+k, val.Raw)
		case isBool(sub) && isBool(val):
			out, err = jsonpath.Set(out, field+"."+k, sub.Bool() || val.Bool())
		}
		return err == nil
	})
	return out, err
}

func mergeTriggerChars(accum jsonRaw, field string, existing, incoming gjson.Result) jsonRaw {
	seen := map[string]bool{}
	var union []string
	collect := func(r gjson.Result) {
		for _, c := range r.Get("triggerCharacters").Array() {
			s := c.String()
			if !seen[s] {
				seen[s] = true
				union = append(union, s)
			}
		}
	}
	collect(existing)
	collect(incoming)
	if len(union) == 0 {
		return accum
	}
	chars := make([]any, len(union))
	for i, s := range union {
		chars[i] = s
	}
	out, err := jsonpath.Set(accum, field+".triggerCharacters", chars)
	if err != nil {
		return accum
	}
	return out
}
