package jsonrepair

// FieldKind is the expected shape of a required response field.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldArray
)

// Field names a required response field and its expected shape.
type Field struct {
	Name string
	Kind FieldKind
}

// Neutral defaults used by Reconstruct. Deliberately bland: they keep the
// turn alive without inventing story content.
const placeholderNarrative = "The story pauses for a moment, waiting to see what happens next."

// Validate returns the names of required fields that are absent from obj
// or present with the wrong shape. Empty strings count as absent; empty
// arrays do not.
func Validate(obj map[string]any, fields []Field) []string {
	var missing []string
	for _, f := range fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			missing = append(missing, f.Name)
			continue
		}
		switch f.Kind {
		case FieldString:
			s, ok := v.(string)
			if !ok || s == "" {
				missing = append(missing, f.Name)
			}
		case FieldArray:
			if _, ok := v.([]any); !ok {
				missing = append(missing, f.Name)
			}
		}
	}
	return missing
}

// Reconstruct fills every missing required field with a neutral default:
// a generic placeholder sentence for strings, an empty list for arrays.
// This is the last line of defense before a turn fails outright.
func Reconstruct(obj map[string]any, fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range obj {
		out[k] = v
	}
	for _, name := range Validate(out, fields) {
		for _, f := range fields {
			if f.Name != name {
				continue
			}
			switch f.Kind {
			case FieldString:
				out[name] = placeholderNarrative
			case FieldArray:
				out[name] = []any{}
			}
		}
	}
	return out
}
