package automation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cascadehq/cascade/internal/db"
)

var mergeTagPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// MergeTags substitutes {{tag}} placeholders in text: built-in contact
// fields (first_name, last_name, email, phone), custom contact fields by
// name, and trigger.<key> lookups into the run's trigger data. Unresolved
// tags are replaced with empty strings.
func MergeTags(text string, contact *db.Contact, triggerData json.RawMessage) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	fields := contactFields(contact)
	trigger := map[string]any{}
	if len(triggerData) > 0 {
		_ = json.Unmarshal(triggerData, &trigger)
	}

	return mergeTagPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := mergeTagPattern.FindStringSubmatch(match)[1]

		if key, ok := strings.CutPrefix(name, "trigger."); ok {
			return stringify(trigger[key])
		}
		if v, ok := fields[name]; ok {
			return v
		}
		return ""
	})
}

func contactFields(contact *db.Contact) map[string]string {
	fields := map[string]string{}
	if contact == nil {
		return fields
	}

	var custom map[string]any
	if len(contact.Fields) > 0 {
		_ = json.Unmarshal(contact.Fields, &custom)
	}
	for k, v := range custom {
		fields[k] = stringify(v)
	}

	// Built-ins win over custom fields of the same name.
	fields["first_name"] = contact.FirstName
	fields["last_name"] = contact.LastName
	if contact.Email != nil {
		fields["email"] = *contact.Email
	}
	if contact.Phone != nil {
		fields["phone"] = *contact.Phone
	}
	return fields
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; print integers without decimals.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
