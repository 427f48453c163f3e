package cases

import "strings"

// Search filters records whose minor name or serialized form data contains term, ignoring case.
// An empty term returns records unchanged.
func Search(records []Case, term string) []Case {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return records
	}
	matches := make([]Case, 0, len(records))
	for _, record := range records {
		if strings.Contains(strings.ToLower(record.MinorName), needle) {
			matches = append(matches, record)
			continue
		}
		serialized, err := record.FormData.Serialize()
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(serialized)), needle) {
			matches = append(matches, record)
		}
	}
	return matches
}

// StatusLabel returns the dashboard badge for a case.
func StatusLabel(record Case) string {
	switch {
	case record.Status == StatusGenerated:
		return "Generated"
	case record.Status == StatusReady || record.CompletionPercentage >= 100:
		return "Ready"
	case record.CompletionPercentage > 70:
		return "In Progress"
	case record.CompletionPercentage > 30:
		return "Partial"
	default:
		return "Started"
	}
}
