package council

// Label returns the anonymized identifier for stage-1 entry i: Response A,
// Response B, ... wrapping to AA, AB after Z so any council size stays
// bijective.
func Label(i int) string {
	letters := ""
	n := i
	for {
		letters = string(rune('A'+n%26)) + letters
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return "Response " + letters
}

// AssignLabels maps labels to models in stage-1 order. The mapping is the
// only place anonymization is lifted, and it stays stable across rounds.
func AssignLabels(entries []Stage1Entry) (labels []string, labelToModel map[string]string) {
	labels = make([]string, len(entries))
	labelToModel = make(map[string]string, len(entries))
	for i, entry := range entries {
		labels[i] = Label(i)
		labelToModel[labels[i]] = entry.Model
	}
	return labels, labelToModel
}
