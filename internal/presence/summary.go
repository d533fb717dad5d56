package presence

// Summary is the dashboard headcount derived from presence records.
type Summary struct {
	Total      int            `json:"total"`
	In         int            `json:"in"`
	Out        int            `json:"out"`
	ByBuilding map[string]int `json:"in_by_building"`
}

// Summarize counts students in and out. ByBuilding only counts students
// currently inside, keyed by the building of their last scan.
func Summarize(records []PresenceRecord) Summary {
	sum := Summary{Total: len(records), ByBuilding: make(map[string]int)}
	for _, rec := range records {
		if !rec.CurrentlyPresent {
			sum.Out++
			continue
		}
		sum.In++
		sum.ByBuilding[rec.LastEvent.Building]++
	}
	return sum
}
