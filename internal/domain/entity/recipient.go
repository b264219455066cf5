package entity

// RecipientSpec describes who receives a dispatch before resolution.
// The resolved set is Identifiers ∪ members(OrgUnits) ∪ rows of BulkFile.
type RecipientSpec struct {
	Identifiers []string
	OrgUnits    []string
	// BulkFile is a CSV import whose first column holds recipient identifiers.
	BulkFile []byte
}

// Empty reports whether the spec names no source of recipients at all.
func (r RecipientSpec) Empty() bool {
	return len(r.Identifiers) == 0 && len(r.OrgUnits) == 0 && len(r.BulkFile) == 0
}

// DedupRecipients normalizes ids and removes duplicates, keeping the first occurrence.
func DedupRecipients(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := NormalizeRecipient(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
