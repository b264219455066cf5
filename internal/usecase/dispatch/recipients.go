package dispatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"notify-pipeline/internal/domain/entity"
)

// Resolver expands organisational units and maps identifiers to directory codes.
// *directory.Resolver implements it.
type Resolver interface {
	ExpandOrgUnits(ctx context.Context, units []string) ([]string, error)
	DirectoryCodes(ctx context.Context, identifiers []string) (map[string]string, error)
}

// bulkHeaders are first-row values treated as a header and skipped.
var bulkHeaders = map[string]struct{}{
	"recipient": {}, "identifier": {}, "mobile": {}, "userid": {}, "user_id": {},
}

// ResolveRecipients flattens spec into an ordered, deduplicated list:
// explicit identifiers, then org-unit members, then bulk-file rows.
func ResolveRecipients(ctx context.Context, resolver Resolver, spec entity.RecipientSpec, limit int) ([]string, error) {
	all := append([]string{}, spec.Identifiers...)

	if len(spec.OrgUnits) > 0 {
		if resolver == nil {
			return nil, errors.New("resolve recipients: org units given but no resolver configured")
		}
		members, err := resolver.ExpandOrgUnits(ctx, spec.OrgUnits)
		if err != nil {
			return nil, fmt.Errorf("resolve recipients: %w", err)
		}
		all = append(all, members...)
	}

	if len(spec.BulkFile) > 0 {
		rows, err := ParseBulkFile(spec.BulkFile)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}

	recipients := entity.DedupRecipients(all)
	if len(recipients) == 0 {
		return nil, &entity.ValidationError{Field: "recipients", Message: ErrNoRecipients.Error()}
	}
	if limit > 0 && len(recipients) > limit {
		return nil, &entity.ValidationError{
			Field:   "recipients",
			Message: fmt.Sprintf("%s: %d exceeds the limit of %d", ErrTooManyRecipients, len(recipients), limit),
		}
	}
	return recipients, nil
}

// ParseBulkFile reads recipient identifiers from the first column of a CSV
// import. A UTF-8 BOM and a recognised header row are skipped.
func ParseBulkFile(data []byte) ([]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []string
	for line := 0; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &entity.ValidationError{Field: "bulk_file", Message: err.Error()}
		}
		if len(record) == 0 {
			continue
		}
		value := strings.TrimSpace(record[0])
		if line == 0 {
			if _, ok := bulkHeaders[strings.ToLower(value)]; ok {
				continue
			}
		}
		if value != "" {
			out = append(out, value)
		}
	}
	return out, nil
}
