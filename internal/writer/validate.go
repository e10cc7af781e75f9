package writer

import "fmt"

// ValidationResult contains the outcome of batch validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
}

// Validate sanity-checks a sealed batch before it is written:
//   - the batch carries something to write
//   - every record has a signature
//   - records are in (slot, tx index) order
//   - no duplicate signatures within the batch
//
// A sealed batch is sorted and deduplicated, so a validation error here
// means a bug upstream, not bad input.
func Validate(batch *Batch) ValidationResult {
	result := ValidationResult{Passed: true}

	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if len(batch.Records) == 0 && len(batch.Slots) == 0 {
		fail("batch is empty")
		return result
	}

	seen := make(map[string]struct{}, len(batch.Records))
	for i, rec := range batch.Records {
		if rec.Signature == "" {
			fail("record %d has no signature", i)
			continue
		}
		if _, dup := seen[rec.Signature]; dup {
			fail("duplicate signature in batch: %s", rec.Signature)
		}
		seen[rec.Signature] = struct{}{}

		if i > 0 {
			prev := batch.Records[i-1]
			if rec.Slot < prev.Slot || (rec.Slot == prev.Slot && rec.Index < prev.Index) {
				fail("record %d out of order: slot %d index %d after slot %d index %d",
					i, rec.Slot, rec.Index, prev.Slot, prev.Index)
			}
		}

		if rec.Timestamp.IsZero() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("record %d has zero timestamp", i))
		}
	}

	if len(batch.Records) > 0 && batch.SlotStart > batch.SlotEnd {
		fail("slot range inverted: %d > %d", batch.SlotStart, batch.SlotEnd)
	}

	return result
}
