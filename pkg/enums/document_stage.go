package enums

import "fmt"

// DocumentStage tracks where a sales document sits in its lifecycle. One
// logical document walks quotation to settled invoice; cancellation is a
// terminal stage, never a deletion.
type DocumentStage string

const (
	DocumentStageDraft         DocumentStage = "draft"
	DocumentStageApproved      DocumentStage = "approved"
	DocumentStageConverted     DocumentStage = "converted"
	DocumentStageInvoiced      DocumentStage = "invoiced"
	DocumentStagePartiallyPaid DocumentStage = "partially_paid"
	DocumentStageSettled       DocumentStage = "settled"
	DocumentStageCancelled     DocumentStage = "cancelled"
)

var validDocumentStages = []DocumentStage{
	DocumentStageDraft,
	DocumentStageApproved,
	DocumentStageConverted,
	DocumentStageInvoiced,
	DocumentStagePartiallyPaid,
	DocumentStageSettled,
	DocumentStageCancelled,
}

// String implements fmt.Stringer.
func (s DocumentStage) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DocumentStage.
func (s DocumentStage) IsValid() bool {
	for _, candidate := range validDocumentStages {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s DocumentStage) IsTerminal() bool {
	return s == DocumentStageSettled || s == DocumentStageCancelled
}

// ParseDocumentStage converts raw input into a DocumentStage.
func ParseDocumentStage(value string) (DocumentStage, error) {
	for _, candidate := range validDocumentStages {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid document stage %q", value)
}
