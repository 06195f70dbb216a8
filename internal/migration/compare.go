package migration

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

type Inconsistency struct {
	OrderID     string      `json:"order_id"`
	Type        string      `json:"type"`
	Severity    string      `json:"severity"`
	Field       string      `json:"field,omitempty"`
	SourceValue interface{} `json:"source_value,omitempty"`
	TargetValue interface{} `json:"target_value,omitempty"`
	Description string      `json:"description"`
}

// ValidationResult compares an export with what the target store now holds.
type ValidationResult struct {
	TotalSource     int             `json:"total_source"`
	TotalTarget     int             `json:"total_target"`
	ExactMatches    int             `json:"exact_matches"`
	MissingInTarget []string        `json:"missing_in_target"`
	OnlyInTarget    []string        `json:"only_in_target"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	CriticalIssues  int             `json:"critical_issues"`
	WarningIssues   int             `json:"warning_issues"`
	InfoIssues      int             `json:"info_issues"`
	SyncPercentage  float64         `json:"sync_percentage"`
	IsValid         bool            `json:"is_valid"`
	ValidationTime  time.Time       `json:"validation_time"`
}

// Validate checks that every exported order reached the target unchanged.
// Orders only the target holds are reported but do not fail validation.
func Validate(source, target models.Collection, logger *logrus.Logger) *ValidationResult {
	v := &ValidationResult{
		TotalSource:     len(source),
		TotalTarget:     len(target),
		MissingInTarget: []string{},
		OnlyInTarget:    []string{},
		Inconsistencies: []Inconsistency{},
		ValidationTime:  time.Now(),
	}

	for _, rec := range source.Records() {
		got, ok := target[rec.ID]
		if !ok {
			v.MissingInTarget = append(v.MissingInTarget, rec.ID)
			v.Inconsistencies = append(v.Inconsistencies, Inconsistency{
				OrderID:     rec.ID,
				Type:        "missing_in_target",
				Severity:    SeverityCritical,
				Description: "Order in the export was not found in the target store",
			})
			continue
		}
		got.ID = rec.ID
		diffs := compareFields(rec, got)
		if len(diffs) == 0 {
			v.ExactMatches++
		}
		v.Inconsistencies = append(v.Inconsistencies, diffs...)
	}

	for id := range target {
		if _, ok := source[id]; !ok {
			v.OnlyInTarget = append(v.OnlyInTarget, id)
		}
	}
	sort.Strings(v.OnlyInTarget)

	for _, inc := range v.Inconsistencies {
		switch inc.Severity {
		case SeverityCritical:
			v.CriticalIssues++
		case SeverityWarning:
			v.WarningIssues++
		case SeverityInfo:
			v.InfoIssues++
		}
	}

	v.SyncPercentage = 100
	if len(source) > 0 {
		v.SyncPercentage = float64(v.ExactMatches) / float64(len(source)) * 100
	}
	v.IsValid = v.CriticalIssues == 0

	logger.WithFields(logrus.Fields{
		"sync_percentage":   v.SyncPercentage,
		"missing_in_target": len(v.MissingInTarget),
		"only_in_target":    len(v.OnlyInTarget),
		"critical_issues":   v.CriticalIssues,
		"validation_passed": v.IsValid,
	}).Info("Import validation completed")

	return v
}

func compareFields(src, dst models.OrderRecord) []Inconsistency {
	var out []Inconsistency
	mismatch := func(field, severity string, a, b interface{}) {
		out = append(out, Inconsistency{
			OrderID:     src.ID,
			Type:        "field_mismatch",
			Severity:    severity,
			Field:       field,
			SourceValue: a,
			TargetValue: b,
			Description: fmt.Sprintf("%s differs between export and target", field),
		})
	}

	if src.TokenNumber != dst.TokenNumber {
		mismatch("tokenNumber", SeverityCritical, src.TokenNumber.String(), dst.TokenNumber.String())
	}
	if !src.TotalAmount.Equal(dst.TotalAmount.Decimal) {
		mismatch("totalAmount", SeverityCritical, src.TotalAmount.StringFixed(2), dst.TotalAmount.StringFixed(2))
	}
	if src.Customer != dst.Customer {
		mismatch("customer", SeverityWarning, src.Customer, dst.Customer)
	}
	if src.Status != dst.Status {
		mismatch("status", SeverityWarning, src.Status, dst.Status)
	}
	if len(src.Cart) != len(dst.Cart) {
		mismatch("cart", SeverityWarning, len(src.Cart), len(dst.Cart))
	}
	// Downloads keep being recorded after the export was taken.
	if src.PDFDownloaded != dst.PDFDownloaded {
		mismatch("pdfDownloaded", SeverityInfo, src.PDFDownloaded, dst.PDFDownloaded)
	}
	return out
}

func GenerateReport(result *Result, validation *ValidationResult, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(struct {
			Import     *Result           `json:"import"`
			Validation *ValidationResult `json:"validation,omitempty"`
		}{result, validation}, "", "  ")
	case "summary":
		return summaryReport(result, validation), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func summaryReport(result *Result, v *ValidationResult) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `ORDER IMPORT REPORT
===================
Generated: %s
Dry run: %t

IMPORT
------
Orders in export: %d
Imported: %d
Skipped (already present): %d
Failed: %d
Total value: Rs. %s
Largest order: Rs. %s
`,
		result.Timestamp.Format(time.RFC3339),
		result.DryRun,
		result.TotalOrders,
		result.Imported,
		result.Skipped,
		result.Failed,
		result.Statistics.TotalValue.StringFixed(2),
		result.Statistics.LargestOrder.StringFixed(2))

	if v != nil {
		status := "PASSED"
		if !v.IsValid {
			status = "FAILED"
		}
		fmt.Fprintf(&b, `
VALIDATION
----------
Orders in target: %d
Exact matches: %d (%.2f%%)
Missing in target: %d
Only in target: %d
Critical: %d  Warning: %d  Info: %d

STATUS: %s
`,
			v.TotalTarget,
			v.ExactMatches, v.SyncPercentage,
			len(v.MissingInTarget),
			len(v.OnlyInTarget),
			v.CriticalIssues, v.WarningIssues, v.InfoIssues,
			status)
	}
	return []byte(b.String())
}
