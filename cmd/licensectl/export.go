package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"gmflicense/internal/storage/postgres"
)

const (
	usageSheet   = "Usage"
	summarySheet = "Summary"
)

var usageHeader = []interface{}{"Time (UTC)", "License Key", "Action", "Machine ID", "Tokens", "Metadata"}

// actionSummary aggregates the exported events of one action
type actionSummary struct {
	Action   string
	Events   int
	Tokens   int64
	Licenses int
}

// summarizeUsage counts events, tokens and distinct licenses per action
func summarizeUsage(records []postgres.UsageRecord) []actionSummary {
	byAction := make(map[string]*actionSummary)
	seen := make(map[string]map[string]struct{})

	for _, r := range records {
		action := string(r.Action)
		s, ok := byAction[action]
		if !ok {
			s = &actionSummary{Action: action}
			byAction[action] = s
			seen[action] = make(map[string]struct{})
		}
		s.Events++
		if r.Tokens != nil {
			s.Tokens += *r.Tokens
		}
		if _, dup := seen[action][r.LicenseID]; !dup {
			seen[action][r.LicenseID] = struct{}{}
			s.Licenses++
		}
	}

	out := make([]actionSummary, 0, len(byAction))
	for _, s := range byAction {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

// writeUsageWorkbook writes one row per event on the Usage sheet and the per-action
// totals on the Summary sheet
func writeUsageWorkbook(path string, since time.Time, records []postgres.UsageRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", usageSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := f.SetSheetRow(usageSheet, "A1", &usageHeader); err != nil {
		return err
	}
	if err := f.SetCellStyle(usageSheet, "A1", "F1", header); err != nil {
		return err
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		var tokens interface{}
		if r.Tokens != nil {
			tokens = *r.Tokens
		}
		metadata := ""
		if len(r.Metadata) > 0 {
			data, err := json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of event %s: %w", r.ID, err)
			}
			metadata = string(data)
		}

		row := []interface{}{
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.LicenseKey,
			string(r.Action),
			r.MachineID,
			tokens,
			metadata,
		}
		if err := f.SetSheetRow(usageSheet, cell, &row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(usageSheet, "A", "A", 22)
	_ = f.SetColWidth(usageSheet, "B", "B", 24)
	_ = f.SetColWidth(usageSheet, "C", "D", 18)
	_ = f.SetColWidth(usageSheet, "F", "F", 48)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	intro := []interface{}{"Events since", since.UTC().Format(time.RFC3339), "Total", len(records)}
	if err := f.SetSheetRow(summarySheet, "A1", &intro); err != nil {
		return err
	}
	cols := []interface{}{"Action", "Events", "Tokens", "Licenses"}
	if err := f.SetSheetRow(summarySheet, "A3", &cols); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A3", "D3", header); err != nil {
		return err
	}
	for i, s := range summarizeUsage(records) {
		row := []interface{}{s.Action, s.Events, s.Tokens, s.Licenses}
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+4), &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "B", 22)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}
