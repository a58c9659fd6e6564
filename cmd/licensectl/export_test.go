package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gmflicense/internal/storage/postgres"
	"gmflicense/pkg/contracts/domain"
)

func usageRecord(licenseID, key string, action domain.UsageAction, tokens *int64, at time.Time) postgres.UsageRecord {
	return postgres.UsageRecord{
		UsageEvent: domain.UsageEvent{
			ID:        licenseID + string(action) + at.Format(time.RFC3339Nano),
			LicenseID: licenseID,
			Action:    action,
			MachineID: "machine-1",
			Tokens:    tokens,
			CreatedAt: at,
		},
		LicenseKey: key,
	}
}

func TestSummarizeUsage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	five, three := int64(5), int64(3)

	records := []postgres.UsageRecord{
		usageRecord("lic-a", "GMF-2026-BSC-00000001", domain.UsageConsumeToken, &five, now),
		usageRecord("lic-a", "GMF-2026-BSC-00000001", domain.UsageConsumeToken, &three, now.Add(time.Minute)),
		usageRecord("lic-b", "GMF-2026-PRO-00000002", domain.UsageConsumeToken, &three, now.Add(2*time.Minute)),
		usageRecord("lic-a", "GMF-2026-BSC-00000001", domain.UsageValidate, nil, now.Add(3*time.Minute)),
	}

	got := summarizeUsage(records)
	require.Len(t, got, 2)

	assert.Equal(t, actionSummary{Action: "CONSUME_TOKEN", Events: 3, Tokens: 11, Licenses: 2}, got[0])
	assert.Equal(t, actionSummary{Action: "VALIDATE", Events: 1, Tokens: 0, Licenses: 1}, got[1])

	assert.Empty(t, summarizeUsage(nil))
}

func TestWriteUsageWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.xlsx")
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	at := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	tokens := int64(7)

	consume := usageRecord("lic-a", "GMF-2026-ENT-0000ABCD", domain.UsageConsumeToken, &tokens, at)
	consume.Metadata = map[string]interface{}{"reason": "report"}
	records := []postgres.UsageRecord{
		consume,
		usageRecord("lic-a", "GMF-2026-ENT-0000ABCD", domain.UsageHeartbeat, nil, at.Add(time.Hour)),
	}

	require.NoError(t, writeUsageWorkbook(path, since, records))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{usageSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(usageSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "License Key", rows[0][1])
	assert.Equal(t, []string{"2026-02-14T09:30:00Z", "GMF-2026-ENT-0000ABCD", "CONSUME_TOKEN", "machine-1", "7", `{"reason":"report"}`}, rows[1])
	assert.Equal(t, "HEARTBEAT", rows[2][2])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(summary), 5)
	assert.Equal(t, "2026-02-01T00:00:00Z", summary[0][1])
	assert.Equal(t, []string{"CONSUME_TOKEN", "1", "7", "1"}, summary[3])
	assert.Equal(t, []string{"HEARTBEAT", "1", "0", "1"}, summary[4])
}

func TestWriteUsageWorkbookEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, writeUsageWorkbook(path, time.Now(), nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(usageSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
