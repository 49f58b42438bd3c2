package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sched-sim/internal/analysis"

	log "github.com/sirupsen/logrus"
)

// ExportToCSV writes the report as <name>_<start>_tasks.csv and
// <name>_<start>_cpus.csv under exportPath and returns the file paths.
func ExportToCSV(exportPath, name string, started time.Time, report *analysis.Report) ([]string, error) {
	if report == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if err := os.MkdirAll(exportPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	timestamp := started.Format("20060102_150405")
	tasksFile := filepath.Join(exportPath, fmt.Sprintf("%s_%s_tasks.csv", name, timestamp))
	cpusFile := filepath.Join(exportPath, fmt.Sprintf("%s_%s_cpus.csv", name, timestamp))

	if err := writeCSV(tasksFile, taskRows(report)); err != nil {
		return nil, fmt.Errorf("failed to export tasks: %w", err)
	}
	if err := writeCSV(cpusFile, cpuRows(report)); err != nil {
		return nil, fmt.Errorf("failed to export cpus: %w", err)
	}

	log.WithFields(log.Fields{
		"export_path": exportPath,
		"tasks":       len(report.Tasks),
		"cpus":        len(report.CPUs),
	}).Info("Exported report to CSV")
	return []string{tasksFile, cpusFile}, nil
}

func us(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}

func taskRows(report *analysis.Report) [][]string {
	rows := [][]string{{"task_id", "waiting_us", "turnaround_us", "response_us", "finished"}}
	for _, t := range report.Tasks {
		rows = append(rows, []string{
			strconv.Itoa(t.TaskID),
			us(t.Waiting),
			us(t.Turnaround),
			us(t.Response),
			strconv.FormatBool(t.Finished),
		})
	}
	return rows
}

func cpuRows(report *analysis.Report) [][]string {
	rows := [][]string{{"core", "executed_us", "span_us", "utilization_pct"}}
	for _, c := range report.CPUs {
		rows = append(rows, []string{
			strconv.Itoa(c.Core),
			us(c.Executed),
			us(c.Span),
			strconv.FormatFloat(c.Utilization, 'f', 2, 64),
		})
	}
	return rows
}

func writeCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
