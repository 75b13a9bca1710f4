package ndbc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"obuoy/core"
)

// missing is how NDBC marks an unreported value
const missing = "MM"

// ParseRealtime parses a realtime2 standard meteorological file.
//
// The file starts with two comment lines: column names, then units. Every
// following line is one observation, newest first. Columns are located by
// name so files with extra or reordered columns still parse.
func ParseRealtime(r io.Reader, stationID string) ([]core.Observation, error) {
	scanner := bufio.NewScanner(r)
	stationID = core.NormalizeStationID(stationID)

	var columns map[string]int
	var observations []core.Observation
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if columns == nil {
				columns = headerColumns(line)
			}
			continue
		}

		if columns == nil {
			return nil, fmt.Errorf("line %d: data before header", lineNo)
		}

		fields := strings.Fields(line)
		obs, err := parseRow(fields, columns, stationID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		observations = append(observations, obs)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read realtime data: %w", err)
	}
	if columns == nil {
		return nil, fmt.Errorf("realtime data has no header")
	}

	return observations, nil
}

// timeColumns maps the date and time header names NDBC has used onto the
// fields of a timestamp. Names are case-sensitive: MM is the month, mm the minute.
var timeColumns = map[string]string{
	"YY":   colYear,
	"YYYY": colYear,
	"MM":   colMonth,
	"DD":   colDay,
	"hh":   colHour,
	"HH":   colHour,
	"mm":   colMinute,
	"mn":   colMinute,
	"MN":   colMinute,
}

const (
	colYear   = "year"
	colMonth  = "month"
	colDay    = "day"
	colHour   = "hour"
	colMinute = "minute"
)

func headerColumns(line string) map[string]int {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	columns := make(map[string]int, len(fields))
	for i, name := range fields {
		if col, ok := timeColumns[name]; ok {
			columns[col] = i
			continue
		}
		columns[strings.ToUpper(name)] = i
	}
	return columns
}

func parseRow(fields []string, columns map[string]int, stationID string) (core.Observation, error) {
	ts, err := parseTimestamp(fields, columns)
	if err != nil {
		return core.Observation{}, err
	}

	obs := core.Observation{
		StationID:  stationID,
		ObservedAt: ts,
	}

	values := []struct {
		column string
		dest   **float64
	}{
		{"WDIR", &obs.WindDirection},
		{"WSPD", &obs.WindSpeed},
		{"GST", &obs.Gust},
		{"WVHT", &obs.WaveHeight},
		{"DPD", &obs.DominantPeriod},
		{"PRES", &obs.Pressure},
		{"ATMP", &obs.AirTemp},
		{"WTMP", &obs.WaterTemp},
	}
	for _, v := range values {
		value, err := optionalFloat(fields, columns, v.column)
		if err != nil {
			return core.Observation{}, err
		}
		*v.dest = value
	}

	return obs, nil
}

func parseTimestamp(fields []string, columns map[string]int) (time.Time, error) {
	parts := make([]int, 0, 5)
	for _, name := range []string{colYear, colMonth, colDay, colHour, colMinute} {
		idx, ok := columns[name]
		if !ok {
			if name == colMinute {
				parts = append(parts, 0)
				continue
			}
			return time.Time{}, fmt.Errorf("missing %s column", name)
		}
		if idx >= len(fields) {
			return time.Time{}, fmt.Errorf("row too short for %s column", name)
		}
		n, err := strconv.Atoi(fields[idx])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s value %q", name, fields[idx])
		}
		parts = append(parts, n)
	}

	year := parts[0]
	if year < 100 {
		year += 1900
		if year < 1970 {
			year += 100
		}
	}
	ts := time.Date(year, time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, time.UTC)
	if ts.Month() != time.Month(parts[1]) || ts.Day() != parts[2] {
		return time.Time{}, fmt.Errorf("invalid date %04d-%02d-%02d", year, parts[1], parts[2])
	}
	return ts, nil
}

func optionalFloat(fields []string, columns map[string]int, name string) (*float64, error) {
	idx, ok := columns[name]
	if !ok || idx >= len(fields) {
		return nil, nil
	}
	raw := fields[idx]
	if raw == missing {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q", name, raw)
	}
	return &v, nil
}
