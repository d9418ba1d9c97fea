package overlay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTLE marks element sets that fail format validation.
var ErrInvalidTLE = errors.New("invalid TLE")

// Entry is one satellite's two-line element set.
type Entry struct {
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// Parse reads 3-line NORAD TLE text (name, line 1, line 2) from r.
// Malformed entries are skipped with a warning log; only read failures are
// returned as errors.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Resynchronize on the next line.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		entry, err := parseEntry(name, line1, line2)
		if err != nil {
			logger.Warn("skipping TLE entry", "name", strings.TrimSpace(name), "error", err)
			i += 3
			continue
		}
		entries = append(entries, entry)
		i += 3
	}

	return entries, nil
}

func parseEntry(name, line1, line2 string) (Entry, error) {
	if err := validateLines(line1, line2); err != nil {
		return Entry{}, err
	}

	noradStr := strings.TrimSpace(line1[2:7])
	noradID, err := strconv.Atoi(noradStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: NORAD id %q", ErrInvalidTLE, noradStr)
	}

	epochStr := strings.TrimSpace(line1[18:32])
	epoch, err := parseEpoch(epochStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidTLE, err)
	}

	return Entry{
		NORADID: noradID,
		Name:    strings.TrimSpace(name),
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// validateLines rejects input that go-satellite would otherwise log.Fatal on.
func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	switch {
	case len(line1) != 69:
		return fmt.Errorf("%w: line1 length %d, expected 69", ErrInvalidTLE, len(line1))
	case len(line2) != 69:
		return fmt.Errorf("%w: line2 length %d, expected 69", ErrInvalidTLE, len(line2))
	case line1[0] != '1':
		return fmt.Errorf("%w: line1 must start with '1', got '%c'", ErrInvalidTLE, line1[0])
	case line2[0] != '2':
		return fmt.Errorf("%w: line2 must start with '2', got '%c'", ErrInvalidTLE, line2[0])
	case line1[2:7] != line2[2:7]:
		return fmt.Errorf("%w: catalog numbers differ (%s vs %s)", ErrInvalidTLE, line1[2:7], line2[2:7])
	}
	return nil
}

// parseEpoch converts YYDDD.DDDDDDDD to a UTC time. Years 57-99 are 19xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// Day 1 is Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
