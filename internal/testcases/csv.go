// File: internal/testcases/csv.go

// Package testcases loads the CSV file that drives a run: one row per URL
// plus per-row browser overrides. A missing file is not an error; a default
// file is written next to where it was expected so the columns are
// discoverable.
package testcases

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/harness"
)

// defaultRows seeds a newly created test-case file and serves as the
// fallback when the file exists but contains no usable rows.
var defaultRows = []harness.Target{
	{
		URL:               "https://www.accuweather.com/en/browse-locations",
		Description:       "Location browser with region dropdowns",
		ExpectedDropdowns: 3,
	},
}

var csvHeader = []string{"url", "description", "expectedDropdowns", "browser", "device", "mobileDevice", "headless"}

// Load reads targets from path. If the file does not exist it is created
// with a commented header and the default rows, which are then returned.
func Load(logger *zap.Logger, path string) ([]harness.Target, error) {
	log := logger.Named("testcases")

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Info("Test case file not found, writing default", zap.String("path", path))
		if werr := writeDefault(path); werr != nil {
			return nil, fmt.Errorf("creating default test case file %s: %w", path, werr)
		}
		return append([]harness.Target(nil), defaultRows...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening test case file %s: %w", path, err)
	}
	defer f.Close()

	targets, err := parse(log, f)
	if err != nil {
		return nil, fmt.Errorf("parsing test case file %s: %w", path, err)
	}
	if len(targets) == 0 {
		log.Warn("Test case file contains no usable rows, using built-in default", zap.String("path", path))
		return append([]harness.Target(nil), defaultRows...), nil
	}
	return targets, nil
}

func parse(log *zap.Logger, r io.Reader) ([]harness.Target, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	var targets []harness.Target
	for i, rec := range records {
		if i == 0 && isHeader(rec) {
			continue
		}
		url := field(rec, 0)
		if url == "" {
			log.Debug("Skipping row with empty url", zap.Int("row", i+1))
			continue
		}
		t := harness.Target{
			URL:          url,
			Description:  field(rec, 1),
			Browser:      field(rec, 3),
			Device:       field(rec, 4),
			MobileDevice: field(rec, 5),
		}
		if s := field(rec, 2); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				log.Warn("Ignoring unparsable expectedDropdowns", zap.Int("row", i+1), zap.String("value", s))
			} else {
				t.ExpectedDropdowns = n
			}
		}
		if s := field(rec, 6); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				log.Warn("Ignoring unparsable headless flag", zap.Int("row", i+1), zap.String("value", s))
			} else {
				t.Headless = &b
			}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "url")
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func writeDefault(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range defaultRows {
		expected := ""
		if t.ExpectedDropdowns > 0 {
			expected = strconv.Itoa(t.ExpectedDropdowns)
		}
		row := []string{t.URL, t.Description, expected, t.Browser, t.Device, t.MobileDevice, ""}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
