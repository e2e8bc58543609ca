// Package marketdata loads per-instrument closing prices and splits the
// resulting history into walk-forward folds.
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/qtrader/internal/modules/environment"
	"github.com/rs/zerolog"
)

// LoaderConfig controls how price files are read.
type LoaderConfig struct {
	Dir    string   // base directory for relative file names
	Files  []string // one CSV per instrument, in instrument order
	Column string   // closing price column, e.g. "Close"
	Round  bool     // round prices to whole units
}

// Loader reads price histories from CSV files.
type Loader struct {
	cfg LoaderConfig
	log zerolog.Logger
}

// NewLoader creates a price loader.
func NewLoader(cfg LoaderConfig, log zerolog.Logger) *Loader {
	if cfg.Column == "" {
		cfg.Column = "Close"
	}
	return &Loader{
		cfg: cfg,
		log: log.With().Str("component", "marketdata").Logger(),
	}
}

// Load reads every configured file and returns a validated price matrix in
// chronological order. All files must hold the same number of rows.
func (l *Loader) Load() (environment.PriceMatrix, error) {
	if len(l.cfg.Files) == 0 {
		return nil, fmt.Errorf("%w: no price files configured", environment.ErrMalformedPriceData)
	}

	prices := make(environment.PriceMatrix, 0, len(l.cfg.Files))
	for _, name := range l.cfg.Files {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.cfg.Dir, name)
		}

		series, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}

		l.log.Debug().Str("file", path).Int("rows", len(series)).Msg("Loaded price series")
		prices = append(prices, series)
	}

	if err := prices.Validate(); err != nil {
		return nil, err
	}

	l.log.Info().
		Int("instruments", prices.Instruments()).
		Int("steps", prices.Steps()).
		Bool("rounded", l.cfg.Round).
		Msg("Price history loaded")

	return prices, nil
}

func (l *Loader) loadFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file %s: %w", path, err)
	}
	defer f.Close()

	series, err := ReadColumn(f, l.cfg.Column)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Files list the newest row first
	Reverse(series)
	// Halves go to the even neighbour
	if l.cfg.Round {
		for i, p := range series {
			series[i] = math.RoundToEven(p)
		}
	}
	return series, nil
}

// ReadColumn parses the named column of a headed CSV document, in file order.
func ReadColumn(r io.Reader, column string) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", environment.ErrMalformedPriceData)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", environment.ErrMalformedPriceData, err)
	}

	idx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: column %q not found", environment.ErrMalformedPriceData, column)
	}

	var values []float64
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", environment.ErrMalformedPriceData, line, err)
		}
		if idx >= len(record) {
			return nil, fmt.Errorf("%w: line %d has no %q value", environment.ErrMalformedPriceData, line, column)
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid price %q", environment.ErrMalformedPriceData, line, record[idx])
		}
		values = append(values, v)
	}

	return values, nil
}

// Reverse flips a series in place.
func Reverse(series []float64) {
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
}
