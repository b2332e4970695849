// Package export writes cleared intervals in machine readable formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/transactive/core/market"
)

// Row is the flat form of one cleared interval.
type Row struct {
	Market        string    `json:"market" yaml:"market"`
	Interval      string    `json:"interval" yaml:"interval"`
	Start         time.Time `json:"start" yaml:"start"`
	MarginalPrice float64   `json:"marginal_price" yaml:"marginal_price"`
	NetPower      float64   `json:"net_power" yaml:"net_power"`
	Generation    float64   `json:"generation" yaml:"generation"`
	Demand        float64   `json:"demand" yaml:"demand"`
	Converged     bool      `json:"converged" yaml:"converged"`
	State         string    `json:"state" yaml:"state"`
}

// Rows flattens the intervals of results in order.
func Rows(results []market.Result) []Row {
	var rows []Row
	for _, res := range results {
		for _, ci := range res.Intervals {
			rows = append(rows, Row{
				Market: ci.Market, Interval: ci.IntervalID, Start: ci.Start,
				MarginalPrice: ci.MarginalPrice, NetPower: ci.NetPower,
				Generation: ci.Generation, Demand: ci.Demand,
				Converged: ci.Converged, State: ci.State,
			})
		}
	}
	return rows
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteYAML writes rows as a yaml sequence.
func WriteYAML(w io.Writer, rows []Row) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return enc.Close()
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := []string{"market", "interval", "start", "marginal_price", "net_power", "generation", "demand", "converged", "state"}
	if err := cw.Write(header); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			r.Market,
			r.Interval,
			r.Start.Format(time.RFC3339),
			ff(r.MarginalPrice),
			ff(r.NetPower),
			ff(r.Generation),
			ff(r.Demand),
			strconv.FormatBool(r.Converged),
			r.State,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
