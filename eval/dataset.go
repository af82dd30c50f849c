package eval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Labels used by reviewed datasets.
const (
	LabelCorrect   = "correct"
	LabelIncorrect = "incorrect"
)

// Dataset is a collection of reviewed relationship mentions.
type Dataset struct {
	Name  string `json:"name" yaml:"name"`
	Cases []Case `json:"cases" yaml:"cases"`
}

// Case is one reviewed mention. Companies may be identified by id or by
// ticker; a case without a target is resolved from its mention.
type Case struct {
	SourceID     string `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	SourceTicker string `json:"source_ticker,omitempty" yaml:"source_ticker,omitempty"`
	TargetID     string `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	TargetTicker string `json:"target_ticker,omitempty" yaml:"target_ticker,omitempty"`
	TargetName   string `json:"target_name,omitempty" yaml:"target_name,omitempty"`
	Context      string `json:"context" yaml:"context"`
	Mention      string `json:"raw_mention" yaml:"raw_mention"`
	Type         string `json:"relationship_type" yaml:"relationship_type"`
	// Label is the reviewer's verdict: "correct" or "incorrect".
	Label string `json:"label" yaml:"label"`
}

// Correct reports whether the reviewer marked the mention as a real
// relationship.
func (c Case) Correct() bool { return strings.EqualFold(c.Label, LabelCorrect) }

// Labelled reports whether the case carries a usable label.
func (c Case) Labelled() bool {
	return strings.EqualFold(c.Label, LabelCorrect) || strings.EqualFold(c.Label, LabelIncorrect)
}

// Counts returns the number of correct and incorrect cases.
func (d Dataset) Counts() (correct, incorrect int) {
	for _, c := range d.Cases {
		switch {
		case !c.Labelled():
		case c.Correct():
			correct++
		default:
			incorrect++
		}
	}
	return correct, incorrect
}

// Sample keeps at most n correct and n incorrect cases, in file order.
func (d Dataset) Sample(n int) Dataset {
	if n <= 0 {
		return d
	}
	out := Dataset{Name: d.Name}
	var correct, incorrect int
	for _, c := range d.Cases {
		switch {
		case !c.Labelled():
		case c.Correct() && correct < n:
			correct++
			out.Cases = append(out.Cases, c)
		case !c.Correct() && incorrect < n:
			incorrect++
			out.Cases = append(out.Cases, c)
		}
	}
	return out
}

// LoadDataset reads a CSV, YAML or JSON dataset. Unlabelled rows are
// dropped.
func LoadDataset(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var ds Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		ds, err = ReadCSV(f)
	case ".yaml", ".yml", ".json":
		err = yaml.NewDecoder(f).Decode(&ds)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return Dataset{}, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = name
	}

	kept := ds.Cases[:0]
	for _, c := range ds.Cases {
		if c.Labelled() {
			kept = append(kept, c)
		}
	}
	ds.Cases = kept
	return ds, nil
}

// csvColumns maps header names to case fields. ai_label is the column
// written by the review export.
var csvColumns = map[string]func(*Case, string){
	"source_id":         func(c *Case, v string) { c.SourceID = v },
	"source_cik":        func(c *Case, v string) { c.SourceID = v },
	"source_ticker":     func(c *Case, v string) { c.SourceTicker = v },
	"target_id":         func(c *Case, v string) { c.TargetID = v },
	"target_cik":        func(c *Case, v string) { c.TargetID = v },
	"target_ticker":     func(c *Case, v string) { c.TargetTicker = v },
	"target_name":       func(c *Case, v string) { c.TargetName = v },
	"context":           func(c *Case, v string) { c.Context = v },
	"raw_mention":       func(c *Case, v string) { c.Mention = v },
	"mention":           func(c *Case, v string) { c.Mention = v },
	"relationship_type": func(c *Case, v string) { c.Type = v },
	"label":             func(c *Case, v string) { c.Label = v },
	"ai_label":          func(c *Case, v string) { c.Label = v },
}

// ReadCSV decodes a headed CSV. Unknown columns are ignored.
func ReadCSV(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return Dataset{}, fmt.Errorf("reading header: %w", err)
	}
	setters := make([]func(*Case, string), len(header))
	known := 0
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if set, ok := csvColumns[h]; ok {
			setters[i] = set
			known++
		}
	}
	if known == 0 {
		return Dataset{}, fmt.Errorf("no known columns in header %v", header)
	}

	var ds Dataset
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, err
		}
		var c Case
		for i, v := range rec {
			if i < len(setters) && setters[i] != nil {
				setters[i](&c, strings.TrimSpace(v))
			}
		}
		ds.Cases = append(ds.Cases, c)
	}
	return ds, nil
}
