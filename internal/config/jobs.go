package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/geomonitor/prodes-ingest/internal/pipeline"
	"github.com/goccy/go-yaml"
)

var ErrNoJobs = errors.New("jobs file lists no jobs")

// Job is one layer to ingest. Zero fields fall back to the file's
// defaults, then to the process Config.
type Job struct {
	Workspace  string `yaml:"workspace"`
	Layer      string `yaml:"layer"`
	Source     string `yaml:"source"`
	YearStart  int    `yaml:"year_start"`
	YearEnd    int    `yaml:"year_end"`
	PageSize   int    `yaml:"page_size"`
	YearWindow int    `yaml:"year_window"`
	Schema     string `yaml:"schema"`
	Table      string `yaml:"table"`
}

// JobsFile is the --jobs document:
//
//	defaults:
//	  year_start: 2000
//	  year_end: 2024
//	jobs:
//	  - workspace: prodes-cerrado-nb
//	    layer: yearly_deforestation
//	    source: cerrado
type JobsFile struct {
	Defaults Job   `yaml:"defaults"`
	Jobs     []Job `yaml:"jobs"`
}

// LoadJobs reads and decodes a jobs file. Unknown keys are errors.
func LoadJobs(path string) (*JobsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseJobs(data)
}

func ParseJobs(data []byte) (*JobsFile, error) {
	var f JobsFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, ErrNoJobs
	}
	return &f, nil
}

// PipelineConfigs resolves every job against the defaults and cfg.
func (f *JobsFile) PipelineConfigs(cfg Config) []pipeline.Config {
	out := make([]pipeline.Config, 0, len(f.Jobs))
	for _, j := range f.Jobs {
		out = append(out, j.merge(f.Defaults).PipelineConfig(cfg))
	}
	return out
}

func (j Job) merge(d Job) Job {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	pickInt := func(v, def int) int {
		if v == 0 {
			return def
		}
		return v
	}
	return Job{
		Workspace:  pick(j.Workspace, d.Workspace),
		Layer:      pick(j.Layer, d.Layer),
		Source:     pick(j.Source, d.Source),
		YearStart:  pickInt(j.YearStart, d.YearStart),
		YearEnd:    pickInt(j.YearEnd, d.YearEnd),
		PageSize:   pickInt(j.PageSize, d.PageSize),
		YearWindow: pickInt(j.YearWindow, d.YearWindow),
		Schema:     pick(j.Schema, d.Schema),
		Table:      pick(j.Table, d.Table),
	}
}

// PipelineConfig turns j into a driver config, filling what j leaves
// empty from cfg.
func (j Job) PipelineConfig(cfg Config) pipeline.Config {
	pc := pipeline.Config{
		Workspace:  j.Workspace,
		Layer:      j.Layer,
		Source:     j.Source,
		YearStart:  j.YearStart,
		YearEnd:    j.YearEnd,
		PageSize:   j.PageSize,
		YearWindow: j.YearWindow,
		Schema:     j.Schema,
		Table:      j.Table,
	}
	if pc.PageSize == 0 {
		pc.PageSize = cfg.PageSize
	}
	if pc.YearWindow == 0 {
		pc.YearWindow = cfg.YearWindow
	}
	if pc.Schema == "" {
		pc.Schema = cfg.Schema
	}
	if pc.Table == "" {
		pc.Table = cfg.Table
	}
	return pc
}
