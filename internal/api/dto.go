package api

import (
	"fmt"

	"github.com/goccy/go-json"
)

type OperationSummary struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Name     string `json:"name"`
	Keys     int    `json:"keys"`
	Trials   int    `json:"trials"`
	Sweeps   int    `json:"sweeps"`
	Resident bool   `json:"resident"`
}

type OperationList struct {
	Object string             `json:"object"`
	Data   []OperationSummary `json:"data"`
}

type TrialResp struct {
	Config      map[string]any `json:"config"`
	TimeSeconds float64        `json:"time_seconds"`
	Time        string         `json:"time"`
}

type KeyTrials struct {
	Key    string      `json:"key"`
	Trials []TrialResp `json:"trials"`
}

type OperationDetail struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	Name      string      `json:"name"`
	Signature string      `json:"signature,omitempty"`
	Tunables  []string    `json:"tunables,omitempty"`
	Configs   int         `json:"configs,omitempty"`
	Keys      []KeyTrials `json:"keys"`
}

type BestEntry struct {
	Key string `json:"key"`
	TrialResp
}

type BestConfigsResp struct {
	ID     string      `json:"id"`
	Object string      `json:"object"`
	Name   string      `json:"name"`
	Data   []BestEntry `json:"data"`
}

type TuneReq struct {
	DType string     `json:"dtype"`
	Shape ShapeValue `json:"shape"`
}

type TuneResp struct {
	Object      string         `json:"object"`
	Op          string         `json:"op"`
	Key         string         `json:"key"`
	Config      map[string]any `json:"config"`
	TimeSeconds float64        `json:"time_seconds"`
	Swept       bool           `json:"swept"`
}

type SaveResp struct {
	Object string `json:"object"`
	Path   string `json:"path"`
	Trials int    `json:"trials"`
}

// ShapeValue accepts either a single extent or an array of extents.
type ShapeValue []int

func (v *ShapeValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return fmt.Errorf("shape: nil receiver")
	}
	if len(b) == 0 || string(b) == "null" {
		*v = nil
		return nil
	}
	switch b[0] {
	case '[':
		var dims []int
		if err := json.Unmarshal(b, &dims); err != nil {
			return fmt.Errorf("shape: %w", err)
		}
		*v = dims
		return nil
	default:
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("shape: expected integer or array")
		}
		*v = ShapeValue{n}
		return nil
	}
}
