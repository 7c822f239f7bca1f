package tracking

import (
	"encoding/json"
	"fmt"
)

// MergeRearingAnalysis merges a rearing_analysis block into a raw result
// document. The merge operates on the raw JSON object so fields this core
// does not model (added by newer backend versions) survive untouched.
// Pre-existing fields are never overwritten; a previous rearing_analysis
// block is the single exception and is replaced, since re-running the
// detector with different ROI placements supersedes the old analysis.
func MergeRearingAnalysis(doc []byte, analysis *RearingAnalysis) ([]byte, error) {
	if analysis == nil {
		return nil, fmt.Errorf("nil rearing analysis")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse result document: %w", err)
	}
	block, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rearing analysis: %w", err)
	}
	obj["rearing_analysis"] = block
	return json.Marshal(obj)
}

// DecodeResult parses and validates a result document at the boundary.
func DecodeResult(doc []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(doc, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result document: %w", err)
	}
	if err := ValidateResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
