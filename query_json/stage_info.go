package query_json

import (
	"encoding/json"
	"strconv"
	"strings"
)

// StageInfo represents the execution information for a query stage.
type StageInfo struct {
	StageId                    string               `json:"stageId"`
	LatestAttemptExecutionInfo *StageExecutionInfo  `json:"latestAttemptExecutionInfo"`
	Plan                       *StagePlan           `json:"plan"`
	TrinoStats                 *StageExecutionStats `json:"stageStats"`

	SubStages []*StageInfo `json:"subStages"`

	// StageExecutionId is populated by Normalize.
	StageExecutionId int `json:"-"`
}

// StageExecutionInfo contains execution info for a stage attempt.
type StageExecutionInfo struct {
	State string               `json:"state"`
	Stats *StageExecutionStats `json:"stats"`
}

// StageExecutionStats contains per-stage execution statistics.
type StageExecutionStats struct {
	TotalTasks              int              `json:"totalTasks"`
	TotalScheduledTime      Duration         `json:"totalScheduledTime"`
	TotalCpuTime            Duration         `json:"totalCpuTime"`
	RetriedCpuTime          Duration         `json:"retriedCpuTime"`
	TotalBlockedTime        Duration         `json:"totalBlockedTime"`
	RawInputDataSize        SISize           `json:"rawInputDataSize"`
	ProcessedInputDataSize  SISize           `json:"processedInputDataSize"`
	PhysicalWrittenDataSize SISize           `json:"physicalWrittenDataSize"`
	GcInfoJson              *json.RawMessage `json:"gcInfo"`
	GcInfo                  *StageGcInfo     `json:"-"`
}

// StagePlan contains the JSON representation of a stage's execution plan.
type StagePlan struct {
	JsonRepresentation string `json:"jsonRepresentation"`
}

// StageGcInfo contains GC information for a stage execution.
type StageGcInfo struct {
	StageExecutionId int `json:"stageExecutionId"`
}

// RawPlanWrapper wraps a raw JSON plan for assembly into the final query plan.
type RawPlanWrapper struct {
	Plan json.RawMessage `json:"plan"`
}

// Stats returns the stage's statistics from whichever field the server
// populated: Trino reports them directly, Presto under the latest attempt.
func (s *StageInfo) Stats() *StageExecutionStats {
	if s.TrinoStats != nil {
		return s.TrinoStats
	}
	if s.LatestAttemptExecutionInfo != nil {
		return s.LatestAttemptExecutionInfo.Stats
	}
	return nil
}

// normalize recursively flattens the stage tree, parses GC info, and
// collects stage plans.
func (s *StageInfo) normalize(flattened *[]*StageInfo, queryPlan map[string]RawPlanWrapper) error {
	if s == nil {
		return nil
	}
	if err := s.normalizeSelf(flattened, queryPlan); err != nil {
		return err
	}
	for _, child := range s.SubStages {
		if err := child.normalize(flattened, queryPlan); err != nil {
			return err
		}
	}
	s.SubStages = nil
	return nil
}

// normalizeSelf processes one stage without descending into sub-stages.
func (s *StageInfo) normalizeSelf(flattened *[]*StageInfo, queryPlan map[string]RawPlanWrapper) error {
	// Strip the query id prefix from "20260829_..._00001.0".
	if index := strings.IndexByte(s.StageId, '.'); index > 0 && index+1 < len(s.StageId) {
		s.StageId = s.StageId[index+1:]
	}
	if stats := s.Stats(); stats != nil && stats.GcInfoJson != nil {
		stats.GcInfo = new(StageGcInfo)
		if err := json.Unmarshal(*stats.GcInfoJson, stats.GcInfo); err != nil {
			return err
		}
		s.StageExecutionId = stats.GcInfo.StageExecutionId
	}
	*flattened = append(*flattened, s)

	if s.Plan != nil {
		queryPlan[strconv.Itoa(len(queryPlan))] = RawPlanWrapper{
			Plan: json.RawMessage(s.Plan.JsonRepresentation),
		}
	}
	return nil
}

// unmarshalFlatStage decodes one stage from the newer flat representation,
// where subStages holds string stage ids instead of nested objects.
func unmarshalFlatStage(raw json.RawMessage) (*StageInfo, error) {
	var flat struct {
		StageInfo
		SubStages json.RawMessage `json:"subStages"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	stage := flat.StageInfo
	return &stage, nil
}
