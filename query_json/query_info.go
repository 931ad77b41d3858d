// Package query_json models the query detail document served at
// /v1/query/{queryId}. The document's shape drifted between Presto and
// Trino releases; this package accepts both and Normalize folds them into
// one flattened form.
package query_json

import (
	"encoding/json"
	"time"
)

// QueryInfo represents the full query execution details from the
// /v1/query/{queryId} endpoint.
type QueryInfo struct {
	QueryId         string           `json:"queryId"`
	Self            string           `json:"self"`
	Query           string           `json:"query"`
	QueryType       string           `json:"queryType"`
	State           string           `json:"state"`
	FailureInfo     *json.RawMessage `json:"failureInfo"`
	ErrorCode       *ErrorCode       `json:"errorCode"`
	Warnings        *json.RawMessage `json:"warnings"`
	ResourceGroupId *json.RawMessage `json:"resourceGroupId"`
	Session         *Session         `json:"session"`
	QueryStats      *QueryStats      `json:"queryStats"`
	// Presto and older Trino use a recursive tree rooted at OutputStage.
	OutputStage *StageInfo `json:"outputStage"`
	// Newer Trino versions use a flat list of stages with string references
	// in subStages. We capture it as raw JSON because the subStages field
	// type differs ([]string vs []*StageInfo).
	RawStages json.RawMessage `json:"stages"`

	// Populated by Normalize.
	Stages            []*StageInfo `json:"-"`
	ParsedFailureInfo *FailureInfo `json:"-"`
	PlanJson          string       `json:"-"`
}

// trinoFlatStages represents the newer flat format, where stages are a
// list with string references in subStages instead of a recursive
// outputStage tree.
type trinoFlatStages struct {
	OutputStageId string            `json:"outputStageId"`
	Stages        []json.RawMessage `json:"stages"`
}

// QueryStats contains query-level execution statistics.
type QueryStats struct {
	CreateTime                 *time.Time         `json:"createTime"`
	EndTime                    *time.Time         `json:"endTime"`
	ExecutionStartTime         *time.Time         `json:"executionStartTime"`
	AnalysisTime               Duration           `json:"analysisTime"`
	QueuedTime                 Duration           `json:"queuedTime"`
	TotalPlanningTime          Duration           `json:"totalPlanningTime"`
	ElapsedTime                Duration           `json:"elapsedTime"`
	ExecutionTime              Duration           `json:"executionTime"`
	TotalCpuTime               Duration           `json:"totalCpuTime"`
	RawInputPositions          int64              `json:"rawInputPositions"`
	RawInputDataSize           SISize             `json:"rawInputDataSize"`
	OutputPositions            int64              `json:"outputPositions"`
	OutputDataSize             SISize             `json:"outputDataSize"`
	WrittenOutputPositions     int64              `json:"writtenOutputPositions"`
	WrittenOutputDataSize      SISize             `json:"writtenOutputDataSize"`
	CumulativeUserMemory       float64            `json:"cumulativeUserMemory"`
	CumulativeTotalMemory      float64            `json:"cumulativeTotalMemory"`
	PeakUserMemoryReservation  SISize             `json:"peakUserMemoryReservation"`
	PeakTotalMemoryReservation SISize             `json:"peakTotalMemoryReservation"`
	PeakTaskUserMemory         SISize             `json:"peakTaskUserMemory"`
	PeakTaskTotalMemory        SISize             `json:"peakTaskTotalMemory"`
	PeakNodeTotalMemory        SISize             `json:"peakNodeTotalMemory"`
	TotalDrivers               int                `json:"totalDrivers"`
	StageGcStatistics          []*json.RawMessage `json:"stageGcStatistics"`
	OperatorSummaries          []*OperatorSummary `json:"operatorSummaries"`

	// Calculated by Normalize.
	BytesPerCpuSec int64 `json:"-"`
	RowsPerCpuSec  int64 `json:"-"`
	BytesPerSec    int64 `json:"-"`
	StageCount     int   `json:"-"`
}

// Normalize post-processes a decoded QueryInfo: parses the failure info,
// calculates derived throughput metrics, flattens the stage tree or list
// into Stages, and assembles the per-stage plans into one JSON document.
// The raw stage representation is consumed and nilled out to avoid holding
// duplicate data.
func (q *QueryInfo) Normalize() error {
	if q.FailureInfo != nil {
		q.ParsedFailureInfo = new(FailureInfo)
		if err := json.Unmarshal(*q.FailureInfo, q.ParsedFailureInfo); err != nil {
			return err
		}
	}
	if q.QueryStats != nil {
		if t := q.QueryStats.ExecutionTime.Milliseconds(); t > 0 {
			q.QueryStats.BytesPerSec = int64(q.QueryStats.RawInputDataSize) / t
		}
		if c := q.QueryStats.TotalCpuTime.Milliseconds(); c > 0 {
			q.QueryStats.BytesPerCpuSec = int64(q.QueryStats.RawInputDataSize) / c
			q.QueryStats.RowsPerCpuSec = q.QueryStats.RawInputPositions / c
		}
		q.QueryStats.StageCount = len(q.QueryStats.StageGcStatistics)
	}

	q.Stages = make([]*StageInfo, 0, 8)
	plans := make(map[string]RawPlanWrapper)
	if q.OutputStage != nil {
		if err := q.OutputStage.normalize(&q.Stages, plans); err != nil {
			return err
		}
		q.OutputStage = nil
	} else if q.RawStages != nil {
		var flat trinoFlatStages
		if err := json.Unmarshal(q.RawStages, &flat); err != nil {
			return err
		}
		for _, rawStage := range flat.Stages {
			stage, err := unmarshalFlatStage(rawStage)
			if err != nil {
				return err
			}
			if err := stage.normalizeSelf(&q.Stages, plans); err != nil {
				return err
			}
		}
		q.RawStages = nil
	}

	planJson, err := json.Marshal(plans)
	if err != nil {
		return err
	}
	q.PlanJson = string(planJson)
	return nil
}
