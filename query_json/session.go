package query_json

import "encoding/json"

// Session describes the session a query ran under, as reported by the
// query detail endpoint.
type Session struct {
	QueryId           string            `json:"queryId"`
	User              string            `json:"user"`
	Principal         *string           `json:"principal"`
	Source            *string           `json:"source"`
	Catalog           *string           `json:"catalog"`
	Schema            *string           `json:"schema"`
	TimeZoneKey       json.RawMessage   `json:"timeZoneKey"`
	Locale            *string           `json:"locale"`
	RemoteUserAddress *string           `json:"remoteUserAddress"`
	UserAgent         *string           `json:"userAgent"`
	ClientInfo        *string           `json:"clientInfo"`
	ClientTags        []string          `json:"clientTags"`
	SystemProperties  map[string]string `json:"systemProperties"`

	// CatalogProperties nests per-catalog session properties.
	CatalogProperties map[string]map[string]string `json:"catalogProperties"`
}

// OperatorSummary carries per-operator statistics. Only the fields useful
// for attributing time and volume are decoded.
type OperatorSummary struct {
	OperatorType    string   `json:"operatorType"`
	TotalDrivers    int64    `json:"totalDrivers"`
	AddInputCalls   int64    `json:"addInputCalls"`
	AddInputWall    Duration `json:"addInputWall"`
	AddInputCpu     Duration `json:"addInputCpu"`
	InputPositions  int64    `json:"inputPositions"`
	InputDataSize   SISize   `json:"inputDataSize"`
	OutputPositions int64    `json:"outputPositions"`
	OutputDataSize  SISize   `json:"outputDataSize"`
	BlockedWall     Duration `json:"blockedWall"`
}
