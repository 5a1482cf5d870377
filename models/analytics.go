// api/models/analytics.go
package models

import "time"

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

type WebVitalSummary struct {
	MetricName string  `json:"metricName"`
	Average    float64 `json:"average"`
	P75        float64 `json:"p75"`
	Samples    uint64  `json:"samples"`
}
