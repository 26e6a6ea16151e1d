package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// BundleVersion is the schema version stamped on every ReportBundle.
const BundleVersion = "1.0"

// StructuredNeeds is the normalized derivative of an interview.
type StructuredNeeds struct {
	Subjects    []string           `json:"subjects"`
	Populations []string           `json:"populations"`
	Geographies []string           `json:"geographies"`
	Weights     map[string]float64 `json:"weights"`
}

// AsMap returns exactly the four allowed keys.
func (n StructuredNeeds) AsMap() map[string]any {
	weights := map[string]any{}
	for k, v := range n.Weights {
		weights[k] = v
	}
	return map[string]any{
		"subjects":    stringList(n.Subjects),
		"populations": stringList(n.Populations),
		"geographies": stringList(n.Geographies),
		"weights":     weights,
	}
}

// HasSignal reports whether any subject, population or geography is present.
func (n StructuredNeeds) HasSignal() bool {
	return len(n.Subjects) > 0 || len(n.Populations) > 0 || len(n.Geographies) > 0
}

// MetricRequest is one planned analysis tool call. Params hold JSON-native
// values only (string, float64, bool, []any, map[string]any).
type MetricRequest struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Title  string         `json:"title"`
	ID     string         `json:"id,omitempty"`
}

// AsMap returns the request's plain mapping.
func (m MetricRequest) AsMap() map[string]any { return toMap(m) }

// DisplayTitle falls back to the tool name when no title was planned.
func (m MetricRequest) DisplayTitle() string {
	if strings.TrimSpace(m.Title) == "" {
		return m.Tool
	}
	return m.Title
}

// AnalysisPlan is the ordered list of metric requests plus a narrative outline.
type AnalysisPlan struct {
	MetricRequests   []MetricRequest `json:"metric_requests"`
	NarrativeOutline []string        `json:"narrative_outline"`
}

// AsMap returns the plan's plain mapping.
func (p AnalysisPlan) AsMap() map[string]any { return toMap(p) }

// DataPoint is one executed metric's result.
type DataPoint struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	TableMD string         `json:"table_md"`
	Notes   string         `json:"notes"`
}

// AsMap returns the data point's plain mapping.
func (d DataPoint) AsMap() map[string]any { return toMap(d) }

// FunderCandidate is a ranked funder recommendation.
type FunderCandidate struct {
	Name          string   `json:"name"`
	Score         float64  `json:"score"`
	Rationale     string   `json:"rationale"`
	GroundedDPIDs []string `json:"grounded_dp_ids"`
}

// TuningTip is a grounded writing tip.
type TuningTip struct {
	Text          string   `json:"text"`
	GroundedDPIDs []string `json:"grounded_dp_ids"`
}

// SearchQuery is a suggested follow-up search.
type SearchQuery struct {
	Query string `json:"query"`
	Notes string `json:"notes"`
}

// Recommendations groups the stage 5 output.
type Recommendations struct {
	FunderCandidates []FunderCandidate `json:"funder_candidates"`
	ResponseTuning   []TuningTip       `json:"response_tuning"`
	SearchQueries    []SearchQuery     `json:"search_queries"`
}

// AttachmentKind enumerates what a section attachment points at.
type AttachmentKind string

const (
	AttachmentFigure       AttachmentKind = "figure"
	AttachmentTable        AttachmentKind = "table"
	AttachmentText         AttachmentKind = "text"
	AttachmentLink         AttachmentKind = "link"
	AttachmentDataPointRef AttachmentKind = "datapoint_ref"
)

// Attachment is an optional payload hung off a report section.
type Attachment struct {
	Kind    AttachmentKind `json:"kind"`
	RefID   *string        `json:"ref_id"`
	Content *string        `json:"content"`
}

// ReportSection is one narrative section of the report.
type ReportSection struct {
	Title        string       `json:"title"`
	MarkdownBody string       `json:"markdown_body"`
	Attachments  []Attachment `json:"attachments"`
}

// Valid reports whether both title and body are non-blank.
func (s ReportSection) Valid() bool {
	return strings.TrimSpace(s.Title) != "" && strings.TrimSpace(s.MarkdownBody) != ""
}

// ChartSummary is the small statistical summary that grounds chart
// interpretation text.
type ChartSummary struct {
	Label      string         `json:"label"`
	Highlights []string       `json:"highlights"`
	Stats      map[string]any `json:"stats"`
	Notes      string         `json:"notes"`
}

// AsMap returns the summary's plain mapping.
func (c ChartSummary) AsMap() map[string]any { return toMap(c) }

// FigureArtifact is a rendered chart with its summary and interpretation.
type FigureArtifact struct {
	ID                 string        `json:"id"`
	Label              string        `json:"label"`
	PNGBase64          *string       `json:"png_base64"`
	HTML               *string       `json:"html"`
	Summary            *ChartSummary `json:"summary"`
	InterpretationText *string       `json:"interpretation_text"`
}

// ReportBundle is the complete, serializable output of one pipeline run.
type ReportBundle struct {
	Interview       InterviewInput   `json:"interview"`
	Needs           StructuredNeeds  `json:"needs"`
	Plan            AnalysisPlan     `json:"plan"`
	DataPoints      []DataPoint      `json:"datapoints"`
	Recommendations Recommendations  `json:"recommendations"`
	Sections        []ReportSection  `json:"sections"`
	Figures         []FigureArtifact `json:"figures"`
	CreatedAt       string           `json:"created_at"`
	Version         string           `json:"version"`
}

// AsMap returns the bundle's plain mapping.
func (b *ReportBundle) AsMap() map[string]any { return toMap(b) }

// IndexByID maps data point ids to data points.
func (b *ReportBundle) IndexByID() map[string]DataPoint {
	out := make(map[string]DataPoint, len(b.DataPoints))
	for _, dp := range b.DataPoints {
		out[dp.ID] = dp
	}
	return out
}

// ToJSON returns the bundle's stable JSON form: sorted keys, no extraneous
// whitespace. Identical bundles always serialize to identical bytes.
func (b *ReportBundle) ToJSON() ([]byte, error) {
	return StableJSON(b)
}

// FromJSON parses a bundle previously produced by ToJSON.
func FromJSON(data []byte) (*ReportBundle, error) {
	var b ReportBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, eris.Wrap(err, "model: decode report bundle")
	}
	if b.Version == "" {
		b.Version = BundleVersion
	}
	return &b, nil
}

// Timestamp formats t the way bundles record created_at.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
