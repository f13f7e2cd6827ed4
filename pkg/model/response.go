package model

// QueryType labels the kind of reply the pipeline produced.
type QueryType string

const (
	QueryTypeVision       QueryType = "vision"
	QueryTypeStac         QueryType = "stac"
	QueryTypeHybrid       QueryType = "hybrid"
	QueryTypeContextual   QueryType = "contextual"
	QueryTypeAlternatives QueryType = "alternative_results"
	QueryTypeError        QueryType = "error"
)

// MapData is the renderable payload: selected tiles plus the viewport.
type MapData struct {
	Features []StacFeature `json:"features"`
	BBox     BBox          `json:"bbox"`
	Center   [2]float64    `json:"center"`
	Zoom     int           `json:"zoom"`
}

// TranslationMetadata echoes the reproducible search parameters.
type TranslationMetadata struct {
	StacQuery   any          `json:"stac_query,omitempty"`
	Collections []string     `json:"collections,omitempty"`
	Datetime    string       `json:"datetime,omitempty"`
	CloudFilter *CloudFilter `json:"cloud_filter,omitempty"`
}

// Response is the envelope returned for every turn.
type Response struct {
	Success             bool                `json:"success"`
	Message             string              `json:"message"`
	QueryType           QueryType           `json:"query_type"`
	Data                *MapData            `json:"data,omitempty"`
	Classification      Intent              `json:"classification"`
	ShowingAlternatives bool                `json:"showing_alternatives,omitempty"`
	OriginalFilters     *FilterSet          `json:"original_filters,omitempty"`
	AlternativeFilters  *FilterSet          `json:"alternative_filters,omitempty"`
	Translation         TranslationMetadata `json:"translation_metadata"`
}
