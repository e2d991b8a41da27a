package fal

import "fmt"

const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

type VideoRequest struct {
	ImageURL   string `json:"image_url"`
	Prompt     string `json:"prompt"`
	Duration   int    `json:"duration"`
	Resolution string `json:"resolution"`
}

type File struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

type VideoResult struct {
	Video   *File              `json:"video"`
	Seed    int64              `json:"seed,omitempty"`
	Timings map[string]float64 `json:"timings,omitempty"`
}

// VideoURL is empty when the provider returned no video.
func (r VideoResult) VideoURL() string {
	if r.Video == nil {
		return ""
	}
	return r.Video.URL
}

type queueSubmit struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

type queueStatus struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal API %d: %s", e.StatusCode, e.Body)
}
