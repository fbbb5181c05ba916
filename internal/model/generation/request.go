package generation

import (
	"net/http"
	"strings"
)

// Image is one uploaded inspiration image.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// MIMEType returns the declared content type, sniffing the bytes when none was sent.
func (i Image) MIMEType() string {
	if ct := strings.TrimSpace(i.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if len(i.Data) > 0 {
		return http.DetectContentType(i.Data)
	}
	return "image/jpeg"
}

// Request is a single website generation request. It lives for one HTTP call.
type Request struct {
	Description string
	Images      []Image
}

// ImageAnalysis is the outcome of analysing one image.
type ImageAnalysis struct {
	Index       int
	Filename    string
	Description string
	Err         error
}

// AnalysisReport collects per-image outcomes in upload order.
type AnalysisReport struct {
	Items []ImageAnalysis
}

// Text joins the successful descriptions, newline separated.
func (r AnalysisReport) Text() string {
	var b strings.Builder
	for _, item := range r.Items {
		if item.Err != nil || strings.TrimSpace(item.Description) == "" {
			continue
		}
		b.WriteString(strings.TrimSpace(item.Description))
		b.WriteString("\n")
	}
	return b.String()
}

// ImageError is the client-facing view of a failed image analysis.
type ImageError struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message"`
}

// Errors lists the images that could not be analysed.
func (r AnalysisReport) Errors() []ImageError {
	var out []ImageError
	for _, item := range r.Items {
		if item.Err == nil {
			continue
		}
		out = append(out, ImageError{Index: item.Index, Filename: item.Filename, Message: item.Err.Error()})
	}
	return out
}

// Result is the generated page plus the image analysis that fed into it.
type Result struct {
	HTML     string
	Analysis AnalysisReport
}
