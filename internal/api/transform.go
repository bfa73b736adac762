package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/dunamismax/pixelfit/internal/pipeline"
	"github.com/dustin/go-humanize"
)

const (
	multipartMemory   = 32 << 20
	multipartOverhead = 1 << 20

	// Requests that run the size optimizer encode several times.
	targetSizeCost = 2
)

var errNoFile = errors.New("no image file provided")

type dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type transformResponse struct {
	Success            bool       `json:"success"`
	ImageURL           string     `json:"imageUrl"`
	OriginalSize       int        `json:"originalSize"`
	ProcessedSize      int        `json:"processedSize"`
	SavedBytes         int        `json:"savedBytes"`
	SavedPercent       float64    `json:"savedPercent"`
	OriginalDimensions dimensions `json:"originalDimensions"`
	Dimensions         dimensions `json:"dimensions"`
	Format             string     `json:"format"`
	MIMEType           string     `json:"mimeType"`
	Quality            int        `json:"quality"`
	ProcessingTime     int64      `json:"processingTime"`
}

type transformError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.handleTransform(w, r, "process", pipeline.FormatFromSource)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.handleTransform(w, r, "convert", pipeline.FormatFromConfig)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request, endpoint string, policy pipeline.FormatPolicy) {
	setNoStore(w)

	source, form, err := s.readUpload(w, r)
	if err != nil {
		s.metrics.transformTotal.WithLabelValues(endpoint, "", "invalid").Inc()
		writeJSON(w, http.StatusBadRequest, transformError{Error: err.Error()})
		return
	}
	cfg := domain.NormalizeForm(form)

	if policy == pipeline.FormatFromConfig {
		if err := requireFormat(form["format"]); err != nil {
			s.metrics.transformTotal.WithLabelValues(endpoint, "", "invalid").Inc()
			writeJSON(w, http.StatusBadRequest, transformError{Error: err.Error()})
			return
		}
		if !s.engine.CanEncode(cfg.Format) {
			s.metrics.transformTotal.WithLabelValues(endpoint, "", "invalid").Inc()
			writeJSON(w, http.StatusUnsupportedMediaType, transformError{
				Error: fmt.Sprintf("output format %s is not available on this server", cfg.Format),
			})
			return
		}
	}

	cost := 1
	if cfg.WantsTargetSize() {
		cost = targetSizeCost
	}
	if !s.admit(w, r, cost) {
		return
	}

	result, err := s.engine.Process(r.Context(), pipeline.TransformRequest{
		Source:       source,
		Config:       cfg,
		FormatPolicy: policy,
	})
	if err != nil {
		if pipeline.IsValidation(err) {
			s.metrics.transformTotal.WithLabelValues(endpoint, "", "invalid").Inc()
			writeJSON(w, http.StatusBadRequest, transformError{Error: err.Error()})
			return
		}
		if errors.Is(err, pipeline.ErrEncoderUnavailable) {
			s.metrics.transformTotal.WithLabelValues(endpoint, "", "invalid").Inc()
			writeJSON(w, http.StatusUnsupportedMediaType, transformError{Error: err.Error()})
			return
		}
		s.metrics.transformTotal.WithLabelValues(endpoint, "", "error").Inc()
		s.logger.Printf("transform failed endpoint=%s bytes=%s err=%v", endpoint, humanize.Bytes(uint64(len(source))), err)
		writeJSON(w, http.StatusInternalServerError, transformError{
			Error:   "Failed to process image",
			Details: err.Error(),
		})
		return
	}

	s.metrics.observeTransform(endpoint, result)
	if !result.TargetMet {
		s.logger.Printf("target size missed endpoint=%s target=%s got=%s quality=%d probes=%d",
			endpoint, humanize.IBytes(uint64(cfg.TargetSizeBytes)), humanize.IBytes(uint64(result.ProcessedSize)), result.QualityUsed, result.Probes)
	}
	s.logger.Printf("transform done endpoint=%s format=%s in=%s out=%s saved=%.2f%% quality=%d probes=%d duration=%s",
		endpoint,
		result.Format,
		humanize.Bytes(uint64(result.OriginalSize)),
		humanize.Bytes(uint64(result.ProcessedSize)),
		result.SavedPercent,
		result.QualityUsed,
		result.Probes,
		result.Duration.Round(time.Millisecond),
	)

	writeJSON(w, http.StatusOK, transformResponse{
		Success:            true,
		ImageURL:           dataURI(result.MIMEType, result.Bytes),
		OriginalSize:       result.OriginalSize,
		ProcessedSize:      result.ProcessedSize,
		SavedBytes:         result.SavedBytes,
		SavedPercent:       result.SavedPercent,
		OriginalDimensions: dimensions{Width: result.OriginalWidth, Height: result.OriginalHeight},
		Dimensions:         dimensions{Width: result.Width, Height: result.Height},
		Format:             result.Format.Extension(),
		MIMEType:           result.MIMEType,
		Quality:            result.QualityUsed,
		ProcessingTime:     result.Duration.Milliseconds(),
	})
}

// readUpload parses the multipart body and returns the uploaded bytes with
// the form values. The file may be sent as "file" or "image". Spilled parts
// are removed before it returns.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, map[string][]string, error) {
	maxBytes := s.engine.Limits().MaxSourceBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, pipeline.ErrSourceTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, errNoFile
		}
		return nil, nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, err := openUpload(r.MultipartForm)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	return data, r.MultipartForm.Value, nil
}

func openUpload(form *multipart.Form) (multipart.File, error) {
	for _, field := range []string{"file", "image"} {
		if headers := form.File[field]; len(headers) > 0 {
			return headers[0].Open()
		}
	}
	return nil, errNoFile
}

func requireFormat(values []string) error {
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return errors.New("format is required")
	}
	format, ok := domain.ParseFormat(values[0])
	if !ok || !format.Encodable() {
		return fmt.Errorf("unsupported output format: %s", values[0])
	}
	return nil
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
