package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/nifti"
	"github.com/Brownie44l1/segmentator/internal/pipeline"
	"github.com/Brownie44l1/segmentator/internal/task"
)

// maxMemory is how much of a multipart upload is buffered in memory; the
// rest spills to temporary files.
const maxMemory = 32 << 20

type ImagePredictor interface {
	PredictImage(ctx context.Context, in, out string, opts pipeline.Options) error
}

type Handler struct {
	predictor ImagePredictor
	uploadDir string
	log       *slog.Logger
}

// NewHandler serves predictions through predictor. Uploaded images and their
// segmentations are kept in uploadDir only for the duration of a request.
func NewHandler(predictor ImagePredictor, uploadDir string, log *slog.Logger) *Handler {
	return &Handler{
		predictor: predictor,
		uploadDir: uploadDir,
		log:       logging.OrDiscard(log),
	}
}

// PredictionRequest segments a file already present on the server.
type PredictionRequest struct {
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	TaskID     int     `json:"task_id"`
	Multilabel bool    `json:"multilabel"`
	Resample   float64 `json:"resample"`
	TTA        bool    `json:"tta"`
	Folds      []int   `json:"folds"`
}

type PredictionResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Input == "" || req.Output == "" {
		http.Error(w, "input and output are required", http.StatusBadRequest)
		return
	}
	if req.TaskID <= 0 {
		http.Error(w, "task_id must be positive", http.StatusBadRequest)
		return
	}

	opts := pipeline.Options{
		TaskID:     req.TaskID,
		Folds:      req.Folds,
		TTA:        req.TTA,
		Multilabel: req.Multilabel,
		Resample:   req.Resample,
	}
	if err := h.predictor.PredictImage(r.Context(), req.Input, req.Output, opts); err != nil {
		h.fail(w, "Prediction failed", err)
		return
	}

	writeJSON(w, http.StatusOK, PredictionResponse{Status: "ok", Output: req.Output})
}

// PredictFromImage segments an uploaded NIfTI image (form field "image") and
// responds with the multilabel segmentation as .nii.gz.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts, err := queryOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	id := uuid.NewString()
	log := h.log.With("request", id)
	log.Info("Received file", "name", header.Filename, "size", header.Size)

	in, err := h.saveUpload(id, file)
	if err != nil {
		h.fail(w, "Failed to store upload", err)
		return
	}
	defer os.Remove(in)

	out := filepath.Join(h.uploadDir, id+"_seg.nii.gz")
	defer os.Remove(out)

	if err := h.predictor.PredictImage(r.Context(), in, out, opts); err != nil {
		h.fail(w, "Prediction failed", err)
		return
	}

	seg, err := os.Open(out)
	if err != nil {
		h.fail(w, "Prediction failed", err)
		return
	}
	defer seg.Close()

	name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(header.Filename), ".gz"), ".nii") + "_seg.nii.gz"
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, seg); err != nil {
		log.Warn("Failed to stream segmentation", "error", err)
	}
}

// saveUpload writes the upload to uploadDir, naming it .nii.gz or .nii by
// sniffing the gzip magic.
func (h *Handler) saveUpload(id string, src io.Reader) (string, error) {
	br := bufio.NewReader(src)
	ext := ".nii"
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		ext = ".nii.gz"
	}

	path := filepath.Join(h.uploadDir, id+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, br); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

// queryOptions reads task, tta, resample and fold from the query string.
// Uploads always produce a multilabel volume.
func queryOptions(r *http.Request) (pipeline.Options, error) {
	q := r.URL.Query()
	opts := pipeline.Options{Multilabel: true}

	id, err := strconv.Atoi(q.Get("task"))
	if err != nil || id <= 0 {
		return opts, fmt.Errorf("query parameter task must be a positive task id")
	}
	opts.TaskID = id

	if v := q.Get("tta"); v != "" {
		if opts.TTA, err = strconv.ParseBool(v); err != nil {
			return opts, fmt.Errorf("invalid tta %q", v)
		}
	}
	if v := q.Get("resample"); v != "" {
		if opts.Resample, err = strconv.ParseFloat(v, 64); err != nil || opts.Resample < 0 {
			return opts, fmt.Errorf("invalid resample %q", v)
		}
	}
	for _, v := range q["fold"] {
		for _, s := range strings.Split(v, ",") {
			f, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || f < 0 {
				return opts, fmt.Errorf("invalid fold %q", s)
			}
			opts.Folds = append(opts.Folds, f)
		}
	}
	return opts, nil
}

// fail logs err and maps it to a status code.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, nifti.ErrFormat), errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum):
		status = http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		status = 499
	}
	h.log.Error(msg, "error", err, "status", status)
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
