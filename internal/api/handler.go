// Package api serves the conversion and categorization pipeline over HTTP.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/extractor"
	"github.com/insightdelivered/statement-ledger/internal/matcher"
	"github.com/insightdelivered/statement-ledger/internal/models"
	"github.com/insightdelivered/statement-ledger/internal/pipeline"
	"github.com/insightdelivered/statement-ledger/internal/parser"
	"github.com/insightdelivered/statement-ledger/internal/writer"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// FileCSV is one converted file.
type FileCSV struct {
	Name        string  `json:"name"`
	Parser      string  `json:"parser"`
	CSV         string  `json:"csv"`
	Count       int     `json:"count"`
	TotalDebit  float64 `json:"totalDebit"`
	TotalCredit float64 `json:"totalCredit"`
}

// ConvertResponse is the JSON response from the /api/convert endpoint.
type ConvertResponse struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	BatchID string                 `json:"batchId,omitempty"`
	Batch   *pipeline.BatchSummary `json:"batch,omitempty"`
	Files   []FileCSV              `json:"files,omitempty"`
	Version string                 `json:"version,omitempty"`
}

// ErrorResponse is returned by every failing endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Handler holds the HTTP handlers for the API.
type Handler struct {
	Pipeline *pipeline.Pipeline
	Matcher  *matcher.Engine
	Batches  *cache.Cache
	Log      zerolog.Logger
	// OCR enables the scanned-PDF fallback for uploads.
	OCR bool
}

// NewHandler caches batch summaries for ttl.
func NewHandler(p *pipeline.Pipeline, m *matcher.Engine, ttl time.Duration, log zerolog.Logger) *Handler {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Handler{Pipeline: p, Matcher: m, Batches: cache.New(ttl, 2*ttl), Log: log}
}

// NewApp builds a fiber app with the API mounted. Panics in handlers are
// recovered and reported as JSON errors.
func NewApp(h *Handler, bodyLimit int) *fiber.App {
	if bodyLimit <= 0 {
		bodyLimit = 32 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:      "statement-ledger",
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(r fiber.Router) {
	api := r.Group("/api")
	api.Get("/health", h.HandleHealth)
	api.Post("/convert", h.HandleConvert)
	api.Post("/classify", h.requireMatcher, h.HandleClassify)
	api.Post("/learn", h.requireMatcher, h.HandleLearn)
	api.Post("/vendors/consolidate", h.requireMatcher, h.HandleConsolidate)
	api.Post("/clusters", h.requireMatcher, h.HandleClusters)
	api.Get("/batches/:id", h.HandleBatch)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}

func writeError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

// requireMatcher rejects categorization requests when no matcher is wired.
func (h *Handler) requireMatcher(c *fiber.Ctx) error {
	if h.Matcher == nil {
		return writeError(c, fiber.StatusServiceUnavailable, "categorization is not configured")
	}
	return c.Next()
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"engine":  "fiber",
		"version": Version,
	})
}

// HandleConvert accepts one or more multipart "file" uploads (PDF, CSV or
// text) or a "text" form field, and runs them as one batch. "bank" forces
// a parser code; "header=false" drops CSV metadata rows.
func (h *Handler) HandleConvert(c *fiber.Ctx) error {
	bank := strings.TrimSpace(c.FormValue("bank"))
	if bank != "" && !slices.Contains(parser.Codes(), bank) {
		return writeError(c, fiber.StatusBadRequest,
			fmt.Sprintf("Unknown bank: %q. Use one of %s.", bank, strings.Join(parser.Codes(), ", ")))
	}
	includeHeader := c.FormValue("header") != "false"

	inputs, err := h.collectInputs(c)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, err.Error())
	}
	if len(inputs) == 0 {
		return writeError(c, fiber.StatusBadRequest, "No file uploaded. Use form field 'file' or 'text'.")
	}
	for i := range inputs {
		inputs[i].Parser = bank
	}

	sum, err := h.Pipeline.Run(c.UserContext(), inputs)
	if err != nil {
		return writeError(c, fiber.StatusServiceUnavailable, err.Error())
	}
	h.Batches.SetDefault(sum.ID, sum)

	resp := ConvertResponse{Success: len(sum.Results) > 0, BatchID: sum.ID, Batch: sum, Version: Version}
	w := &writer.CSVWriter{IncludeHeader: includeHeader}
	for _, r := range sum.Results {
		var buf bytes.Buffer
		if err := w.Write(&buf, r.Result); err != nil {
			return writeError(c, fiber.StatusInternalServerError, fmt.Sprintf("CSV generation failed: %v", err))
		}
		f := FileCSV{Name: r.Name, Parser: r.Parser, CSV: buf.String(), Count: len(r.Result.Transactions)}
		for _, tx := range r.Result.Transactions {
			f.TotalDebit += tx.Debit
			f.TotalCredit += tx.Credit
		}
		resp.Files = append(resp.Files, f)
	}
	if !resp.Success {
		resp.Error = "no file could be converted"
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	}
	return c.JSON(resp)
}

func (h *Handler) collectInputs(c *fiber.Ctx) ([]pipeline.Input, error) {
	var inputs []pipeline.Input
	if text := c.FormValue("text"); strings.TrimSpace(text) != "" {
		inputs = append(inputs, pipeline.Input{Name: "pasted.txt", Text: text})
	}
	form, err := c.MultipartForm()
	if err != nil {
		// Not multipart: only the text field can carry a statement.
		return inputs, nil
	}
	for _, fh := range form.File["file"] {
		in, err := h.readUpload(c, fh)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (h *Handler) readUpload(c *fiber.Ctx, fh *multipart.FileHeader) (pipeline.Input, error) {
	f, err := fh.Open()
	if err != nil {
		return pipeline.Input{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Input{}, err
	}

	in := pipeline.Input{Name: fh.Filename}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		in.Text = string(data)
		return in, nil
	}
	doc, err := extractor.ExtractBytes(c.UserContext(), data, extractor.Options{OCR: h.OCR})
	if err != nil {
		// The pipeline reports the empty text as this file's error.
		h.Log.Warn().Err(err).Str("file", fh.Filename).Msg("pdf extraction failed")
		return in, nil
	}
	in.Text, in.LineMeta = doc.Text, doc.Lines
	return in, nil
}

// ClassifyRequest carries transactions or bare descriptions.
type ClassifyRequest struct {
	Transactions []models.Transaction `json:"transactions"`
	Descriptions []string             `json:"descriptions"`
}

// HandleClassify annotates transactions with category suggestions.
func (h *Handler) HandleClassify(c *fiber.Ctx) error {
	var req ClassifyRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}
	txs := req.Transactions
	for _, d := range req.Descriptions {
		txs = append(txs, models.Transaction{Description: d, Status: models.StatusUnmatched})
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return c.JSON(fiber.Map{"success": true, "transactions": h.Matcher.BatchPredict(txs)})
}

// LearnRequest is a user correction.
type LearnRequest struct {
	Description string `json:"description"`
	Category    string `json:"category"`
	Account     string `json:"account"`
}

// HandleLearn records a correction.
func (h *Handler) HandleLearn(c *fiber.Ctx) error {
	var req LearnRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
	}
	if strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Category) == "" {
		return writeError(c, fiber.StatusBadRequest, "description and category are required")
	}
	h.Matcher.Learn(req.Description, req.Category, req.Account)
	a, _ := h.Matcher.Lookup(req.Description)
	return c.JSON(fiber.Map{"success": true, "association": a})
}

// HandleConsolidate merges near-duplicate vendors on demand.
func (h *Handler) HandleConsolidate(c *fiber.Ctx) error {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		}
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return writeError(c, fiber.StatusBadRequest, "threshold must be between 0 and 1")
	}
	return c.JSON(fiber.Map{"success": true, "report": h.Matcher.Consolidate(req.Threshold)})
}

// HandleClusters groups unmatched transactions. With no body it uses the
// transactions of the batch named by ?batch=.
func (h *Handler) HandleClusters(c *fiber.Ctx) error {
	var txs []models.Transaction
	if id := c.Query("batch"); id != "" {
		sum, ok := h.batch(id)
		if !ok {
			return writeError(c, fiber.StatusNotFound, "batch not found")
		}
		txs = sum.Transactions()
	} else {
		var req ClassifyRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		}
		txs = req.Transactions
	}
	clusters := h.Matcher.Clusters(txs)
	if clusters == nil {
		clusters = []matcher.Cluster{}
	}
	return c.JSON(fiber.Map{"success": true, "clusters": clusters})
}

// HandleBatch returns a cached batch summary.
func (h *Handler) HandleBatch(c *fiber.Ctx) error {
	sum, ok := h.batch(c.Params("id"))
	if !ok {
		return writeError(c, fiber.StatusNotFound, "batch not found or expired")
	}
	return c.JSON(sum)
}

func (h *Handler) batch(id string) (*pipeline.BatchSummary, bool) {
	v, ok := h.Batches.Get(id)
	if !ok {
		return nil, false
	}
	sum, ok := v.(*pipeline.BatchSummary)
	return sum, ok
}
