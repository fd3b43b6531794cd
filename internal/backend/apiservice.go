package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/jo-hoe/gosubmissions/internal/backend/database"
	"github.com/jo-hoe/gosubmissions/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	imagesField     = "images"
	uploadsRoute    = "/uploads"
	deletedMessage  = "Submission and associated images deleted successfully"
	notFoundMessage = "Submission not found"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type apiResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type deleteRequest struct {
	ID int64 `param:"id" validate:"gt=0"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})

	e.POST("/submit", s.submitHandler)
	e.GET("/submissions", s.listHandler)
	e.DELETE("/delete/:id", s.deleteHandler)

	// Uploaded files are only served from here when they live on local disk
	if s.config.Storage.Type == "local" {
		e.Static(uploadsRoute, s.config.Storage.Directory)
	}
}

func (s *APIService) submitHandler(ctx echo.Context) error {
	var headers []*multipart.FileHeader
	form, err := ctx.MultipartForm()
	switch {
	case err == nil:
		headers = form.File[imagesField]
	case errors.Is(err, http.ErrNotMultipart):
		// plain form posts carry no files
	default:
		status := http.StatusBadRequest
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}
		slog.Warn("submitHandler: failed to parse form", "status", status, "error", err)
		return ctx.JSON(status, apiResponse{Success: false, Error: fmt.Sprintf("failed to parse form: %v", err)})
	}

	name := ctx.FormValue("name")
	handle := ctx.FormValue("handle")

	uploads, closeUploads, err := openUploads(headers)
	if err != nil {
		slog.Error("submitHandler: failed to open uploaded files",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, apiResponse{Success: false, Error: err.Error()})
	}
	defer closeUploads()

	id, err := s.coreService.Submit(ctx.Request().Context(), name, handle, uploads)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrTooManyFiles) {
			status = http.StatusBadRequest
		}
		slog.Error("submitHandler: failed to create submission",
			"status", status, "error", err, "files", len(uploads))
		return ctx.JSON(status, apiResponse{Success: false, Error: err.Error()})
	}

	return ctx.JSON(http.StatusOK, apiResponse{Success: true, ID: id})
}

func (s *APIService) listHandler(ctx echo.Context) error {
	submissions, err := s.coreService.List(ctx.Request().Context())
	if err != nil {
		slog.Error("listHandler: failed to list submissions",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, apiResponse{Success: false, Error: err.Error()})
	}

	// Prevent caching so the latest submissions are always shown
	ctx.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	return ctx.JSON(http.StatusOK, submissions)
}

func (s *APIService) deleteHandler(ctx echo.Context) error {
	var request deleteRequest
	// Only the path names the submission; a request body must not override it
	if err := (&echo.DefaultBinder{}).BindPathParams(ctx, &request); err != nil {
		slog.Warn("deleteHandler: invalid submission id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"), "error", err)
		return ctx.String(http.StatusBadRequest, "Invalid submission id")
	}
	if err := ctx.Validate(&request); err != nil {
		slog.Warn("deleteHandler: invalid submission id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"), "error", err)
		return ctx.String(http.StatusBadRequest, "Invalid submission id")
	}

	err := s.coreService.Delete(ctx.Request().Context(), request.ID)
	switch {
	case err == nil:
		return ctx.String(http.StatusOK, deletedMessage)
	case errors.Is(err, database.ErrNotFound):
		slog.Warn("deleteHandler: submission not found",
			"status", http.StatusNotFound, "id", request.ID)
		return ctx.String(http.StatusNotFound, notFoundMessage)
	default:
		slog.Error("deleteHandler: failed to delete submission",
			"status", http.StatusInternalServerError, "id", request.ID, "error", err)
		return ctx.String(http.StatusInternalServerError, fmt.Sprintf("Error deleting data: %v", err))
	}
}

// openUploads opens every uploaded part. The returned func closes all of them.
func openUploads(headers []*multipart.FileHeader) ([]core.Upload, func(), error) {
	uploads := make([]core.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, file := range files {
			if err := file.Close(); err != nil {
				slog.Error("failed to close uploaded file reader", "error", err)
			}
		}
	}

	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open uploaded file %s: %w", header.Filename, err)
		}
		files = append(files, file)
		uploads = append(uploads, core.Upload{Filename: header.Filename, Content: file})
	}
	return uploads, closeAll, nil
}
