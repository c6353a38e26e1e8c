package server

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"mediadrop/internal"
	"mediadrop/utils"
)

// DownloadRequest is the body of POST /download, as a form or JSON
type DownloadRequest struct {
	URL     string `json:"url" form:"url"`
	Quality string `json:"quality" form:"quality"`
}

func (s *Server) handleHealth(c *gin.Context) {
	data := gin.H{
		"status":  "ok",
		"version": internal.Version,
		"locks":   s.locks.Len(),
	}
	if s.janitor != nil {
		data["janitor"] = s.janitor.State().String()
		if report, ok := s.janitor.LastReport(); ok {
			data["last_sweep"] = report
		}
	}

	c.JSON(http.StatusOK, Response{
		Code:    200,
		Data:    data,
		Message: "everything is good",
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBind(&req); err != nil {
		if isTooLarge(err) {
			respondTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Data:    nil,
			Message: "invalid request body",
		})
		return
	}

	creds, err := s.saveCookies(c)
	if isTooLarge(err) {
		respondTooLarge(c)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer s.cookies.Discard(creds)

	if creds == nil && s.opts.RequireCookies {
		s.respondError(c, internal.NewCredentialsError("a cookies file is required"))
		return
	}

	ticket, err := s.pipeline.Prepare(c.Request.Context(), internal.MediaRequest{
		URL:         strings.TrimSpace(req.URL),
		Quality:     req.Quality,
		Credentials: creds,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: 200,
		Data: gin.H{
			"filename":     ticket.Name,
			"download_url": ticket.DownloadURL,
			"size":         ticket.Size,
			"expires_at":   ticket.ExpiresAt,
		},
		Message: "download ready",
	})
}

// saveCookies stores the optional "cookies" upload. No upload is not an error.
func (s *Server) saveCookies(c *gin.Context) (*internal.Credentials, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, nil
	}

	header, err := c.FormFile("cookies")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if isTooLarge(err) {
		return nil, err
	}
	if err != nil {
		return nil, internal.NewCredentialsError("upload could not be read")
	}
	if header.Size == 0 {
		return nil, nil
	}

	file, err := header.Open()
	if err != nil {
		return nil, internal.NewCredentialsError("upload could not be read")
	}
	defer file.Close()

	creds, err := s.cookies.Save(file)
	if err != nil {
		return nil, err
	}
	internal.LogDebug("Accepted cookies file with %d cookies", creds.CookieCount)
	return creds, nil
}

// handleDelivery streams a prepared file once. The file is deleted and its
// reservation released when the handler returns, however the copy ended.
func (s *Server) handleDelivery(c *gin.Context) {
	name := c.Param("filename")

	delivery, err := s.pipeline.Open(name, c.Query("token"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer delivery.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")

	var w http.ResponseWriter = c.Writer
	if s.limiter != nil {
		s.limiter.RegisterStream()
		defer s.limiter.UnregisterStream()
		w = &throttledResponseWriter{
			ResponseWriter: c.Writer,
			throttled:      utils.NewThrottledWriter(c.Request.Context(), c.Writer, s.limiter),
		}
	}

	http.ServeContent(w, c.Request, name, delivery.ModTime, delivery)
	internal.LogInfo("Delivered %s request_id=%s", name, requestIDFrom(c))
}

// throttledResponseWriter paces the body through the shared limiter
type throttledResponseWriter struct {
	http.ResponseWriter
	throttled *utils.ThrottledWriter
}

func (w *throttledResponseWriter) Write(p []byte) (int, error) {
	return w.throttled.Write(p)
}

// respondError maps an error to its status and user-facing message. Causes
// are logged, never returned.
func (s *Server) respondError(c *gin.Context, err error) {
	var validationErr *internal.ValidationError
	if errors.As(err, &validationErr) {
		internal.LogValidationError(validationErr)
		c.JSON(http.StatusBadRequest, Response{
			Code:    400,
			Data:    nil,
			Message: validationErr.Message,
		})
		return
	}

	mediaErr, ok := internal.AsMediaError(err)
	if !ok {
		internal.LogError("request_id=%s: %v", requestIDFrom(c), err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    500,
			Data:    nil,
			Message: internal.MsgInternalError,
		})
		return
	}

	internal.LogMediaError(mediaErr)
	code := mediaErr.Code
	if code < 400 || code > 599 {
		code = http.StatusInternalServerError
	}
	c.JSON(code, Response{
		Code:    code,
		Data:    nil,
		Message: mediaErr.UserMessage(),
	})
}
