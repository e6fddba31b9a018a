// internal/handlers/ops/ssh.go
package ops

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sessionbridge-service/internal/pkg/response"
	"sessionbridge-service/internal/pkg/xerrors"
	service "sessionbridge-service/internal/service/sshsession"
	"sessionbridge-service/internal/sshx"
)

type SSHHandler struct {
	sessions       *service.Service
	transfer       *sshx.Transfer
	defaultTimeout time.Duration
}

func NewSSHHandler(sessions *service.Service, transfer *sshx.Transfer, defaultTimeout time.Duration) *SSHHandler {
	return &SSHHandler{
		sessions:       sessions,
		transfer:       transfer,
		defaultTimeout: defaultTimeout,
	}
}

type commandRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type commandResponse struct {
	Output     string `json:"output"`
	ExitCode   int    `json:"exitCode"`
	DurationMs int64  `json:"durationMs"`
}

// Command runs a shell command synchronously. A timed-out command is a 200
// with exitCode -1 and partial output, not an error.
func (h *SSHHandler) Command(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	timeout := h.defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	result, err := sshx.RunCommand(wrapper, req.Command, timeout)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrRemoteOperation) {
			h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "command executed", commandResponse{
		Output:     result.Output,
		ExitCode:   result.ExitCode,
		DurationMs: result.Duration.Milliseconds(),
	})
}

// SFTPList lists a remote directory.
func (h *SSHHandler) SFTPList(c *gin.Context) {
	remotePath := c.Query("remotePath")
	if remotePath == "" {
		response.ValidationError(c, "remotePath is required", nil)
		return
	}

	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	entries, err := h.transfer.List(wrapper, remotePath)
	if err != nil {
		h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "directory listed", entries)
}

// SFTPUpload writes a multipart file to the remote path chunk by chunk.
func (h *SSHHandler) SFTPUpload(c *gin.Context) {
	remotePath := c.PostForm("remotePath")
	if remotePath == "" {
		response.ValidationError(c, "remotePath is required", nil)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ValidationError(c, "file is required", err)
		return
	}

	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.ValidationError(c, "cannot read uploaded file", err)
		return
	}
	defer src.Close()

	result := <-h.transfer.Upload(wrapper, remotePath, src)
	if result.Err != nil {
		h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		response.FromError(c, result.Err)
		return
	}

	response.Success(c, http.StatusOK, "file uploaded", gin.H{
		"remotePath": result.RemotePath,
		"bytes":      result.Bytes,
	})
}

// SFTPDownload streams a remote file back with its original filename.
func (h *SSHHandler) SFTPDownload(c *gin.Context) {
	remotePath := c.Query("remotePath")
	if remotePath == "" {
		response.ValidationError(c, "remotePath is required", nil)
		return
	}

	key, wrapper, err := h.sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	result := <-h.transfer.Download(wrapper, remotePath)
	if result.Err != nil {
		h.sessions.ReleaseIfUnusable(c.Request.Context(), key)
		response.FromError(c, result.Err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, "application/octet-stream", result.Data)
}
