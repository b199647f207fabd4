package server

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"reelstream/internal/metadata"
	"reelstream/internal/pipeline"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// Buffer size for pass-through streaming (64KB)
	streamBufferSize = 64 * 1024
)

// handleStream sends a media file as is when the client can play it, or pipes
// it through the transcoder with the selected subtitles burnt in.
func (ms *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	mf, ok := ms.mediaFileForRequest(w, r)
	if !ok {
		return
	}
	req, _, ok := ms.playRequest(w, r, mf)
	if !ok {
		return
	}

	decision := ms.svc.Decide(req)
	if decision.PassThrough {
		if err := ms.serveFile(w, r, mf, false); err != nil {
			ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Pass-through stream ended early")
		}
		return
	}

	logger := ms.logger.WithFields(logrus.Fields{
		"user":          usernameFrom(r.Context()),
		"media_file_id": mf.ID,
		"container":     decision.Params.Container,
		"seek":          req.Seek,
		"selection":     selectionLabels(req.Tracks),
	})

	inv, cleanup, err := ms.svc.Prepare(r.Context(), req, decision.Params, pipeline.PipeSink())
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error preparing transcode", err)
		return
	}
	stream, err := ms.svc.Streamer.Start(r.Context(), inv, cleanup)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error starting transcode", err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", decision.Params.Container.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	logger.Info("Transcoding stream")
	written, err := stream.WriteTo(w)
	entry := logger.WithField("size", formatBytes(written))
	if err != nil && r.Context().Err() == nil {
		entry.WithError(err).Warn("Transcoded stream interrupted")
		return
	}
	entry.Debug("Transcoded stream finished")
}

// handleDownload sends the original file as an attachment.
func (ms *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	mf, ok := ms.mediaFileForRequest(w, r)
	if !ok {
		return
	}
	ms.logger.WithFields(logrus.Fields{
		"user":          usernameFrom(r.Context()),
		"media_file_id": mf.ID,
	}).Info("Downloading media file")

	if err := ms.serveFile(w, r, mf, true); err != nil {
		ms.logger.WithError(err).WithField("media_file_id", mf.ID).Warn("Download ended early")
	}
}

// serveFile streams the file on disk with caching headers and single-range
// support for seeking.
func (ms *Server) serveFile(w http.ResponseWriter, r *http.Request, mf *models.MediaFile, attachment bool) error {
	file, err := os.Open(mf.FullPath())
	if err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Media file is not on disk", err)
		return nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error reading file info", err)
		return nil
	}
	fileSize := stat.Size()

	etag := fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), fileSize)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", metadata.ContentType(mf.Extension))
	w.Header().Set("Accept-Ranges", "bytes")
	if attachment {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": mf.FileName}))
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		return ms.handleRangeRequest(w, file, fileSize, rangeHeader)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.CopyBuffer(w, bufio.NewReaderSize(file, streamBufferSize), make([]byte, streamBufferSize))
	return err
}

// handleRangeRequest implements single-range byte serving for seeking.
func (ms *Server) handleRangeRequest(w http.ResponseWriter, file io.ReadSeeker, fileSize int64, rangeHeader string) error {
	start, end, ok := parseRange(rangeHeader, fileSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	contentLength := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(w, file, contentLength)
	return err
}

// parseRange understands "bytes=a-b", "bytes=a-" and the suffix form "bytes=-n".
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return 0, 0, false
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, size > 0
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = size - 1
	if last != "" {
		if end, err = strconv.ParseInt(last, 10, 64); err != nil {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	if start < 0 || start > end {
		return 0, 0, false
	}
	return start, end, true
}
