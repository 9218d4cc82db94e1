package handler

import (
	"io"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/model"
	"docvault/internal/service"
	"docvault/internal/syncer"
)

const (
	// ActorIDHeader and ActorRoleHeader identify the caller. Authentication
	// happens upstream of this service.
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

var documentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,127}$`)

func actorFromCtx(c *fiber.Ctx) (model.Actor, bool) {
	id := strings.TrimSpace(c.Get(ActorIDHeader))
	role := strings.TrimSpace(c.Get(ActorRoleHeader))
	if id == "" || role == "" {
		return model.Actor{}, false
	}
	return model.NewActor(id, role), true
}

func actorRequired(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusUnauthorized, "ACTOR_REQUIRED", "X-Actor-ID and X-Actor-Role headers are required")
}

// documentID returns the :id param, or "" after writing a 400 response.
func documentID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if !documentIDPattern.MatchString(id) {
		return "", writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
	}
	return id, nil
}

func uploadOptions(c *fiber.Ctx, actor model.Actor) syncer.UploadOptions {
	opts := syncer.UploadOptions{
		TransactionID: strings.TrimSpace(c.FormValue("transaction_id")),
		AgentID:       strings.TrimSpace(c.FormValue("agent_id")),
		OwnerID:       actor.ID,
		Role:          actor.Role,
		Category:      model.Category(strings.ToLower(strings.TrimSpace(c.FormValue("category")))),
	}
	for _, t := range strings.Split(c.FormValue("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			opts.Tags = append(opts.Tags, t)
		}
	}
	return opts
}

func readUpload(fh *multipart.FileHeader) (model.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return model.UploadFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.UploadFile{}, err
	}
	return model.UploadFile{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

// ListDocuments godoc
// @Summary List documents
// @Param limit query int false "page size (max 100)"
// @Param offset query int false "rows to skip"
// @Success 200 {object} service.DocumentListResult
// @Router /documents [get]
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// UploadDocument godoc
// @Summary Upload a document to every storage backend
// @Accept multipart/form-data
// @Param file formData file true "document"
// @Param transaction_id formData string false "transaction"
// @Param agent_id formData string false "agent"
// @Param category formData string false "category"
// @Param tags formData string false "comma separated tags"
// @Success 201 {object} syncer.UploadResult "all backends confirmed"
// @Success 202 {object} syncer.UploadResult "some backends queued for retry"
// @Router /documents [post]
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFromCtx(c)
		if !ok {
			return actorRequired(c)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		file, err := readUpload(fh)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}

		res, err := docSvc.Upload(c.UserContext(), file, uploadOptions(c, actor))
		if err != nil {
			return writeServiceError(c, err)
		}
		switch {
		case !res.Success:
			return c.Status(fiber.StatusServiceUnavailable).JSON(res)
		case len(res.PendingBackends) > 0:
			return c.Status(fiber.StatusAccepted).JSON(res)
		default:
			return c.Status(fiber.StatusCreated).JSON(res)
		}
	}
}

// BatchUploadDocuments godoc
// @Summary Upload several documents; one bad file does not fail the batch
// @Accept multipart/form-data
// @Param files formData file true "documents"
// @Success 200 {object} service.BatchResult
// @Router /documents/batch [post]
func BatchUploadDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorFromCtx(c)
		if !ok {
			return actorRequired(c)
		}

		form, err := c.MultipartForm()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "files are required")
		}
		headers := form.File["files"]
		files := make([]model.UploadFile, 0, len(headers))
		for _, fh := range headers {
			f, err := readUpload(fh)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
			}
			files = append(files, f)
		}

		res, err := docSvc.BatchUpload(c.UserContext(), files, uploadOptions(c, actor))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetDocument godoc
// @Summary Get a document with its backend refs and lock
// @Param id path string true "document id"
// @Success 200 {object} service.DocumentDetail
// @Router /documents/{id} [get]
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		doc, err := docSvc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

func GetDocumentContent(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		doc, data, err := docSvc.Content(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Attachment(doc.Name)
		if doc.MimeType != "" {
			c.Set(fiber.HeaderContentType, doc.MimeType)
		}
		return c.Send(data)
	}
}

// DeleteDocument godoc
// @Summary Delete a document from every backend
// @Param id path string true "document id"
// @Success 204
// @Failure 409 {object} errorPayload "document is locked"
// @Router /documents/{id} [delete]
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		if err := docSvc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// SyncStatus godoc
// @Summary Sync queue depth, failed items and backend health
// @Success 200 {object} service.SyncStatus
// @Router /sync/status [get]
func SyncStatus(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(docSvc.SyncStatus(c.UserContext()))
	}
}

func RequeueSyncItem(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := documentID(c)
		if id == "" {
			return err
		}
		if err := docSvc.Requeue(c.UserContext(), id, c.Params("backend")); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}
