package contacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/internal/avatar"
	"github.com/HerbHall/phonebook/internal/server"
	"github.com/HerbHall/phonebook/pkg/models"
	pkgplugin "github.com/HerbHall/phonebook/pkg/plugin"
	"go.uber.org/zap"
)

// maxJSONBody caps create and update request bodies.
const maxJSONBody = 64 << 10

// multipartOverhead is the allowance for form fields and boundaries on top
// of the avatar size limit.
const multipartOverhead = 1 << 20

// Routes implements pkgplugin.Plugin.
func (p *Plugin) Routes() []pkgplugin.Route {
	return []pkgplugin.Route{
		{Method: "GET", Path: "", Handler: p.handleList},
		{Method: "POST", Path: "", Handler: p.handleCreate},
		{Method: "POST", Path: "/avatar", Handler: p.handleUploadAvatar},
		{Method: "GET", Path: "/{id}", Handler: p.handleGet},
		{Method: "PUT", Path: "/{id}", Handler: p.handleUpdate},
		{Method: "DELETE", Path: "/{id}", Handler: p.handleDelete},
	}
}

// handleList returns one page of contacts.
//
//	@Summary		List contacts
//	@Description	Case-insensitive keyword search over name, phone and email with sorting and pagination.
//	@Tags			contacts
//	@Produce		json
//	@Param			page query int false "Page number" default(1)
//	@Param			limit query int false "Page size (1-100)" default(10)
//	@Param			keyword query string false "Search keyword"
//	@Param			sortBy query string false "name, phone or createdAt" default(name)
//	@Param			sortMode query string false "asc or desc" default(asc)
//	@Success		200 {object} server.Envelope
//	@Failure		400 {object} server.Envelope
//	@Router			/contacts [get]
func (p *Plugin) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := intParam(query.Get("page"), models.DefaultPage)
	if err != nil {
		p.writeError(w, fmt.Errorf("page: %w", err))
		return
	}
	limit, err := intParam(query.Get("limit"), p.defaultLimit)
	if err != nil {
		p.writeError(w, fmt.Errorf("limit: %w", err))
		return
	}

	res, err := p.service.List(r.Context(), models.PageQuery{
		Keyword:  query.Get("keyword"),
		SortBy:   query.Get("sortBy"),
		SortMode: models.SortDirection(query.Get("sortMode")),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		p.writeError(w, err)
		return
	}
	server.WritePage(w, res)
}

// handleCreate creates a contact.
//
//	@Summary		Create contact
//	@Tags			contacts
//	@Accept			json
//	@Produce		json
//	@Param			contact body models.ContactInput true "Contact"
//	@Success		201 {object} server.Envelope
//	@Failure		400 {object} server.Envelope
//	@Router			/contacts [post]
func (p *Plugin) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in models.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		p.writeError(w, err)
		return
	}
	c, err := p.service.Create(r.Context(), in)
	if err != nil {
		p.writeError(w, err)
		return
	}
	server.WriteData(w, http.StatusCreated, "contact created", c)
}

// handleGet returns a single contact.
//
//	@Summary		Get contact
//	@Tags			contacts
//	@Produce		json
//	@Param			id path string true "Contact ID"
//	@Success		200 {object} server.Envelope
//	@Failure		404 {object} server.Envelope
//	@Router			/contacts/{id} [get]
func (p *Plugin) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := p.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		p.writeError(w, err)
		return
	}
	server.WriteData(w, http.StatusOK, "", c)
}

// handleUpdate applies a partial update.
//
//	@Summary		Update contact
//	@Description	Fields omitted from the body keep their stored values.
//	@Tags			contacts
//	@Accept			json
//	@Produce		json
//	@Param			id path string true "Contact ID"
//	@Param			contact body models.ContactPatch true "Changed fields"
//	@Success		200 {object} server.Envelope
//	@Failure		400 {object} server.Envelope
//	@Failure		404 {object} server.Envelope
//	@Router			/contacts/{id} [put]
func (p *Plugin) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch models.ContactPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		p.writeError(w, err)
		return
	}
	c, err := p.service.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		p.writeError(w, err)
		return
	}
	server.WriteData(w, http.StatusOK, "contact updated", c)
}

// handleDelete removes a contact.
//
//	@Summary		Delete contact
//	@Tags			contacts
//	@Produce		json
//	@Param			id path string true "Contact ID"
//	@Success		200 {object} server.Envelope
//	@Failure		404 {object} server.Envelope
//	@Router			/contacts/{id} [delete]
func (p *Plugin) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := p.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		p.writeError(w, err)
		return
	}
	server.WriteEnvelope(w, http.StatusOK, server.Envelope{Success: true, Message: "contact deleted"})
}

// avatarResponse is the data of a successful avatar upload.
type avatarResponse struct {
	Avatar string `json:"avatar"`
}

// handleUploadAvatar stores an avatar image for a contact.
//
//	@Summary		Upload avatar
//	@Tags			contacts
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			avatar formData file true "JPEG, PNG or WebP image"
//	@Param			id formData string true "Contact ID"
//	@Success		200 {object} server.Envelope
//	@Failure		400 {object} server.Envelope
//	@Failure		404 {object} server.Envelope
//	@Failure		413 {object} server.Envelope
//	@Failure		415 {object} server.Envelope
//	@Router			/contacts/avatar [post]
func (p *Plugin) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	maxBytes := p.avatars.MaxBytes()
	if r.ContentLength > maxBytes+multipartOverhead {
		p.writeError(w, fmt.Errorf("upload exceeds %d bytes: %w", maxBytes, apierr.ErrPayloadTooLarge))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			p.writeError(w, fmt.Errorf("upload exceeds %d bytes: %w", maxBytes, apierr.ErrPayloadTooLarge))
			return
		}
		p.writeError(w, apierr.NewValidation(apierr.FieldError{Field: "avatar", Message: "expected a multipart form"}))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	upload := avatar.File{}
	file, header, err := r.FormFile("avatar")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// Left empty; the manager reports the missing file.
	case err != nil:
		p.writeError(w, apierr.NewValidation(apierr.FieldError{Field: "avatar", Message: "unreadable file"}))
		return
	default:
		defer file.Close()
		// One byte past the limit is enough to report the file as too large.
		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			p.writeError(w, fmt.Errorf("read upload: %v: %w", err, apierr.ErrStorage))
			return
		}
		upload = avatar.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	ref, err := p.avatars.Upload(r.Context(), r.FormValue("id"), upload)
	if err != nil {
		p.writeError(w, err)
		return
	}
	server.WriteData(w, http.StatusOK, "avatar uploaded", avatarResponse{Avatar: ref})
}

// writeError renders err and logs failures that are not the client's fault.
func (p *Plugin) writeError(w http.ResponseWriter, err error) {
	if apierr.StatusCode(err) >= http.StatusInternalServerError {
		p.logger.Error("contacts request failed", zap.Error(err))
	}
	server.WriteError(w, err, p.exposeErrors)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes: %w", maxJSONBody, apierr.ErrPayloadTooLarge)
		}
		return apierr.NewValidation(apierr.FieldError{Message: "invalid JSON body"})
	}
	return nil
}

// intParam parses an optional integer query parameter.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer: %w", raw, apierr.ErrInvalidQuery)
	}
	return n, nil
}
