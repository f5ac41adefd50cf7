// upload.go — обработчик POST /api/upload.
// Два формата тела:
//   - multipart/form-data: file, slug, viewOnce, mimeType (необязательно)
//   - application/json: ссылка на заранее загруженный объект
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/api/generated"
	"github.com/bigkaa/flashdrop/internal/service"
)

const (
	// multipartOverhead — запас на служебные поля multipart сверх лимита файла.
	multipartOverhead = 1 << 20
	// multipartMemory — часть формы, хранимая в памяти (остальное во временных файлах).
	multipartMemory = 8 << 20
)

func (h *APIHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный заголовок Content-Type")
		return
	}

	var params service.UploadParams
	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeFileTooLarge,
					"Размер запроса превышает допустимый")
				return
			}
			apierrors.ValidationError(w, "Некорректное тело multipart-запроса")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		params, err = multipartParams(r)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		if c, ok := params.Reader.(interface{ Close() error }); ok {
			defer c.Close()
		}

	case "application/json":
		var req generated.UploadJSONRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
			return
		}
		params = jsonParams(&req)

	default:
		apierrors.ValidationError(w, "Content-Type должен быть multipart/form-data или application/json")
		return
	}

	result, err := h.uploader.Upload(r.Context(), params)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generated.UploadResponse{
		Success: true,
		Slug:    result.Content.Slug,
	})
}

// multipartParams извлекает параметры загрузки из разобранной формы.
// Отсутствие файла не ошибка: сервис ответит кодом NO_CONTENT.
func multipartParams(r *http.Request) (service.UploadParams, error) {
	params := service.UploadParams{
		Slug:     strings.TrimSpace(r.FormValue("slug")),
		MimeType: r.FormValue("mimeType"),
	}

	if v := strings.TrimSpace(r.FormValue("viewOnce")); v != "" {
		viewOnce, err := strconv.ParseBool(v)
		if err != nil {
			return params, errors.New("Поле viewOnce должно быть true или false")
		}
		params.ViewOnce = viewOnce
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return params, nil
		}
		return params, errors.New("Некорректное поле file")
	}
	params.Reader = file
	params.Size = header.Size
	if params.MimeType == "" {
		params.MimeType = header.Header.Get("Content-Type")
	}
	return params, nil
}

func jsonParams(req *generated.UploadJSONRequest) service.UploadParams {
	params := service.UploadParams{
		URL:      req.Url,
		MimeType: req.MimeType,
		Size:     req.Size,
	}
	if req.Slug != nil {
		params.Slug = strings.TrimSpace(*req.Slug)
	}
	if req.MediaType != nil {
		params.MediaType = string(*req.MediaType)
	}
	if req.ViewOnce != nil {
		params.ViewOnce = *req.ViewOnce
	}
	return params
}

// writeUploadError отображает ошибку сервиса загрузок в HTTP-ответ.
func (h *APIHandler) writeUploadError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		apierrors.WriteError(w, http.StatusBadRequest, ve.Code, ve.Message)
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Slug уже используется")
	default:
		h.logger.Error("Ошибка загрузки контента", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось сохранить контент")
	}
}
