package main

import (
	"mime"
	"net/http"
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
	"github.com/metadeploy/metadeploy-go/internal/platform/objectstore"
)

var imageExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/svg+xml": ".svg",
	"image/webp":    ".webp",
}

// handleUploadImage stores the raw request body in the object store and
// points the product at the stored object.
func (api *adminAPI) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if api.images == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "image_store_unavailable")
		return
	}
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(contentType, "image/") {
		httpserver.WriteError(w, r, http.StatusUnsupportedMediaType, "unsupported_media_type")
		return
	}
	p, err := api.stores.Products.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		filename = "image" + imageExtensions[contentType]
	}
	key := objectstore.ImageKey(p.ID, filename)
	imageURL, err := api.images.PutImage(r.Context(), key, r.Body, r.ContentLength, contentType)
	if err != nil {
		api.logger.Error("image upload failed", "product_id", p.ID, "key", key, "error", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "image_upload_failed")
		return
	}
	if err := api.stores.Products.SetImage(r.Context(), p.ID, imageURL); err != nil {
		api.writeError(w, r, err)
		return
	}
	p.Image = imageURL
	api.recordChange(r, "admin.product.image", "product", p.ID)
	httpserver.WriteJSON(w, http.StatusOK, api.productView(r, p))
}
