package api

import (
	"net/http"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
)

// Seeding surface: enough catalog/patron CRUD to stock a running instance.
// Only mounted when the repos are present (main passes nil in memory setups).

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind   string `json:"kind"`
		Title  string `json:"title"`
		Author string `json:"author"`
	}
	if err := decode(r, &req); err != nil || req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "kind and title are required"})
		return
	}
	item, err := h.items.CreateItem(r.Context(), catalog.ItemKind(req.Kind), req.Title, req.Author)
	if err != nil {
		h.log.Error("item create failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, itemBody(*item))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.ListItems(r.Context())
	if err != nil {
		h.log.Error("item list failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, itemBody(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad item id"})
		return
	}
	var req struct {
		Barcodes []string `json:"barcodes"`
	}
	if err := decode(r, &req); err != nil || len(req.Barcodes) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "barcodes are required"})
		return
	}
	units, err := h.items.AddUnits(r.Context(), id, req.Barcodes)
	if err != nil {
		h.log.Error("unit add failed", "item_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	out := make([]map[string]any, 0, len(units))
	for _, u := range units {
		out = append(out, unitBody(u))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad item id"})
		return
	}
	item, err := h.items.GetItem(r.Context(), id)
	if err != nil {
		h.log.Error("item lookup failed", "item_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "msg": "item not found"})
		return
	}
	writeJSON(w, http.StatusOK, itemBody(*item))
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad item id"})
		return
	}
	units, err := h.items.UnitsOf(r.Context(), id)
	if err != nil {
		h.log.Error("unit list failed", "item_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	out := make([]map[string]any, 0, len(units))
	for _, u := range units {
		out = append(out, unitBody(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// deleteUnit refuses copies with loan history; those stay for audit.
func (h *Handler) deleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad unit id"})
		return
	}
	deleted, err := h.items.DeleteUnit(r.Context(), id)
	if err != nil {
		h.log.Error("unit delete failed", "unit_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	if !deleted {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "msg": "unit is in use or has loan history"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) upsertPatron(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	}
	if err := decode(r, &req); err != nil || req.Email == "" || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "email and role are required"})
		return
	}
	p, err := h.people.Upsert(r.Context(), req.FullName, req.Email, patrons.Role(req.Role))
	if err != nil {
		h.log.Error("patron upsert failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, patronBody(*p))
}

func (h *Handler) listPatrons(w http.ResponseWriter, r *http.Request) {
	people, err := h.people.List(r.Context())
	if err != nil {
		h.log.Error("patron list failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	out := make([]map[string]any, 0, len(people))
	for _, p := range people {
		out = append(out, patronBody(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getPatron(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad patron id"})
		return
	}
	p, err := h.people.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error("patron lookup failed", "patron_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "msg": "internal error"})
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "msg": "patron not found"})
		return
	}
	writeJSON(w, http.StatusOK, patronBody(*p))
}

func itemBody(i catalog.Item) map[string]any {
	return map[string]any{
		"id":     i.ID,
		"kind":   i.Kind,
		"title":  i.DisplayTitle(),
		"active": i.Active,
	}
}

func unitBody(u catalog.Unit) map[string]any {
	return map[string]any{
		"id":      u.ID,
		"item_id": u.ItemID,
		"barcode": u.Barcode,
		"state":   u.State,
	}
}

func patronBody(p patrons.Patron) map[string]any {
	return map[string]any{
		"id":        p.ID,
		"full_name": p.FullName,
		"email":     p.Email,
		"role":      p.Role,
	}
}
