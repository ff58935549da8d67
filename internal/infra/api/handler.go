// Package api exposes the lending engine over JSON. Handlers are thin: they
// decode input, call one engine operation and translate the error kind to a
// status code.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Spok95/biblio-bot/internal/domain/catalog"
	"github.com/Spok95/biblio-bot/internal/domain/lending"
	"github.com/Spok95/biblio-bot/internal/domain/patrons"
	"github.com/Spok95/biblio-bot/internal/infra/metrics"
)

type Handler struct {
	log    *slog.Logger
	svc    *lending.Service
	items  *catalog.Repo
	people *patrons.Repo
}

// NewHandler mounts the lending routes. items and people are optional; when
// present the seeding routes (item/unit/patron management) come up too.
func NewHandler(log *slog.Logger, svc *lending.Service, items *catalog.Repo, people *patrons.Repo) http.Handler {
	h := &Handler{log: log, svc: svc, items: items, people: people}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/loans", h.borrow)
	mux.HandleFunc("POST /api/loans/{id}/return", h.returnLoan)
	mux.HandleFunc("POST /api/loans/{id}/renew", h.renew)
	mux.HandleFunc("POST /api/holds", h.hold)
	mux.HandleFunc("POST /api/holds/{id}/cancel", h.cancelHold)
	mux.HandleFunc("POST /api/holds/sweep", h.sweepHolds)
	mux.HandleFunc("POST /api/waitlist", h.waitlist)
	mux.HandleFunc("POST /api/waitlist/{id}/cancel", h.cancelWaitlist)
	mux.HandleFunc("POST /api/items/{id}/promote", h.promote)
	mux.HandleFunc("GET /api/fines", h.listFines)
	mux.HandleFunc("POST /api/fines/{loanID}/pay", h.payFine)
	mux.HandleFunc("POST /api/fines/{loanID}/waive", h.waiveFine)
	mux.HandleFunc("POST /api/units/{id}/maintenance", h.maintenance)

	if h.items != nil {
		mux.HandleFunc("POST /api/items", h.createItem)
		mux.HandleFunc("GET /api/items", h.listItems)
		mux.HandleFunc("GET /api/items/{id}", h.getItem)
		mux.HandleFunc("POST /api/items/{id}/units", h.addUnits)
		mux.HandleFunc("GET /api/items/{id}/units", h.listUnits)
		mux.HandleFunc("DELETE /api/units/{id}", h.deleteUnit)
	}
	if h.people != nil {
		mux.HandleFunc("POST /api/patrons", h.upsertPatron)
		mux.HandleFunc("GET /api/patrons", h.listPatrons)
		mux.HandleFunc("GET /api/patrons/{id}", h.getPatron)
	}
	return mux
}

func statusOf(err error) int {
	switch lending.KindOf(err) {
	case lending.KindNotFound:
		return http.StatusNotFound
	case lending.KindConflict:
		return http.StatusConflict
	case lending.KindUnauthorized:
		return http.StatusForbidden
	case lending.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, op string, err error) {
	kind := lending.KindOf(err)
	if kind == lending.KindConflict {
		metrics.Conflicts.WithLabelValues(op).Inc()
	}
	if kind == lending.KindInternal {
		h.log.Error("operation failed", "op", op, "err", err)
	}
	writeJSON(w, statusOf(err), map[string]string{
		"error": string(kind),
		"msg":   errMsg(err),
	})
}

func errMsg(err error) string {
	var le *lending.Error
	if errors.As(err, &le) {
		return le.Msg
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) borrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   int64  `json:"item_id"`
		PatronID int64  `json:"patron_id"`
		StaffID  *int64 `json:"staff_id,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	loan, err := h.svc.Borrow(r.Context(), req.ItemID, req.PatronID, req.StaffID)
	if err != nil {
		h.writeErr(w, "borrow", err)
		return
	}
	metrics.LoansIssued.Inc()
	writeJSON(w, http.StatusCreated, loanBody(*loan))
}

func (h *Handler) returnLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad loan id"})
		return
	}
	var req struct {
		ActingID int64 `json:"acting_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	debt, err := h.svc.Return(r.Context(), id, req.ActingID)
	if err != nil {
		h.writeErr(w, "return", err)
		return
	}
	metrics.LoansReturned.Inc()
	writeJSON(w, http.StatusOK, map[string]int64{"debt_cents": debt})
}

func (h *Handler) renew(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad loan id"})
		return
	}
	var req struct {
		DueAt time.Time `json:"due_at"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	if err := h.svc.Renew(r.Context(), id, req.DueAt); err != nil {
		h.writeErr(w, "renew", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) hold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   int64 `json:"item_id"`
		PatronID int64 `json:"patron_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	hold, err := h.svc.Hold(r.Context(), req.ItemID, req.PatronID)
	if err != nil {
		h.writeErr(w, "hold", err)
		return
	}
	metrics.HoldsPlaced.Inc()
	writeJSON(w, http.StatusCreated, holdBody(*hold))
}

func (h *Handler) cancelHold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad hold id"})
		return
	}
	var req struct {
		ActingID int64 `json:"acting_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	if err := h.svc.CancelHold(r.Context(), id, req.ActingID); err != nil {
		h.writeErr(w, "cancel_hold", err)
		return
	}
	metrics.HoldsReleased.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sweepHolds(w http.ResponseWriter, r *http.Request) {
	released, err := h.svc.SweepExpiredHolds(r.Context())
	if err != nil {
		h.writeErr(w, "sweep_holds", err)
		return
	}
	metrics.HoldsReleased.Add(float64(released))
	writeJSON(w, http.StatusOK, map[string]int{"released": released})
}

func (h *Handler) waitlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   int64 `json:"item_id"`
		PatronID int64 `json:"patron_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	entry, err := h.svc.Waitlist(r.Context(), req.ItemID, req.PatronID)
	if err != nil {
		h.writeErr(w, "waitlist", err)
		return
	}
	writeJSON(w, http.StatusCreated, entryBody(*entry))
}

func (h *Handler) cancelWaitlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad entry id"})
		return
	}
	var req struct {
		ActingID int64 `json:"acting_id"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	if err := h.svc.CancelWaitlist(r.Context(), id, req.ActingID); err != nil {
		h.writeErr(w, "cancel_waitlist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad item id"})
		return
	}
	hold, err := h.svc.PromoteWaitlist(r.Context(), id)
	if err != nil {
		h.writeErr(w, "promote", err)
		return
	}
	metrics.HoldsPlaced.Inc()
	writeJSON(w, http.StatusCreated, holdBody(*hold))
}

func (h *Handler) listFines(w http.ResponseWriter, r *http.Request) {
	var filter lending.FineFilter
	if v := r.URL.Query().Get("patron_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad patron_id"})
			return
		}
		filter.PatronID = id
	}
	if v := r.URL.Query().Get("loan_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad loan_id"})
			return
		}
		filter.LoanID = id
	}
	fines, err := h.svc.ListFines(r.Context(), filter)
	if err != nil {
		h.writeErr(w, "list_fines", err)
		return
	}
	out := make([]map[string]any, 0, len(fines))
	for _, f := range fines {
		out = append(out, fineBody(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) payFine(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r, "loanID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad loan id"})
		return
	}
	var req struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	balance, paid, err := h.svc.PayFine(r.Context(), loanID, req.AmountCents)
	if err != nil {
		h.writeErr(w, "pay_fine", err)
		return
	}
	metrics.FinePayments.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"balance_cents": balance, "paid_in_full": paid})
}

func (h *Handler) waiveFine(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r, "loanID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad loan id"})
		return
	}
	if err := h.svc.WaiveFine(r.Context(), loanID); err != nil {
		h.writeErr(w, "waive_fine", err)
		return
	}
	metrics.FinesWaived.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) maintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad unit id"})
		return
	}
	var req struct {
		On bool `json:"on"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "msg": "bad json"})
		return
	}
	if err := h.svc.SetMaintenance(r.Context(), id, req.On); err != nil {
		h.writeErr(w, "maintenance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func loanBody(l lending.Loan) map[string]any {
	return map[string]any{
		"id":          l.ID,
		"patron_id":   l.PatronID,
		"unit_id":     l.UnitID,
		"item_id":     l.ItemID,
		"borrowed_at": l.BorrowedAt,
		"due_at":      l.DueAt,
	}
}

func holdBody(h lending.Hold) map[string]any {
	return map[string]any{
		"id":         h.ID,
		"patron_id":  h.PatronID,
		"unit_id":    h.UnitID,
		"item_id":    h.ItemID,
		"held_at":    h.HeldAt,
		"expires_at": h.ExpiresAt,
	}
}

func entryBody(e lending.WaitlistEntry) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"patron_id": e.PatronID,
		"item_id":   e.ItemID,
		"queued_at": e.QueuedAt,
	}
}

func fineBody(f lending.Fine) map[string]any {
	return map[string]any{
		"id":               f.ID,
		"loan_id":          f.LoanID,
		"patron_id":        f.PatronID,
		"amount_due_cents": f.AmountDueCents,
		"paid_cents":       f.PaidCents,
		"paid":             f.Paid,
	}
}
