package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/cart-pricing/internal/common"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type addItemRequest struct {
	ProductID     string  `json:"productId" validate:"required"`
	Quantity      int     `json:"quantity" validate:"required,min=1"`
	VariationID   *string `json:"variationId"`
	VariationName *string `json:"variationName" validate:"omitempty,max=255"`
	Referrer      *string `json:"referrer" validate:"omitempty,max=255"`
}

type comboChildRequest struct {
	ProductID   string  `json:"productId" validate:"required"`
	VariationID *string `json:"variationId"`
}

type addComboRequest struct {
	Quantity      int                 `json:"quantity" validate:"required,min=1"`
	MainProductID string              `json:"mainProductId" validate:"required"`
	Children      []comboChildRequest `json:"children" validate:"dive"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

// Routes mounts the cart endpoints. Mutations are wrapped by mw.
func (h *Handler) Routes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Get("/", h.Get)
	r.Group(func(r chi.Router) {
		r.Use(mw...)
		r.Post("/items", h.AddItem)
		r.Post("/combos", h.AddCombo)
		r.Patch("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
	})
}

// Get returns the caller's cart, repricing it when it has been modified.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.GetCart(r.Context(), uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// AddItem adds a simple product line or merges into a matching one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	var payload addItemRequest
	if !h.decode(w, r, &payload) {
		return
	}
	item, summary, err := h.Svc.AddToCart(r.Context(), uid, AddItemInput{
		ProductID:     payload.ProductID,
		Quantity:      payload.Quantity,
		VariationID:   payload.VariationID,
		VariationName: payload.VariationName,
		Referrer:      payload.Referrer,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, map[string]any{"item": item, "summary": summary})
}

// AddCombo adds a combo line priced from its main product.
func (h *Handler) AddCombo(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	var payload addComboRequest
	if !h.decode(w, r, &payload) {
		return
	}
	in := AddComboInput{
		Quantity:      payload.Quantity,
		MainProductID: payload.MainProductID,
		Children:      make([]ComboChildInput, 0, len(payload.Children)),
	}
	for _, c := range payload.Children {
		in.Children = append(in.Children, ComboChildInput{ProductID: c.ProductID, VariationID: c.VariationID})
	}
	item, summary, err := h.Svc.AddCombo(r.Context(), uid, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, map[string]any{"item": item, "summary": summary})
}

// UpdateItem sets the quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	var payload updateQuantityRequest
	if !h.decode(w, r, &payload) {
		return
	}
	item, summary, err := h.Svc.UpdateQuantity(r.Context(), uid, chi.URLParam(r, "itemId"), payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"item": item, "summary": summary})
}

// RemoveItem deletes a line from the caller's cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.caller(w, r)
	if !ok {
		return
	}
	summary, err := h.Svc.RemoveItem(r.Context(), uid, chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cart service not configured", nil)
		return "", false
	}
	uid, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return "", false
	}
	return uid, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return false
	}
	if h.Validate == nil {
		return true
	}
	if err := h.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "validation failed", fields)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err, http.StatusBadRequest) {
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrVariationNotFound), errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	default:
		h.Svc.logger().Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "internal error", nil)
	}
}
