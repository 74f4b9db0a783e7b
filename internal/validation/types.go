package validation

// AddItemRequest is the payload for POST /cart/items.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  *int   `json:"quantity,omitempty" validate:"omitempty,min=1"` // defaults to 1
}

// Delta returns the requested quantity, 1 when omitted.
func (r AddItemRequest) Delta() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

// SetQuantityRequest is the payload for PUT /cart/items/:productID.
// Values below 1 are accepted and ignored by the cart.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// ConfirmRequest is the payload for POST /checkout/review/:reviewID/confirm.
type ConfirmRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=card cod"`
}

// ProductRequest is the payload for PUT /admin/products/:id.
type ProductRequest struct {
	Name     string `json:"name" validate:"required"`
	Price    string `json:"price" validate:"required,price"` // textual, e.g. "45.50"
	ImageURL string `json:"image_url,omitempty" validate:"omitempty,url"`
	Stock    int    `json:"stock" validate:"min=0"`
}

// ProfileRequest is the payload for PUT /me. Omitted fields are unchanged.
type ProfileRequest struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// AdminProfileRequest is the payload for PUT /admin/users/:uid.
type AdminProfileRequest struct {
	ProfileRequest
	Role *string `json:"role,omitempty" validate:"omitempty,oneof=customer admin"`
}
