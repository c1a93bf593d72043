package model

// Product is the catalog view the negotiation core needs when a buyer
// references a listed product.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit,omitempty"`
	VendorID string `json:"vendor_id,omitempty"`
}
