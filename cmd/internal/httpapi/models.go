package httpapi

import (
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/order"
)

type lineRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items           []lineRequest `json:"items"`
	ShippingAddress string        `json:"shippingAddress"`
	ContactInfo     string        `json:"contactInfo"`
	InvitationCode  string        `json:"invitationCode"`
	RequestID       string        `json:"requestId,omitempty"`
}

type setStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type createBatchRequest struct {
	Name     string    `json:"name"`
	Deadline time.Time `json:"deadline"`
}

type issueCredentialsRequest struct {
	Count             int      `json:"count"`
	MaxOrders         int      `json:"maxOrders"`
	MaxItemsPerOrder  int      `json:"maxItemsPerOrder"`
	AllowedVariantIDs []string `json:"allowedVariantIds"`
}

type createVariantRequest struct {
	ProductID        string `json:"productId"`
	Specification    string `json:"specification"`
	Stock            int    `json:"stock"`
	MaxOrderQuantity int    `json:"maxOrderQuantity"`
	PriceCents       int64  `json:"priceCents"`
}

type restockRequest struct {
	Delta int `json:"delta"`
}

type verificationIssueRequest struct {
	Email string `json:"email"`
}

type verificationVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type lineResponse struct {
	ID                string  `json:"id"`
	Position          int     `json:"position"`
	VariantID         string  `json:"variantId"`
	Quantity          int     `json:"quantity"`
	Status            string  `json:"status"`
	ProductionBatchID *string `json:"productionBatchId,omitempty"`
}

type statusEntryResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	CredentialID    string                `json:"invitationCodeId"`
	ShippingAddress string                `json:"shippingAddress"`
	ContactInfo     string                `json:"contactInfo"`
	Status          string                `json:"status"`
	RequestID       string                `json:"requestId,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	Items           []lineResponse        `json:"items"`
	StatusHistory   []statusEntryResponse `json:"statusHistory,omitempty"`
}

type orderEnvelope struct {
	Order orderResponse `json:"order"`
}

type ordersEnvelope struct {
	Orders []orderResponse `json:"orders"`
}

type historyEnvelope struct {
	StatusHistory []statusEntryResponse `json:"statusHistory"`
}

type batchResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Deadline  time.Time `json:"deadline"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type credentialResponse struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	BatchID           string    `json:"batchId"`
	MaxOrders         int       `json:"maxOrders"`
	MaxItemsPerOrder  int       `json:"maxItemsPerOrder"`
	AllowedVariantIDs []string  `json:"allowedVariantIds"`
	Status            string    `json:"status"`
	UsedOrders        int       `json:"usedOrders"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type credentialsEnvelope struct {
	Credentials []credentialResponse `json:"credentials"`
}

type refreshResponse struct {
	ExpiredCredentials int `json:"expiredCredentials"`
	UsedUpCredentials  int `json:"usedUpCredentials"`
	ExpiredBatches     int `json:"expiredBatches"`
}

type variantResponse struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"productId"`
	Specification    string    `json:"specification"`
	Stock            int       `json:"stock"`
	MaxOrderQuantity int       `json:"maxOrderQuantity"`
	PriceCents       int64     `json:"priceCents"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type variantsEnvelope struct {
	Variants []variantResponse `json:"variants"`
}

type verificationIssuedResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func toOrderResponse(o order.Order) orderResponse {
	out := orderResponse{
		ID:              o.ID,
		UserID:          o.OwnerID,
		CredentialID:    o.CredentialID,
		ShippingAddress: o.ShippingAddress,
		ContactInfo:     o.ContactInfo,
		Status:          string(o.Status),
		RequestID:       o.RequestID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]lineResponse, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		out.Items = append(out.Items, lineResponse{
			ID:                l.ID,
			Position:          l.Position,
			VariantID:         l.VariantID,
			Quantity:          l.Quantity,
			Status:            string(l.Status),
			ProductionBatchID: l.ProductionBatchID,
		})
	}
	if len(o.History) > 0 {
		out.StatusHistory = toHistory(o.History)
	}
	return out
}

func toOrderList(orders []order.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toHistory(entries []order.StatusEntry) []statusEntryResponse {
	out := make([]statusEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusEntryResponse{Status: string(e.Status), Message: e.Message, CreatedAt: e.CreatedAt})
	}
	return out
}

func toBatchResponse(b ledger.Batch) batchResponse {
	return batchResponse{ID: b.ID, Name: b.Name, Deadline: b.Deadline, Status: string(b.Status), CreatedAt: b.CreatedAt}
}

func toCredentialResponse(c ledger.Credential) credentialResponse {
	allowed := c.AllowedVariantIDs
	if allowed == nil {
		allowed = []string{}
	}
	return credentialResponse{
		ID:                c.ID,
		Code:              c.Code,
		BatchID:           c.BatchID,
		MaxOrders:         c.MaxOrders,
		MaxItemsPerOrder:  c.MaxItemsPerOrder,
		AllowedVariantIDs: allowed,
		Status:            string(c.Status),
		UsedOrders:        c.UsedOrders,
		ExpiresAt:         c.BatchDeadline,
	}
}

func toVariantResponse(v inventory.Variant) variantResponse {
	return variantResponse{
		ID:               v.ID,
		ProductID:        v.ProductID,
		Specification:    v.Specification,
		Stock:            v.Stock,
		MaxOrderQuantity: v.MaxOrderQuantity,
		PriceCents:       v.PriceCents,
		UpdatedAt:        v.UpdatedAt,
	}
}
